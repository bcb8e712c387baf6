//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package server

import (
	"errors"

	"github.com/qiminjie89/chanswitch/pkg/transport"
)

func newPosixSwitch(*transport.Runtime, string) (*transport.Switch, error) {
	return nil, errors.New("posix backend is not available on this platform")
}
