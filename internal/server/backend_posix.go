//go:build linux || darwin || freebsd || netbsd || openbsd

package server

import (
	"github.com/qiminjie89/chanswitch/pkg/transport"
	"github.com/qiminjie89/chanswitch/pkg/transport/posix"
)

func newPosixSwitch(rt *transport.Runtime, addr string) (*transport.Switch, error) {
	return posix.NewSwitch(rt, addr)
}
