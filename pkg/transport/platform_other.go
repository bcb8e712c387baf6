//go:build !unix && !windows

package transport

import "go.uber.org/zap"

type platformState struct{}

func platformStartup() (platformState, error) {
	return platformState{}, nil
}

func platformShutdown(platformState) error {
	return nil
}

func (platformState) fields() []zap.Field {
	return nil
}
