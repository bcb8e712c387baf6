//go:build windows

package transport

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

// winsockVersion 请求的 Winsock 版本 2.2
const winsockVersion = uint32(0x0202)

// platformState 保存 WSAStartup 协商结果
type platformState struct {
	started bool
	wsa     windows.WSAData
}

func platformStartup() (platformState, error) {
	var st platformState
	if err := windows.WSAStartup(winsockVersion, &st.wsa); err != nil {
		return platformState{}, fmt.Errorf("WSAStartup: %w", err)
	}
	st.started = true
	return st, nil
}

func platformShutdown(st platformState) error {
	if !st.started {
		return nil
	}
	if err := windows.WSACleanup(); err != nil {
		return fmt.Errorf("WSACleanup: %w", err)
	}
	return nil
}

func (s platformState) fields() []zap.Field {
	return []zap.Field{
		zap.Uint16("winsock_version", s.wsa.Version),
		zap.Uint16("winsock_high_version", s.wsa.HighVersion),
	}
}
