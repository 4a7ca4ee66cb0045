//go:build !linux

package rft

import (
	"net"

	"github.com/go-logr/logr"
)

const (
	socketRecvBufferSize = 2 * 1024 * 1024
	socketSendBufferSize = 2 * 1024 * 1024
)

// systemSetupUDPSocket on non-Linux platforms only sizes the socket
// buffers; the DF/path-MTU tuning in socket_linux.go is Linux-specific in
// the teacher codebase too (split across udp_linux.go/udp_darwin.go).
func systemSetupUDPSocket(conn *net.UDPConn, logger logr.Logger) error {
	if err := conn.SetReadBuffer(socketRecvBufferSize); err != nil {
		logger.Info("could not set UDP read buffer size", "error", err.Error())
	}
	if err := conn.SetWriteBuffer(socketSendBufferSize); err != nil {
		logger.Info("could not set UDP write buffer size", "error", err.Error())
	}
	return nil
}
