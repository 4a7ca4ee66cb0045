//go:build linux

package rft

import (
	"net"
	"syscall"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// socketRecvBufferSize / socketSendBufferSize ask the kernel for a couple of
// megabytes of socket buffer, matching utp_file/udp_h.go's MakeSocket.
const (
	socketRecvBufferSize = 2 * 1024 * 1024
	socketSendBufferSize = 2 * 1024 * 1024
)

// systemSetupUDPSocket applies the platform-specific best-effort options
// the teacher's udp_linux.go applies: path MTU discovery (forces the
// don't-fragment bit) and extended error reporting, plus generous socket
// buffers. None of these failing is fatal; this protocol has no
// fragmentation support beyond MaxPacket regardless (spec.md §1 Non-goals),
// so DF is purely a best-effort optimization, not a correctness dependency.
func systemSetupUDPSocket(conn *net.UDPConn, logger logr.Logger) error {
	if err := conn.SetReadBuffer(socketRecvBufferSize); err != nil {
		logger.Info("could not set UDP read buffer size", "error", err.Error())
	}
	if err := conn.SetWriteBuffer(socketSendBufferSize); err != nil {
		logger.Info("could not set UDP write buffer size", "error", err.Error())
	}

	sc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setupErr error
	callErr := sc.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); err != nil {
			setupErr = err
			return
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_RECVERR, 1); err != nil {
			setupErr = err
			return
		}
	})
	if callErr != nil {
		return callErr
	}
	if setupErr != nil {
		logger.Info("could not apply IP_MTU_DISCOVER/IP_RECVERR to UDP socket", "error", setupErr.Error())
	}
	return nil
}
