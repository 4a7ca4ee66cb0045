package rft

import (
	"net"
	"time"

	"github.com/go-logr/logr"
)

// recvPollTimeout bounds how long one recvNonBlocking call waits: the read
// deadline is set this far in the future, so a queued datagram is read at
// once and an idle socket returns os.ErrDeadlineExceeded after at most this
// long. This is this codebase's substitute for the source's zero-timeout
// poll/select (spec.md §4.6 step 2, and the Design Notes' "Busy polling"
// entry). A deadline already in the past is not used, because Go then
// reports the timeout without attempting the read at all.
const recvPollTimeout = time.Millisecond

// socket wraps a UDP PacketConn with the recv/send primitives the core
// state machine needs: a non-blocking poll-and-read and a plain send.
type socket struct {
	conn   *net.UDPConn
	logger logr.Logger
}

// newSocket opens (bind) and best-effort-tunes a UDP endpoint at laddr,
// which may be "" (ephemeral port, for a client) or ":<port>" (for a
// server, per spec.md §6's "binds INADDR_ANY:portNum").
func newSocket(laddr string, logger logr.Logger) (*socket, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, wrapClass(ClassHostLookup, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, wrapClass(ClassBind, err)
	}
	s := &socket{conn: conn, logger: logger}
	if err := systemSetupUDPSocket(conn, logger); err != nil {
		// Best-effort only; never fatal (spec.md §7 reserves fatal exits
		// for socket-open/bind/listen, not option tuning).
		logger.Info("could not apply platform-specific socket options", "error", err.Error())
	}
	return s, nil
}

// recvNonBlocking implements spec.md §4.6 step 2-3: poll with a timeout of
// at most recvPollTimeout and, if a datagram is ready, read and return it.
// ok is false when nothing was ready (the "return 0, no event" case); err is
// non-nil only for a genuine read failure.
func (s *socket) recvNonBlocking(buf []byte) (n int, addr *net.UDPAddr, ok bool, err error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(recvPollTimeout)); err != nil {
		return 0, nil, false, wrapClass(ClassSelect, err)
	}
	n, addr, err = s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return 0, nil, false, nil
		}
		return 0, nil, false, wrapClass(ClassRecv, err)
	}
	return n, addr, true, nil
}

// send transmits buf to addr. Per-datagram send failures are the caller's
// responsibility to log and ignore (spec.md §7): this just reports them.
func (s *socket) send(buf []byte, addr *net.UDPAddr) error {
	if err := s.conn.SetWriteDeadline(time.Time{}); err != nil {
		return wrapClass(ClassSend, err)
	}
	_, err := s.conn.WriteToUDP(buf, addr)
	if err != nil {
		return wrapClass(ClassSend, err)
	}
	return nil
}

func (s *socket) localAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *socket) close() error {
	if err := s.conn.Close(); err != nil {
		return wrapClass(ClassClose, err)
	}
	return nil
}
