// Package rft implements the core of a reliable, ordered,
// connection-oriented byte-stream file transfer protocol over UDP: a fixed
// sliding window sender, per-packet retransmission, in-order reassembly
// with out-of-window duplicate detection, and a 16-bit modular sequence
// space. See spec.md for the protocol this package implements and
// SPEC_FULL.md for the full requirements, including the ambient and domain
// stack this implementation carries.
package rft

import (
	"net"
	"time"

	"github.com/go-logr/logr"

	"github.com/btlabs/rft/ring"
)

// State is a connection's position in the lifecycle of spec.md §4.8.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateCloseWait
	StateFinWait
	StateLastAck
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateFinWait:
		return "FIN_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

// Event classifies what Update just observed, per spec.md §4.6.
type Event int

const (
	EventNone Event = iota
	EventSYN
	EventSYNACK
	EventACK
	EventRQST
	EventDATA
	EventFIN
	EventFINACK
	EventDropped
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventSYN:
		return "SYN"
	case EventSYNACK:
		return "SYNACK"
	case EventACK:
		return "ACK"
	case EventRQST:
		return "RQST"
	case EventDATA:
		return "DATA"
	case EventFIN:
		return "FIN"
	case EventFINACK:
		return "FINACK"
	case EventDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// Config overrides the protocol's default policy knobs. The wire format
// itself (MaxPacket, MaxSeq, MSS) is not configurable; see SPEC_FULL.md §7.1.
type Config struct {
	// Window is the fixed sender-side cap on bytes outstanding.
	Window int
	// RTO is the per-packet retransmission timeout.
	RTO time.Duration
	// Backlog is the number of pending connections a listener will hold
	// before silently dropping further SYNs.
	Backlog int
	// Logger receives Infof/Debugf/Errorf-shaped diagnostics.
	Logger CompatibleLogger
	// SetupLogger receives structured (logr-shaped) diagnostics from
	// socket-level setup, distinct from the per-connection CompatibleLogger
	// above; see SPEC_FULL.md §10.
	SetupLogger logr.Logger
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = Window
	}
	if c.RTO <= 0 {
		c.RTO = DefaultRTO
	}
	if c.Backlog <= 0 {
		c.Backlog = 4
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	return c
}

type pendingConn struct {
	addr *net.UDPAddr
	seq  uint16
}

// synTimer tracks the handshake packet's own retransmission, kept separate
// from the data retransmitQueue per spec.md §4.4's "dedicated syn_index."
type synTimer struct {
	packet   *Packet
	resendAt time.Time
	acked    bool
}

// Connection is the single state-bearing object described in spec.md §2: it
// owns one UDP endpoint, drives the protocol through repeated calls to
// Update, and is not safe to share across goroutines (spec.md §5).
type Connection struct {
	cfg  Config
	sock *socket
	log  CompatibleLogger

	state      State
	isListener bool
	peerAddr   *net.UDPAddr

	backlog *ring.Ring[pendingConn]

	send        *sender
	recv        *receiver
	receivedFin bool

	ourSeq    uint16
	peerSeq   uint16
	synOut    *synTimer
	rqst      []byte
	finSentAt time.Time
}

// Listen opens a listening UDP endpoint bound to laddr (e.g. ":9000") and
// returns a Connection in StateListen, ready to Accept a single peer.
func Listen(laddr string, cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()
	sock, err := newSocket(laddr, cfg.SetupLogger)
	if err != nil {
		return nil, err
	}
	return &Connection{
		cfg:        cfg,
		sock:       sock,
		log:        cfg.Logger,
		state:      StateListen,
		isListener: true,
		backlog:    ring.New[pendingConn](cfg.Backlog),
	}, nil
}

// NewClient opens an unconnected UDP endpoint on an ephemeral local port,
// ready for Connect.
func NewClient(cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()
	sock, err := newSocket(":0", cfg.SetupLogger)
	if err != nil {
		return nil, err
	}
	return &Connection{
		cfg:   cfg,
		sock:  sock,
		log:   cfg.Logger,
		state: StateClosed,
	}, nil
}

// LocalAddr returns the UDP address this connection is bound to.
func (c *Connection) LocalAddr() *net.UDPAddr { return c.sock.localAddr() }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// addrEqual reports whether the datagram source a is the peer b. A peer
// with an unspecified IP (a wildcard listener's LocalAddr, e.g. "[::]:9000")
// matches a source with the same port on any IP, since replies to such an
// address arrive from a concrete address such as ::1.
func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && (b.IP.IsUnspecified() || a.IP.Equal(b.IP))
}

// transmit encodes and writes pkt to the current peer. Per-datagram send
// failures are logged and swallowed (spec.md §7): the packet, if queued,
// stays queued and will be retried by the retransmit sweep.
func (c *Connection) transmit(pkt *Packet) error {
	buf, err := pkt.Encode()
	if err != nil {
		return err
	}
	if err := c.sock.send(buf, c.peerAddr); err != nil {
		c.log.Errorf("sendto failed for seq=%d flags=%s: %v", pkt.Header.Seq, pkt.Header.Flags, err)
		return nil
	}
	return nil
}

// sendPureACK builds and transmits a bare ACK (optionally ACK|FIN) echoing
// the peer's seq, per spec.md §4.6.
func (c *Connection) sendPureACK(flags Flags, echoSeq uint16) {
	pkt := &Packet{Header: Header{Seq: echoSeq, Flags: flags}}
	if c.send != nil {
		_ = c.send.send(time.Now(), pkt, c.transmit)
	} else {
		_ = c.transmit(pkt)
	}
}

// sendSYN transmits a handshake packet (SYN, or SYN|ACK when synack) with a
// fresh random seq and arms its dedicated resend timer.
func (c *Connection) sendSYN(now time.Time, synack bool) {
	c.ourSeq = randomSeq()
	flags := FlagSYN
	if synack {
		flags |= FlagACK
	}
	pkt := &Packet{Header: Header{Seq: c.ourSeq, Flags: flags}}
	c.synOut = &synTimer{packet: pkt, resendAt: now.Add(c.cfg.RTO)}
	_ = c.transmit(pkt)
}

// resendSYNIfDue implements the SYN side of spec.md §4.4's resend(now) for
// the handshake packet, kept outside the data retransmitQueue.
func (c *Connection) resendSYNIfDue(now time.Time) {
	if c.synOut == nil || c.synOut.acked {
		return
	}
	if now.Before(c.synOut.resendAt) {
		return
	}
	_ = c.transmit(c.synOut.packet)
	c.synOut.resendAt = now.Add(c.cfg.RTO)
}

func (c *Connection) ackSYN() {
	if c.synOut != nil {
		c.synOut.acked = true
	}
}

// Update is the non-blocking event-dispatch step of spec.md §4.6: it runs
// the retransmit sweep, polls the socket once, and, if a datagram was ready,
// decodes and dispatches it. It waits at most recvPollTimeout for a
// datagram.
func (c *Connection) Update(now time.Time) (Event, error) {
	if c.send != nil {
		c.send.resend(now, func(pkt *Packet) { _ = c.transmit(pkt) })
	}
	c.resendSYNIfDue(now)

	buf := make([]byte, MaxPacket)
	n, addr, ok, err := c.sock.recvNonBlocking(buf)
	if err != nil {
		return EventNone, err
	}
	if !ok {
		return EventNone, nil
	}
	pkt, err := Decode(buf[:n])
	if err != nil {
		c.log.Errorf("dropping malformed datagram from %s: %v", addr, err)
		return EventDropped, nil
	}
	return c.dispatch(now, pkt, addr)
}

func (c *Connection) dispatch(now time.Time, pkt *Packet, addr *net.UDPAddr) (Event, error) {
	f := pkt.Header.Flags

	if f == FlagSYN {
		if c.isListener && c.peerAddr == nil {
			if !c.backlog.IsFull() {
				_, _ = c.backlog.Push(pendingConn{addr: addr, seq: pkt.Header.Seq})
			} else {
				c.log.Infof("backlog full, dropping SYN from %s", addr)
			}
			return EventSYN, nil
		}
		return EventDropped, nil
	}

	if !addrEqual(addr, c.peerAddr) {
		return EventDropped, nil
	}

	switch {
	case f == FlagSYN|FlagACK:
		c.ackSYN()
		c.sendPureACK(FlagACK, pkt.Header.Seq)
		c.advanceState(EventSYNACK)
		return EventSYNACK, nil

	case f.Has(FlagACK):
		c.send.ack(pkt.Header.Seq)
		if f.Has(FlagFIN) {
			c.advanceState(EventFINACK)
			return EventFINACK, nil
		}
		c.advanceState(EventACK)
		return EventACK, nil

	case f == FlagFIN:
		c.receivedFin = true
		c.sendPureACK(FlagACK|FlagFIN, pkt.Header.Seq)
		c.advanceState(EventFIN)
		return EventFIN, nil

	default:
		// Data-bearing: may include RQST, FIRST, LAST, or none of those.
		c.sendPureACK(FlagACK, pkt.Header.Seq)
		if f.Has(FlagRQST) {
			c.rqst = pkt.Payload
			c.advanceState(EventRQST)
			return EventRQST, nil
		}
		if c.recv == nil {
			// A connection with no receiver installed (e.g. a server
			// connection, which never calls RecvFile) has nothing to
			// reassemble into; a stray data-shaped datagram is dropped
			// rather than dereferenced.
			return EventDropped, nil
		}
		if c.recv.suppressDuplicate(pkt.Header.Seq) {
			return EventNone, nil
		}
		if err := c.recv.accept(pkt.Header.Seq, pkt.Payload, f); err != nil {
			return EventNone, err
		}
		return EventDATA, nil
	}
}

// advanceState applies the lifecycle transitions of spec.md §4.8 that are
// implied unambiguously by the event itself, independent of which
// high-level operation is driving Update.
func (c *Connection) advanceState(ev Event) {
	switch ev {
	case EventSYNACK:
		if c.state == StateSynSent {
			c.state = StateEstablished
		}
	case EventRQST:
		if c.state == StateSynRcvd {
			c.state = StateEstablished
		}
	case EventFIN:
		if c.state == StateEstablished {
			c.state = StateCloseWait
		}
	case EventFINACK:
		if c.state == StateLastAck {
			c.state = StateClosed
		}
	}
}

// closeSocket releases the underlying UDP socket. It does not run the
// teardown handshake; use WaitAndClose (client.go) or Close (server.go) for
// that.
func (c *Connection) closeSocket() error {
	return c.sock.close()
}
