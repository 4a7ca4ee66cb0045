package rft

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// Connect implements spec.md §4.9's connect(addr): set the peer, send a SYN
// with a random seq, and spin on Update until the SYNACK arrives.
func (c *Connection) Connect(ctx context.Context, raddr *net.UDPAddr) error {
	c.peerAddr = raddr
	c.state = StateSynSent
	now := time.Now()
	c.sendSYN(now, false)
	c.send = newSender(Add(c.ourSeq, HeaderSize), c.cfg.Window, c.cfg.RTO)

	err := spinUntil(ctx, func() (bool, error) {
		ev, err := c.Update(time.Now())
		if err != nil {
			return false, err
		}
		return ev == EventSYNACK, nil
	})
	if err != nil {
		return wrapClass(ClassConnect, err)
	}
	return nil
}

// SendRequest implements spec.md §4.9's send_request(name): transmit a
// RQST packet carrying the NUL-terminated filename at next_seq. It does not
// wait for an ACK inline; the retransmit sweep keeps it reliable.
func (c *Connection) SendRequest(name string) error {
	payload := append([]byte(name), 0)
	if HeaderSize+len(payload) > MaxPacket {
		return wrapClass(ClassAlloc, errTooLong(name))
	}
	pkt := &Packet{Header: Header{Seq: c.send.nextSeq, Flags: FlagRQST}, Payload: payload}
	return c.send.send(time.Now(), pkt, c.transmit)
}

// RecvFile implements spec.md §4.9's recv_file(path): open the output file
// (truncating), loop on Update, apply reassembly (§4.7) to DATA events, and
// return once the LAST segment has been written out.
func (c *Connection) RecvFile(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o664)
	if err != nil {
		return wrapClass(ClassOpenFile, err)
	}
	defer f.Close()

	c.recv = newReceiver(func(b []byte) error {
		_, werr := f.Write(b)
		return werr
	}, c.cfg.Window)

	err = spinUntil(ctx, func() (bool, error) {
		_, uerr := c.Update(time.Now())
		if uerr != nil {
			return false, uerr
		}
		return c.recv.done, nil
	})
	if err != nil {
		return err
	}
	return wrapClass(ClassClose, f.Close())
}

// WaitAndClose implements spec.md §4.9's wait_and_close(): spin until the
// peer's FIN has been observed, send our own FIN, spin until it is
// acknowledged, then shut the socket down. This is the passive-close path
// (spec.md §4.8's CLOSE_WAIT -> LAST_ACK -> CLOSED).
func (c *Connection) WaitAndClose(ctx context.Context) error {
	if err := spinUntil(ctx, func() (bool, error) {
		_, err := c.Update(time.Now())
		if err != nil {
			return false, err
		}
		return c.receivedFin, nil
	}); err != nil {
		return err
	}

	pkt := &Packet{Header: Header{Seq: c.send.nextSeq, Flags: FlagFIN}}
	if err := c.send.send(time.Now(), pkt, c.transmit); err != nil {
		return err
	}
	c.state = StateLastAck

	if err := spinUntil(ctx, func() (bool, error) {
		ev, err := c.Update(time.Now())
		if err != nil {
			return false, err
		}
		return ev == EventFINACK, nil
	}); err != nil {
		return err
	}

	return c.closeSocket()
}

func errTooLong(name string) error {
	return fmt.Errorf("rft: requested file name %q does not fit in one packet", name)
}
