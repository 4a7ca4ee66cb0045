package rft

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"
)

// Accept implements spec.md §4.9's bind/listen/accept trio (bind and listen
// are folded into Listen()): spin on Update until the backlog yields a
// pending connection, adopt its peer address, and send SYN|ACK.
func (c *Connection) Accept(ctx context.Context) error {
	err := spinUntil(ctx, func() (bool, error) {
		if !c.backlog.IsEmpty() {
			return true, nil
		}
		_, err := c.Update(time.Now())
		return false, err
	})
	if err != nil {
		return err
	}

	pending, err := c.backlog.Pop()
	if err != nil {
		return wrapClass(ClassAccept, err)
	}
	c.peerAddr = pending.addr
	c.peerSeq = pending.seq
	c.state = StateSynRcvd

	now := time.Now()
	c.sendSYN(now, true)
	c.send = newSender(Add(c.ourSeq, HeaderSize), c.cfg.Window, c.cfg.RTO)
	return nil
}

// RecvRequest implements spec.md §4.9's recv_request(): spin on Update
// until an RQST arrives, then parse its NUL-terminated payload.
func (c *Connection) RecvRequest(ctx context.Context) (string, error) {
	err := spinUntil(ctx, func() (bool, error) {
		_, err := c.Update(time.Now())
		if err != nil {
			return false, err
		}
		return c.rqst != nil, nil
	})
	if err != nil {
		return "", err
	}
	name := c.rqst
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}

// SendFile implements spec.md §4.9's send_file(path): stream MSS-sized
// segments tagged FIRST/LAST as appropriate, admitting each under the
// window rule, then drain the unacked buffer before returning.
func (c *Connection) SendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return wrapClass(ClassOpenFile, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return wrapClass(ClassOpenFile, err)
	}
	size := info.Size()

	var sent int64
	buf := make([]byte, MSS)
	first := true
	for {
		n, rerr := io.ReadFull(f, buf)
		if rerr == io.ErrUnexpectedEOF {
			rerr = nil
		}
		if rerr != nil && rerr != io.EOF {
			return wrapClass(ClassOpenFile, rerr)
		}
		if n == 0 {
			break
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		sent += int64(n)

		flags := Flags(0)
		if first {
			flags |= FlagFIRST
			first = false
		}
		if sent >= size {
			flags |= FlagLAST
		}

		total := HeaderSize + n
		if err := spinUntil(ctx, func() (bool, error) {
			if c.send.windowReady(total) {
				return true, nil
			}
			_, uerr := c.Update(time.Now())
			return false, uerr
		}); err != nil {
			return err
		}

		pkt := &Packet{Header: Header{Seq: c.send.nextSeq, Flags: flags}, Payload: chunk}
		if err := c.send.send(time.Now(), pkt, c.transmit); err != nil {
			return err
		}

		if sent >= size {
			break
		}
	}

	// A zero-byte file still needs exactly one FIRST|LAST segment.
	if size == 0 {
		pkt := &Packet{Header: Header{Seq: c.send.nextSeq, Flags: FlagFIRST | FlagLAST}}
		if err := c.send.send(time.Now(), pkt, c.transmit); err != nil {
			return err
		}
	}

	return spinUntil(ctx, func() (bool, error) {
		if c.send.unacked.Len() == 0 {
			return true, nil
		}
		_, err := c.Update(time.Now())
		return false, err
	})
}

// Close implements spec.md §4.9's close(): send a FIN, spin until both FIN
// and FIN_ACK have been observed, then linger (draining Update) for 2*RTO
// before shutting the socket down. This is the active-close path
// (spec.md §4.8's FIN_WAIT -> CLOSED).
func (c *Connection) Close(ctx context.Context) error {
	pkt := &Packet{Header: Header{Seq: c.send.nextSeq, Flags: FlagFIN}}
	if err := c.send.send(time.Now(), pkt, c.transmit); err != nil {
		return err
	}
	c.state = StateFinWait

	sawFinAck := false
	if err := spinUntil(ctx, func() (bool, error) {
		ev, err := c.Update(time.Now())
		if err != nil {
			return false, err
		}
		if ev == EventFINACK {
			sawFinAck = true
		}
		return sawFinAck && c.receivedFin, nil
	}); err != nil {
		return err
	}

	deadline := time.Now().Add(2 * c.cfg.RTO)
	if err := spinUntil(ctx, func() (bool, error) {
		if !time.Now().Before(deadline) {
			return true, nil
		}
		_, err := c.Update(time.Now())
		return false, err
	}); err != nil {
		return err
	}

	c.state = StateClosed
	return c.closeSocket()
}
