package rft

import (
	"time"

	"github.com/btlabs/rft/ring"
)

// DefaultRTO is the per-packet retransmission timeout, per spec.md §6.
const DefaultRTO = 500 * time.Millisecond

// unackedEntry owns one data packet that has been sent and is awaiting ACK.
// It is threaded through retransmitQueue.order (a FIFO whose position
// doubles as the earliest-resend-first chain, per the invariant below) and
// indexed by seq through retransmitQueue.bySeq for O(1) acknowledgement.
//
// freed is the tombstone the Design Notes ask for in place of the source's
// dual cleanup paths: Ack marks an entry freed in place rather than trying
// to splice it out of the middle of the FIFO; compact() then reclaims any
// run of freed entries sitting at the head.
type unackedEntry struct {
	packet   *Packet
	resendAt time.Time
	freed    bool
}

// retransmitQueue is the time-ordered list of unacknowledged data packets
// described in spec.md §4.4. Its FIFO order equals deadline order: every
// newly pushed or just-retransmitted entry is stamped now+RTO and appended
// to the tail, and now only moves forward, so the head always holds the
// earliest deadline without any separate sort step.
//
// The handshake SYN packet is tracked separately (see synTimer in conn.go):
// it is not data, never participates in window accounting, and spec.md
// §4.4 addresses it through a "dedicated syn_index" rather than the seq map.
type retransmitQueue struct {
	order *ring.Ring[*unackedEntry]
	bySeq map[uint16]*unackedEntry
	rto   time.Duration
}

func newRetransmitQueue(capacity int, rto time.Duration) *retransmitQueue {
	return &retransmitQueue{
		order: ring.New[*unackedEntry](capacity),
		bySeq: make(map[uint16]*unackedEntry),
		rto:   rto,
	}
}

func (q *retransmitQueue) Len() int { return q.order.Size() }

func (q *retransmitQueue) IsFull() bool { return q.order.IsFull() }

// Push enqueues a freshly sent data packet for future resend, due at
// now+RTO.
func (q *retransmitQueue) Push(now time.Time, pkt *Packet) error {
	e := &unackedEntry{packet: pkt, resendAt: now.Add(q.rto)}
	if _, err := q.order.Push(e); err != nil {
		return err
	}
	q.bySeq[pkt.Header.Seq] = e
	return nil
}

// Ack marks the entry for seq as acknowledged. It reports the packet's wire
// length so the caller can unwind wnd_curr, and whether an entry was
// actually found (duplicate or spurious ACKs are ignored, per spec.md
// §4.4).
func (q *retransmitQueue) Ack(seq uint16) (length int, found bool) {
	e := q.bySeq[seq]
	if e == nil || e.freed {
		return 0, false
	}
	length = int(e.packet.Header.Len)
	e.freed = true
	e.packet = nil
	delete(q.bySeq, seq)
	q.compact()
	return length, true
}

// compact pops any run of already-freed entries sitting at the head of the
// FIFO, reclaiming their slots. This is the "lazy compaction" of spec.md
// §4.4/§9: physical removal is deferred to this single pass rather than
// attempted from the middle of the structure.
func (q *retransmitQueue) compact() {
	for {
		head := q.order.Peek()
		if head == nil || !(*head).freed {
			return
		}
		_, _ = q.order.Pop()
	}
}

// MinUnacked returns the sequence number of the oldest outstanding packet,
// or noUnacked if none remain. Because Ack always compacts immediately, the
// head of the FIFO (when non-empty) is never a freed entry.
func (q *retransmitQueue) MinUnacked() uint16 {
	head := q.order.Peek()
	if head == nil {
		return noUnacked
	}
	return (*head).packet.Header.Seq
}

// Resend runs the retransmit sweep: while the head entry is due, it is
// resent, given a fresh now+RTO deadline, and moved to the tail — exactly
// spec.md §4.4's resend(now). resendFn is invoked for each packet resent,
// letting the caller perform the actual datagram write without this queue
// knowing about sockets.
func (q *retransmitQueue) Resend(now time.Time, resendFn func(pkt *Packet)) {
	for {
		head := q.order.Peek()
		if head == nil {
			return
		}
		e := *head
		if e.freed {
			_, _ = q.order.Pop()
			continue
		}
		if now.Before(e.resendAt) {
			return
		}
		_, _ = q.order.Pop()
		resendFn(e.packet)
		e.resendAt = now.Add(q.rto)
		_, err := q.order.Push(e)
		assertf(err == nil, "rft: retransmit queue overflowed during resend: %v", err)
	}
}
