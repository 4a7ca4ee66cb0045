package rft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetransmitQueuePushAck(t *testing.T) {
	q := newRetransmitQueue(unackedCapacity(Window), DefaultRTO)
	now := time.Now()

	pkt := &Packet{Header: Header{Seq: 10, Len: HeaderSize + 4}}
	require.NoError(t, q.Push(now, pkt))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint16(10), q.MinUnacked())

	length, found := q.Ack(10)
	assert.True(t, found)
	assert.Equal(t, int(pkt.Header.Len), length)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, noUnacked, q.MinUnacked())
}

func TestRetransmitQueueAckUnknownSeqIsNoop(t *testing.T) {
	q := newRetransmitQueue(unackedCapacity(Window), DefaultRTO)
	_, found := q.Ack(999)
	assert.False(t, found)
}

func TestRetransmitQueueAckIsIdempotent(t *testing.T) {
	q := newRetransmitQueue(unackedCapacity(Window), DefaultRTO)
	now := time.Now()
	pkt := &Packet{Header: Header{Seq: 1, Len: HeaderSize}}
	require.NoError(t, q.Push(now, pkt))

	_, found := q.Ack(1)
	assert.True(t, found)
	_, found = q.Ack(1)
	assert.False(t, found)
}

func TestRetransmitQueueLazyCompaction(t *testing.T) {
	q := newRetransmitQueue(unackedCapacity(Window), DefaultRTO)
	now := time.Now()
	for _, seq := range []uint16{1, 2, 3} {
		require.NoError(t, q.Push(now, &Packet{Header: Header{Seq: seq, Len: HeaderSize}}))
	}

	// Ack the middle entry first: it must be tombstoned, not spliced out,
	// and MinUnacked must still report the true head.
	_, found := q.Ack(2)
	require.True(t, found)
	assert.Equal(t, uint16(1), q.MinUnacked())
	assert.Equal(t, 2, q.Len())

	// Acking the head triggers compaction, which also reclaims the
	// already-freed middle entry.
	_, found = q.Ack(1)
	require.True(t, found)
	assert.Equal(t, uint16(3), q.MinUnacked())
	assert.Equal(t, 1, q.Len())
}

func TestRetransmitQueueResend(t *testing.T) {
	q := newRetransmitQueue(unackedCapacity(Window), time.Millisecond)
	base := time.Now()
	require.NoError(t, q.Push(base, &Packet{Header: Header{Seq: 1, Len: HeaderSize}}))

	var resent []uint16
	q.Resend(base, func(p *Packet) { resent = append(resent, p.Header.Seq) })
	assert.Empty(t, resent, "not due yet")

	later := base.Add(2 * time.Millisecond)
	q.Resend(later, func(p *Packet) { resent = append(resent, p.Header.Seq) })
	assert.Equal(t, []uint16{1}, resent)
	assert.Equal(t, 1, q.Len(), "resent packet stays queued until acked")
}

func TestSenderWindowAdmission(t *testing.T) {
	s := newSender(0, 100, DefaultRTO)
	now := time.Now()

	assert.True(t, s.windowReady(60))
	require.NoError(t, s.send(now, &Packet{Header: Header{Seq: s.nextSeq, Len: HeaderSize + 52}, Payload: make([]byte, 52)}, func(*Packet) error { return nil }))

	assert.True(t, s.windowReady(48))
	assert.False(t, s.windowReady(49))
}

func TestSenderAckUnwindsWindow(t *testing.T) {
	s := newSender(0, 100, DefaultRTO)
	now := time.Now()
	seq := s.nextSeq
	pkt := &Packet{Header: Header{Seq: seq, Len: HeaderSize + 90}, Payload: make([]byte, 90)}
	require.NoError(t, s.send(now, pkt, func(*Packet) error { return nil }))
	assert.False(t, s.windowReady(20))

	s.ack(seq)
	assert.True(t, s.windowReady(20))
}

func TestSenderSendPureACKDoesNotQueue(t *testing.T) {
	s := newSender(0, Window, DefaultRTO)
	err := s.send(time.Now(), &Packet{Header: Header{Seq: 5, Flags: FlagACK}}, func(*Packet) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, s.unacked.Len())
}
