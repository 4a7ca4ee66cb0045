package rft_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/btlabs/rft"
)

// lossyRelay sits between a client and a server's real UDP sockets and
// selectively drops or duplicates datagrams passing through it, adapted
// from the teacher's udpManager.send/dropOnePacketEvery in transfer_test.go
// (there implemented as an in-process send-buffer interposed ahead of a
// SocketMultiplexer callback; here implemented as a third real UDP
// endpoint, since this module's Connection always talks to an actual
// net.UDPConn rather than through an injectable transport seam).
type lossyRelay struct {
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	clientAddr *net.UDPAddr
	dropEvery  int
	dupEvery   int
	count      int
}

func newLossyRelay(t *testing.T, serverAddr *net.UDPAddr) *lossyRelay {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	return &lossyRelay{conn: conn, serverAddr: serverAddr}
}

func (r *lossyRelay) LocalAddr() *net.UDPAddr { return r.conn.LocalAddr().(*net.UDPAddr) }

// run forwards datagrams between the client (whichever address first sends
// to the relay) and serverAddr until ctx is cancelled, dropping every
// dropEvery-th datagram and duplicating every dupEvery-th, counted across
// both directions combined.
func (r *lossyRelay) run(ctx context.Context) error {
	defer r.conn.Close()
	buf := make([]byte, rft.MaxPacket)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
			return err
		}
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		datagram := append([]byte(nil), buf[:n]...)

		dst := r.serverAddr
		if udpAddrEqual(addr, r.serverAddr) {
			dst = r.clientAddr
		} else {
			r.clientAddr = addr
		}
		if dst == nil {
			continue
		}

		r.count++
		if r.dropEvery > 0 && r.count%r.dropEvery == 0 {
			continue
		}
		if _, err := r.conn.WriteToUDP(datagram, dst); err != nil {
			return err
		}
		if r.dupEvery > 0 && r.count%r.dupEvery == 0 {
			if _, err := r.conn.WriteToUDP(datagram, dst); err != nil {
				return err
			}
		}
	}
}

// udpAddrEqual matches a to b; an unspecified IP on b (the server's
// wildcard LocalAddr) matches any IP with the same port.
func udpAddrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && (b.IP.IsUnspecified() || a.IP.Equal(b.IP))
}

// testRoundTripWithFaultyLink runs a full transfer with the client dialing
// through a lossyRelay instead of straight to the server, exercising
// retransmission-on-loss (spec.md §8 scenario 2) and duplicate-delivery
// suppression (scenario 4) through the real Update dispatch path rather
// than by calling retransmitQueue/receiver methods directly.
func testRoundTripWithFaultyLink(t *testing.T, content []byte, dropEvery, dupEvery int) {
	t.Helper()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.dat")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	server, err := rft.Listen(":0", rft.Config{RTO: 30 * time.Millisecond})
	require.NoError(t, err)
	client, err := rft.NewClient(rft.Config{RTO: 30 * time.Millisecond})
	require.NoError(t, err)

	relay := newLossyRelay(t, server.LocalAddr())
	relay.dropEvery = dropEvery
	relay.dupEvery = dupEvery

	relayCtx, relayCancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() { relayDone <- relay.run(relayCtx) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Accept(gctx); err != nil {
			return err
		}
		if _, err := server.RecvRequest(gctx); err != nil {
			return err
		}
		if err := server.SendFile(gctx, srcPath); err != nil {
			return err
		}
		return server.Close(gctx)
	})

	outPath := filepath.Join(dir, "out.dat")
	group.Go(func() error {
		if err := client.Connect(gctx, relay.LocalAddr()); err != nil {
			return err
		}
		if err := client.SendRequest(filepath.Base(srcPath)); err != nil {
			return err
		}
		if err := client.RecvFile(gctx, outPath); err != nil {
			return err
		}
		return client.WaitAndClose(gctx)
	})

	waitErr := group.Wait()
	relayCancel()
	<-relayDone
	require.NoError(t, waitErr)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(content, got), "received content did not match source after faulty-link transfer")
}

func TestRoundTripSurvivesPacketLoss(t *testing.T) {
	payload := make([]byte, 12*rft.MSS+37)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	testRoundTripWithFaultyLink(t, payload, 7, 0)
}

func TestRoundTripSurvivesDuplicateDelivery(t *testing.T) {
	payload := make([]byte, 8*rft.MSS+5)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	testRoundTripWithFaultyLink(t, payload, 0, 5)
}

// TestRoundTripSequenceWraparound transfers a file larger than MaxSeq
// bytes, guaranteeing at least one wrap of the 16-bit modular sequence
// space regardless of the random initial seq (spec.md §8 scenario 6).
func TestRoundTripSequenceWraparound(t *testing.T) {
	payload := make([]byte, 3*rft.MaxSeq+97)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.dat")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	server, err := rft.Listen(":0", rft.Config{RTO: 30 * time.Millisecond})
	require.NoError(t, err)
	client, err := rft.NewClient(rft.Config{RTO: 30 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Accept(gctx); err != nil {
			return err
		}
		if _, err := server.RecvRequest(gctx); err != nil {
			return err
		}
		if err := server.SendFile(gctx, srcPath); err != nil {
			return err
		}
		return server.Close(gctx)
	})

	outPath := filepath.Join(dir, "out.dat")
	group.Go(func() error {
		if err := client.Connect(gctx, server.LocalAddr()); err != nil {
			return err
		}
		if err := client.SendRequest("source.dat"); err != nil {
			return err
		}
		if err := client.RecvFile(gctx, outPath); err != nil {
			return err
		}
		return client.WaitAndClose(gctx)
	})

	require.NoError(t, group.Wait())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got), "received content did not match source across a sequence-space wrap")
}

// TestListenerBacklogOverflowDropsExcessSYN drives two SYNs at a listener
// configured with a backlog of one, the second arriving while the first is
// still unaccepted, and checks the second was dropped rather than queued
// (spec.md §8 scenario 5).
func TestListenerBacklogOverflowDropsExcessSYN(t *testing.T) {
	listener, err := rft.Listen(":0", rft.Config{Backlog: 1})
	require.NoError(t, err)

	sendRawSYN := func(t *testing.T, seq uint16) *net.UDPConn {
		t.Helper()
		c, err := net.ListenUDP("udp", &net.UDPAddr{})
		require.NoError(t, err)
		pkt := &rft.Packet{Header: rft.Header{Seq: seq, Flags: rft.FlagSYN}}
		buf, err := pkt.Encode()
		require.NoError(t, err)
		_, err = c.WriteToUDP(buf, listener.LocalAddr())
		require.NoError(t, err)
		return c
	}

	first := sendRawSYN(t, 1)
	defer first.Close()
	_, err = listener.Update(time.Now())
	require.NoError(t, err)

	second := sendRawSYN(t, 2)
	defer second.Close()
	_, err = listener.Update(time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, listener.Accept(ctx))
	require.Equal(t, rft.StateSynRcvd, listener.State())

	shortCtx, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	err = listener.Accept(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
