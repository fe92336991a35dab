package server

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/session"
	"github.com/1ureka/tftp3303/internal/storage"
	"github.com/1ureka/tftp3303/internal/transport"
)

const replyTimeout = 2 * time.Second

// startServer runs a Server on a loopback ephemeral port for the duration of
// the test and returns its well-known address.
func startServer(t *testing.T, store storage.Storage) *net.UDPAddr {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	tr, err := transport.Bind(ctx, "127.0.0.1:0")
	if err != nil {
		cancel()
		t.Fatalf("Bind failed: %v", err)
	}

	srv := New(store, session.Config{Timeout: 200 * time.Millisecond, MaxRetries: 3})
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, tr) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
		srv.Wait()
	})
	return tr.LocalAddr()
}

// newPeer binds a raw endpoint that plays the requester by hand.
func newPeer(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.Bind(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func request(t *testing.T, op protocol.Opcode, name, mode string) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(op, name, mode)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	return req
}

func expectError(t *testing.T, peer *transport.Transport, code protocol.ErrorCode) transport.Datagram {
	t.Helper()
	dg, err := peer.Receive(replyTimeout)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	e, ok := dg.Packet.(*protocol.Error)
	if !ok || e.Code != code {
		t.Fatalf("got %s, want ERROR %d", dg.Packet, code)
	}
	return dg
}

// TestRead1000Bytes walks a read of a 1000-byte file packet by packet:
// DATA(1) carries 512 bytes, DATA(2) the remaining 488 and ends the transfer.
func TestRead1000Bytes(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 100)
	store := storage.NewMemStore()
	store.Put("f.bin", content)

	addr := startServer(t, store)
	peer := newPeer(t)

	if err := peer.SendTo(request(t, protocol.OpRead, "f.bin", protocol.ModeOctet), addr); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	var got []byte
	var tid *net.UDPAddr
	for _, want := range []struct {
		block uint16
		size  int
	}{{1, 512}, {2, 488}} {
		dg, err := peer.Receive(replyTimeout)
		if err != nil {
			t.Fatalf("waiting for DATA %d: %v", want.block, err)
		}
		d, ok := dg.Packet.(*protocol.Data)
		if !ok || d.Block != want.block || len(d.Payload) != want.size {
			t.Fatalf("got %s, want DATA #%d (%d bytes)", dg.Packet, want.block, want.size)
		}
		if dg.From.Port == addr.Port {
			t.Fatal("DATA came from the well-known port, want a fresh transfer endpoint")
		}
		if tid != nil && !transport.SameEndpoint(tid, dg.From) {
			t.Fatalf("transfer endpoint changed from %s to %s", tid, dg.From)
		}
		tid = dg.From
		got = append(got, d.Payload...)

		if err := peer.SendTo(protocol.NewAck(d.Block), dg.From); err != nil {
			t.Fatalf("SendTo failed: %v", err)
		}
	}

	if !bytes.Equal(got, content) {
		t.Error("received content differs from the stored file")
	}
}

func TestWrite(t *testing.T) {
	store := storage.NewMemStore()
	addr := startServer(t, store)
	peer := newPeer(t)

	if err := peer.SendTo(request(t, protocol.OpWrite, "up.txt", protocol.ModeOctet), addr); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	dg, err := peer.Receive(replyTimeout)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if ack, ok := dg.Packet.(*protocol.Ack); !ok || ack.Block != 0 {
		t.Fatalf("got %s, want ACK #0", dg.Packet)
	}
	tid := dg.From

	if err := peer.SendTo(&protocol.Data{Block: 1, Payload: []byte("hello")}, tid); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	dg, err = peer.Receive(replyTimeout)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if ack, ok := dg.Packet.(*protocol.Ack); !ok || ack.Block != 1 {
		t.Fatalf("got %s, want ACK #1", dg.Packet)
	}

	got, ok := store.Get("up.txt")
	if !ok || string(got) != "hello" {
		t.Errorf("stored %q (present=%v), want %q", got, ok, "hello")
	}
}

func TestRequestErrors(t *testing.T) {
	store := storage.NewMemStore()
	store.Put("exists.txt", []byte("x"))
	store.Put("secret.txt", []byte("x"))
	store.Protect("secret.txt")

	testCases := []struct {
		name string
		req  *protocol.Request
		code protocol.ErrorCode
	}{
		{"read missing file", request(t, protocol.OpRead, "nope.txt", protocol.ModeOctet), protocol.ErrFileNotFound},
		{"read protected file", request(t, protocol.OpRead, "secret.txt", protocol.ModeOctet), protocol.ErrAccessViolation},
		{"write existing file", request(t, protocol.OpWrite, "exists.txt", protocol.ModeOctet), protocol.ErrFileAlreadyExists},
		{"mail mode", request(t, protocol.OpRead, "exists.txt", protocol.ModeMail), protocol.ErrIllegalOperation},
		{"unknown mode", request(t, protocol.OpRead, "exists.txt", "binary"), protocol.ErrIllegalOperation},
	}

	addr := startServer(t, store)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			peer := newPeer(t)
			if err := peer.SendTo(tc.req, addr); err != nil {
				t.Fatalf("SendTo failed: %v", err)
			}
			expectError(t, peer, tc.code)
		})
	}
}

// TestWellKnownPortRejects checks that junk sent to the listener is answered
// with an illegal-operation ERROR and does not stop it.
func TestWellKnownPortRejects(t *testing.T) {
	store := storage.NewMemStore()
	store.Put("a.txt", []byte("abc"))
	addr := startServer(t, store)
	peer := newPeer(t)

	if err := peer.SendRaw([]byte{0, 9, 'x', 0}, addr); err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	dg := expectError(t, peer, protocol.ErrIllegalOperation)
	if dg.From.Port != addr.Port {
		t.Errorf("rejection came from %s, want the listener %s", dg.From, addr)
	}

	if err := peer.SendTo(protocol.NewAck(1), addr); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	expectError(t, peer, protocol.ErrIllegalOperation)

	// The listener still serves requests.
	if err := peer.SendTo(request(t, protocol.OpRead, "a.txt", protocol.ModeOctet), addr); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	dg, err := peer.Receive(replyTimeout)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if d, ok := dg.Packet.(*protocol.Data); !ok || string(d.Payload) != "abc" {
		t.Fatalf("got %s, want DATA #1 with the file", dg.Packet)
	}
	peer.SendTo(protocol.NewAck(1), dg.From)
}

// TestAbandonedWriteIsDiscarded checks that a write whose requester goes
// silent is given up after the retry ceiling and leaves no file behind.
func TestAbandonedWriteIsDiscarded(t *testing.T) {
	store := storage.NewMemStore()
	addr := startServer(t, store)
	peer := newPeer(t)

	if err := peer.SendTo(request(t, protocol.OpWrite, "half.txt", protocol.ModeOctet), addr); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}

	// ACK(0) is sent once and retransmitted twice, then the session gives up.
	acks := 0
	for {
		dg, err := peer.Receive(time.Second)
		if err != nil {
			break
		}
		if ack, ok := dg.Packet.(*protocol.Ack); ok && ack.Block == 0 {
			acks++
		}
	}
	if acks != 3 {
		t.Errorf("got %d ACK #0, want 3", acks)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.Get("half.txt"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("partial file was not removed")
}
