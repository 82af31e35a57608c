// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ruft/ruft-go/pkg/arq"
	"github.com/ruft/ruft-go/pkg/frame"
)

type memAddr string

func (memAddr) Network() string  { return "mem" }
func (a memAddr) String() string { return string(a) }

// lossyTransport is an in-memory datagram channel which may drop, duplicate,
// reorder or corrupt datagrams, seeded for reproducibility.
type lossyTransport struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	dropRate    float64
	dupRate     float64
	reorderRate float64
	corruptRate float64
	dropFilter  func([]byte) bool

	held []byte

	addr memAddr
	in   chan []byte
	peer *lossyTransport

	closeOnce sync.Once
	closed    chan struct{}
}

// newTransportPair wires two lossyTransports back to back.
func newTransportPair(seed int64) (*lossyTransport, *lossyTransport) {
	a := &lossyTransport{
		rnd:    rand.New(rand.NewSource(seed)),
		addr:   memAddr("a"),
		in:     make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
	b := &lossyTransport{
		rnd:    rand.New(rand.NewSource(seed + 1)),
		addr:   memAddr("b"),
		in:     make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
	a.peer, b.peer = b, a
	return a, b
}

func (t *lossyTransport) setDropFilter(f func([]byte) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropFilter = f
}

func (t *lossyTransport) SendTo(data []byte, _ net.Addr) error {
	select {
	case <-t.closed:
		return errors.New("transport is closed")
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dropFilter != nil && t.dropFilter(data) {
		return nil
	}
	if t.rnd.Float64() < t.dropRate {
		return nil
	}

	buf := append([]byte(nil), data...)
	if t.corruptRate > 0 && len(buf) > frame.HeaderLen && t.rnd.Float64() < t.corruptRate {
		buf[frame.HeaderLen] ^= 0xFF
	}

	if t.reorderRate > 0 && t.held == nil && t.rnd.Float64() < t.reorderRate {
		t.held = buf
		return nil
	}

	t.deliver(buf)
	if t.rnd.Float64() < t.dupRate {
		t.deliver(append([]byte(nil), buf...))
	}

	if t.held != nil && buf != nil {
		held := t.held
		t.held = nil
		t.deliver(held)
	}

	return nil
}

func (t *lossyTransport) deliver(data []byte) {
	select {
	case t.peer.in <- data:
	default:
		// Full channel equals a congested link: the datagram is lost.
	}
}

func (t *lossyTransport) ReceiveFrom(timeout time.Duration) ([]byte, net.Addr, error) {
	select {
	case data := <-t.in:
		return data, t.peer.addr, nil
	case <-t.closed:
		return nil, nil, errors.New("transport is closed")
	case <-time.After(timeout):
		return nil, nil, ErrTimeout
	}
}

func (t *lossyTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func testConfiguration() Configuration {
	return Configuration{
		WindowSize:       4,
		Timeout:          150 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		MaxPayloadSize:   64,
		MaxRetries:       25,
		HandshakeRetries: 5,
	}
}

// transfer runs a complete handshake, transfer and teardown between both
// Endpoints and returns the receiver's output.
func transfer(t *testing.T, sendTr, recvTr *lossyTransport, payload []byte, conf Configuration) []byte {
	t.Helper()

	sender, err := NewSender(sendTr, recvTr.addr, conf)
	if err != nil {
		t.Fatalf("NewSender errored: %v", err)
	}
	receiver, err := NewReceiver(recvTr, conf)
	if err != nil {
		t.Fatalf("NewReceiver errored: %v", err)
	}

	var sink bytes.Buffer
	recvDone := make(chan error, 1)

	go func() {
		if err := receiver.Connect(); err != nil {
			recvDone <- err
			return
		}
		n, err := receiver.Receive(&sink)
		if err == nil && n != int64(len(payload)) {
			err = errors.New("receiver byte count mismatch")
		}
		recvDone <- err
	}()

	if err := sender.Connect(); err != nil {
		t.Fatalf("sender Connect errored: %v", err)
	}
	if n, err := sender.Send(bytes.NewReader(payload)); err != nil {
		t.Fatalf("Send errored: %v", err)
	} else if n != int64(len(payload)) {
		t.Fatalf("Send reported %d bytes instead of %d", n, len(payload))
	}

	select {
	case err := <-recvDone:
		if err != nil {
			t.Fatalf("receiver errored: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("receiver did not finish")
	}

	return sink.Bytes()
}

func randomPayload(seed int64, n int) []byte {
	payload := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(payload)
	return payload
}

func TestEndpointTransfer(t *testing.T) {
	sendTr, recvTr := newTransportPair(1)
	payload := randomPayload(23, 4096)

	got := transfer(t, sendTr, recvTr, payload, testConfiguration())
	if !bytes.Equal(got, payload) {
		t.Fatal("received bytes differ from sent bytes")
	}
}

func TestEndpointTransferLossy(t *testing.T) {
	sendTr, recvTr := newTransportPair(42)
	for _, tr := range []*lossyTransport{sendTr, recvTr} {
		tr.dropRate = 0.05
		tr.dupRate = 0.05
		tr.reorderRate = 0.1
		tr.corruptRate = 0.03
	}

	payload := randomPayload(17, 8192)

	got := transfer(t, sendTr, recvTr, payload, testConfiguration())
	if !bytes.Equal(got, payload) {
		t.Fatal("received bytes differ from sent bytes over the lossy channel")
	}
}

func TestEndpointTransferEmpty(t *testing.T) {
	sendTr, recvTr := newTransportPair(7)

	got := transfer(t, sendTr, recvTr, nil, testConfiguration())
	if len(got) != 0 {
		t.Fatalf("expected no bytes, got %d", len(got))
	}
}

func TestEndpointHandshakeFailure(t *testing.T) {
	sendTr, recvTr := newTransportPair(3)
	sendTr.dropRate = 1.0

	conf := testConfiguration()
	conf.Timeout = 50 * time.Millisecond
	conf.HandshakeRetries = 2

	sender, err := NewSender(sendTr, recvTr.addr, conf)
	if err != nil {
		t.Fatalf("NewSender errored: %v", err)
	}

	if err := sender.Connect(); !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	if sender.Phase() != PhaseClosed {
		t.Fatalf("expected closed phase, got %v", sender.Phase())
	}
}

func TestEndpointMaxRetries(t *testing.T) {
	sendTr, recvTr := newTransportPair(5)

	conf := testConfiguration()
	conf.Timeout = 50 * time.Millisecond
	conf.MaxRetries = 2

	sender, err := NewSender(sendTr, recvTr.addr, conf)
	if err != nil {
		t.Fatalf("NewSender errored: %v", err)
	}
	receiver, err := NewReceiver(recvTr, conf)
	if err != nil {
		t.Fatalf("NewReceiver errored: %v", err)
	}

	recvDone := make(chan error, 1)
	go func() {
		if err := receiver.Connect(); err != nil {
			recvDone <- err
			return
		}
		_, err := receiver.Receive(new(bytes.Buffer))
		recvDone <- err
	}()

	if err := sender.Connect(); err != nil {
		t.Fatalf("sender Connect errored: %v", err)
	}

	// From now on every DATA packet is swallowed: the retransmission budget
	// must run out and abort the connection.
	sendTr.setDropFilter(func(data []byte) bool {
		return len(data) > 8 && frame.Flags(data[8])&frame.FlagDATA != 0
	})

	if _, err := sender.Send(bytes.NewReader([]byte("lost forever"))); !errors.Is(err, arq.ErrMaxRetries) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if sender.Phase() != PhaseClosed {
		t.Fatalf("expected closed phase, got %v", sender.Phase())
	}

	// The starved receiver gives up on the silent peer.
	select {
	case err := <-recvDone:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not abort")
	}
}

func TestEndpointCloseWakesReceive(t *testing.T) {
	_, recvTr := newTransportPair(11)

	receiver, err := NewReceiver(recvTr, testConfiguration())
	if err != nil {
		t.Fatalf("NewReceiver errored: %v", err)
	}

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- receiver.Connect()
	}()

	time.Sleep(20 * time.Millisecond)
	if err := receiver.Close(); err != nil {
		t.Fatalf("Close errored: %v", err)
	}

	select {
	case err := <-connectDone:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked Connect")
	}
}
