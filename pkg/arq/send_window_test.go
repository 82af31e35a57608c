// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arq

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ruft/ruft-go/pkg/frame"
)

// collector records transmitted frames for inspection.
type collector struct {
	packets []frame.Packet
}

func (c *collector) transmit(p frame.Packet) error {
	c.packets = append(c.packets, p)
	return nil
}

func (c *collector) countSeq(seq uint32) (n int) {
	for _, p := range c.packets {
		if p.SeqNum == seq {
			n++
		}
	}
	return
}

func TestSendWindowCapacity(t *testing.T) {
	var c collector
	sw := NewSendWindow(0, 3, time.Second, 5, c.transmit)

	for i := 0; i < 3; i++ {
		if !sw.CanSend() {
			t.Fatalf("window should have capacity before packet %d", i)
		}
		if seq, err := sw.Send([]byte{byte(i)}, 0); err != nil {
			t.Fatalf("Send errored: %v", err)
		} else if seq != uint32(i) {
			t.Fatalf("expected sequence number %d, got %d", i, seq)
		}
	}

	if sw.CanSend() {
		t.Fatal("window should be full")
	}
	if _, err := sw.Send([]byte{0xFF}, 0); !errors.Is(err, ErrWindowFull) {
		t.Fatalf("expected ErrWindowFull, got %v", err)
	}
	if len(c.packets) != 3 {
		t.Fatalf("expected 3 transmissions, got %d", len(c.packets))
	}
}

func TestSendWindowCumulativeAck(t *testing.T) {
	var c collector
	sw := NewSendWindow(0, 3, time.Second, 5, c.transmit)

	for i := 0; i < 3; i++ {
		if _, err := sw.Send([]byte{byte(i)}, 0); err != nil {
			t.Fatalf("Send errored: %v", err)
		}
	}

	// ACK 1 means sequence number 0 was delivered: the window slides by one.
	sw.HandleAck(1)

	if !sw.CanSend() {
		t.Fatal("window should have capacity after sliding")
	}
	if sw.InFlight() != 2 {
		t.Fatalf("expected 2 packets in flight, got %d", sw.InFlight())
	}

	// An elapsed deadline for the acknowledged packet must not resend it.
	if err := sw.CheckRetransmissions(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CheckRetransmissions errored: %v", err)
	}
	if c.countSeq(0) != 1 {
		t.Fatalf("acknowledged packet was retransmitted %d times", c.countSeq(0)-1)
	}

	sw.HandleAck(3)
	if !sw.Drained() {
		t.Fatal("window should be drained")
	}
}

func TestSendWindowStaleAck(t *testing.T) {
	var c collector
	sw := NewSendWindow(10, 3, time.Second, 5, c.transmit)

	for i := 0; i < 3; i++ {
		if _, err := sw.Send([]byte{byte(i)}, 0); err != nil {
			t.Fatalf("Send errored: %v", err)
		}
	}
	sw.HandleAck(12)

	// Stale and absurd acknowledgements have no observable effect.
	for _, ack := range []uint32{12, 11, 10, 5, 20} {
		sw.HandleAck(ack)
		if sw.InFlight() != 1 {
			t.Fatalf("ack %d changed the window, %d in flight", ack, sw.InFlight())
		}
	}
}

func TestSendWindowRetransmission(t *testing.T) {
	var c collector
	now := time.Now()
	sw := NewSendWindow(0, 3, time.Second, 5, c.transmit)

	if _, err := sw.Send([]byte("payload"), 0); err != nil {
		t.Fatalf("Send errored: %v", err)
	}

	// Two elapsed deadlines cause exactly two retransmissions.
	if err := sw.CheckRetransmissions(now.Add(1500 * time.Millisecond)); err != nil {
		t.Fatalf("CheckRetransmissions errored: %v", err)
	}
	if err := sw.CheckRetransmissions(now.Add(3 * time.Second)); err != nil {
		t.Fatalf("CheckRetransmissions errored: %v", err)
	}
	if c.countSeq(0) != 3 {
		t.Fatalf("expected 3 transmissions in total, got %d", c.countSeq(0))
	}
	if sw.Retransmits() != 2 {
		t.Fatalf("expected 2 recorded retransmissions, got %d", sw.Retransmits())
	}

	// The retransmitted packet is unchanged.
	for _, p := range c.packets {
		if p.SeqNum != 0 || string(p.Payload) != "payload" {
			t.Fatalf("retransmitted packet was altered: %v", p)
		}
	}

	// A subsequent acknowledgement removes it cleanly.
	sw.HandleAck(1)
	if err := sw.CheckRetransmissions(now.Add(time.Hour)); err != nil {
		t.Fatalf("CheckRetransmissions errored: %v", err)
	}
	if c.countSeq(0) != 3 {
		t.Fatal("packet was retransmitted after its acknowledgement")
	}
}

func TestSendWindowMaxRetries(t *testing.T) {
	var c collector
	now := time.Now()
	sw := NewSendWindow(0, 1, time.Second, 2, c.transmit)

	if _, err := sw.Send([]byte("doomed"), 0); err != nil {
		t.Fatalf("Send errored: %v", err)
	}

	var err error
	for i := 1; i <= 3; i++ {
		if err = sw.CheckRetransmissions(now.Add(time.Duration(i) * 2 * time.Second)); err != nil {
			break
		}
	}

	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if c.countSeq(0) != 3 {
		t.Fatalf("expected initial send plus 2 retries, got %d transmissions", c.countSeq(0))
	}
}

func TestSendWindowWrap(t *testing.T) {
	var c collector
	start := uint32(math.MaxUint32 - 1)
	sw := NewSendWindow(start, 3, time.Second, 5, c.transmit)

	seqs := []uint32{math.MaxUint32 - 1, math.MaxUint32, 0}
	for i, want := range seqs {
		if seq, err := sw.Send([]byte{byte(i)}, 0); err != nil {
			t.Fatalf("Send errored: %v", err)
		} else if seq != want {
			t.Fatalf("expected sequence number %d, got %d", want, seq)
		}
	}
	if sw.CanSend() {
		t.Fatal("window should be full across the wrap")
	}

	sw.HandleAck(0)
	if sw.InFlight() != 1 {
		t.Fatalf("expected 1 packet in flight, got %d", sw.InFlight())
	}

	sw.HandleAck(1)
	if !sw.Drained() {
		t.Fatal("window should be drained after the wrap")
	}
}
