// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arq

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ruft/ruft-go/pkg/frame"
)

var (
	// ErrWindowFull is returned by Send when the window's capacity is
	// reached. Callers must check CanSend first.
	ErrWindowFull = errors.New("send window is full")

	// ErrMaxRetries is returned when a packet's retransmission budget is
	// exhausted. The connection must be aborted.
	ErrMaxRetries = errors.New("maximum retransmissions exceeded")
)

// TransmitFunc hands a framed packet to the transport. It is called with the
// window's lock held and therefore must not block; datagram sends satisfy
// this.
type TransmitFunc func(frame.Packet) error

// pendingSend is the bookkeeping for one transmitted, unacknowledged packet.
type pendingSend struct {
	packet  frame.Packet
	sentAt  time.Time
	retries int
}

// SendWindow is the sender half of the ARQ engine: it bounds the in-flight
// packets, processes cumulative acknowledgements and retransmits single
// packets whose deadline fired. All operations serialize through one lock,
// shared by the transmitting, acknowledging and timer-polling callers.
type SendWindow struct {
	mu sync.Mutex

	base uint32
	next uint32
	size uint32

	pending   map[uint32]*pendingSend
	deadlines *DeadlineSet

	maxRetries  int
	retransmits uint64

	transmit TransmitFunc

	spaceChan chan struct{}
}

// NewSendWindow starting at the first data sequence number. size bounds the
// in-flight packets, timeout and maxRetries parameterize retransmission, and
// transmit hands frames to the transport.
func NewSendWindow(start, size uint32, timeout time.Duration, maxRetries int, transmit TransmitFunc) *SendWindow {
	return &SendWindow{
		base:       start,
		next:       start,
		size:       size,
		pending:    make(map[uint32]*pendingSend),
		deadlines:  NewDeadlineSet(timeout),
		maxRetries: maxRetries,
		transmit:   transmit,
		spaceChan:  make(chan struct{}, 1),
	}
}

// CanSend indicates if the window has capacity for another packet.
func (sw *SendWindow) CanSend() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	return sw.next-sw.base < sw.size
}

// Send assigns the next sequence number to payload, frames it with the given
// piggybacked acknowledgement number, transmits it and starts its
// retransmission deadline. ErrWindowFull is returned if the capacity
// precondition does not hold.
func (sw *SendWindow) Send(payload []byte, ackNum uint32) (uint32, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.next-sw.base >= sw.size {
		return 0, ErrWindowFull
	}

	seq := sw.next
	pkt := frame.NewDataPacket(seq, ackNum, payload)

	sw.pending[seq] = &pendingSend{packet: pkt, sentAt: time.Now()}
	sw.deadlines.Start(seq)
	sw.next++

	if err := sw.transmit(pkt); err != nil {
		return seq, err
	}

	log.WithFields(log.Fields{
		"seq":       seq,
		"in-flight": len(sw.pending),
	}).Debug("Send window transmitted packet")

	return seq, nil
}

// HandleAck processes a cumulative acknowledgement: every pending packet
// with a sequence number before ack is removed and its deadline cancelled.
// Acknowledgement numbers not after the current base are stale duplicates
// and have no effect, as have numbers beyond the next unassigned one.
func (sw *SendWindow) HandleAck(ack uint32) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !seqLess(sw.base, ack) || seqLess(sw.next, ack) {
		return
	}

	for seq := sw.base; seq != ack; seq++ {
		delete(sw.pending, seq)
		sw.deadlines.Cancel(seq)
	}
	sw.base = ack

	log.WithFields(log.Fields{
		"ack":       ack,
		"in-flight": len(sw.pending),
	}).Debug("Send window slid forward")

	select {
	case sw.spaceChan <- struct{}{}:
	default:
	}
}

// CheckRetransmissions polls the deadlines and retransmits each fired packet
// unchanged, restarting its deadline. A packet exceeding the retry budget
// fails with an error wrapping ErrMaxRetries.
func (sw *SendWindow) CheckRetransmissions(now time.Time) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for _, seq := range sw.deadlines.Fired(now) {
		ps := sw.pending[seq]

		ps.retries++
		if ps.retries > sw.maxRetries {
			return fmt.Errorf("sequence number %d after %d attempts: %w", seq, ps.retries, ErrMaxRetries)
		}

		ps.sentAt = now
		sw.deadlines.StartAt(seq, now)
		sw.retransmits++

		if err := sw.transmit(ps.packet); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"seq":   seq,
			"retry": ps.retries,
		}).Debug("Send window retransmitted packet")
	}

	return nil
}

// Drained indicates that every sent packet was acknowledged.
func (sw *SendWindow) Drained() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	return sw.base == sw.next && len(sw.pending) == 0
}

// InFlight returns the amount of unacknowledged packets.
func (sw *SendWindow) InFlight() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	return len(sw.pending)
}

// NextSeq returns the next sequence number to be assigned.
func (sw *SendWindow) NextSeq() uint32 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	return sw.next
}

// Retransmits returns the total amount of retransmitted packets.
func (sw *SendWindow) Retransmits() uint64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	return sw.retransmits
}

// SpaceAvailable signals freed capacity after the window slid forward.
func (sw *SendWindow) SpaceAvailable() <-chan struct{} {
	return sw.spaceChan
}
