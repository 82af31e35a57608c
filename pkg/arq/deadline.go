// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package arq contains the automatic repeat request engine: the sliding
// SendWindow with its retransmission deadlines and the reordering
// ReceiveWindow. Sequence number arithmetic is performed modulo 2^32
// throughout, so long transfers may wrap the counter.
package arq

import (
	"sort"
	"time"
)

// seqLess compares two sequence numbers modulo 2^32. It holds as long as the
// distance between both numbers is less than half the sequence number space,
// which the bounded window guarantees.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// DeadlineSet tracks one retransmission deadline per in-flight sequence
// number. Firing is level-triggered: Fired reports every elapsed sequence
// number and its owner restarts the deadline after retransmitting, so an
// unhandled deadline keeps firing on the next poll.
//
// A DeadlineSet is not safe for concurrent use on its own. The SendWindow
// owning it serializes all access under its lock, which also makes a firing
// deadline and a concurrent acknowledgement mutually exclusive.
type DeadlineSet struct {
	timeout   time.Duration
	deadlines map[uint32]time.Time
}

// NewDeadlineSet with a fixed timeout for every started deadline.
func NewDeadlineSet(timeout time.Duration) *DeadlineSet {
	return &DeadlineSet{
		timeout:   timeout,
		deadlines: make(map[uint32]time.Time),
	}
}

// Start tracks seq with a deadline of now plus the configured timeout. A
// previous deadline for seq is replaced.
func (ds *DeadlineSet) Start(seq uint32) {
	ds.StartAt(seq, time.Now())
}

// StartAt is Start against an explicit current time.
func (ds *DeadlineSet) StartAt(seq uint32, now time.Time) {
	ds.deadlines[seq] = now.Add(ds.timeout)
}

// Cancel drops seq's deadline, e.g., after its acknowledgement.
func (ds *DeadlineSet) Cancel(seq uint32) {
	delete(ds.deadlines, seq)
}

// Fired returns the sequence numbers whose deadline has elapsed at now, in
// ascending sequence number order.
func (ds *DeadlineSet) Fired(now time.Time) (seqs []uint32) {
	for seq, deadline := range ds.deadlines {
		if !deadline.After(now) {
			seqs = append(seqs, seq)
		}
	}

	sort.Slice(seqs, func(i, j int) bool {
		return seqLess(seqs[i], seqs[j])
	})

	return
}

// Len returns the amount of tracked deadlines.
func (ds *DeadlineSet) Len() int {
	return len(ds.deadlines)
}
