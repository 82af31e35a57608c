// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arq

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func TestDeadlineSetFiring(t *testing.T) {
	now := time.Now()
	ds := NewDeadlineSet(time.Second)

	ds.StartAt(3, now)
	ds.StartAt(1, now)
	ds.StartAt(2, now.Add(5*time.Second))

	if fired := ds.Fired(now); fired != nil {
		t.Fatalf("no deadline should have fired yet, got %v", fired)
	}

	if fired := ds.Fired(now.Add(time.Second)); !reflect.DeepEqual(fired, []uint32{1, 3}) {
		t.Fatalf("expected [1 3], got %v", fired)
	}

	// Level-triggered: an unhandled deadline fires again on the next poll.
	if fired := ds.Fired(now.Add(2 * time.Second)); !reflect.DeepEqual(fired, []uint32{1, 3}) {
		t.Fatalf("expected [1 3] again, got %v", fired)
	}

	if fired := ds.Fired(now.Add(10 * time.Second)); !reflect.DeepEqual(fired, []uint32{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v", fired)
	}
}

func TestDeadlineSetCancelAndRestart(t *testing.T) {
	now := time.Now()
	ds := NewDeadlineSet(time.Second)

	ds.StartAt(7, now)
	ds.Cancel(7)

	if fired := ds.Fired(now.Add(time.Hour)); fired != nil {
		t.Fatalf("cancelled deadline fired: %v", fired)
	}
	if ds.Len() != 0 {
		t.Fatalf("expected empty set, got %d entries", ds.Len())
	}

	ds.StartAt(7, now)
	ds.StartAt(7, now.Add(time.Minute))

	if fired := ds.Fired(now.Add(time.Second)); fired != nil {
		t.Fatalf("restarted deadline fired early: %v", fired)
	}
	if fired := ds.Fired(now.Add(2 * time.Minute)); !reflect.DeepEqual(fired, []uint32{7}) {
		t.Fatalf("expected [7], got %v", fired)
	}
}

func TestDeadlineSetWrapOrder(t *testing.T) {
	now := time.Now()
	ds := NewDeadlineSet(time.Second)

	// Around the sequence number wrap, 1 follows MaxUint32.
	ds.StartAt(1, now)
	ds.StartAt(math.MaxUint32, now)
	ds.StartAt(0, now)

	if fired := ds.Fired(now.Add(time.Second)); !reflect.DeepEqual(fired, []uint32{math.MaxUint32, 0, 1}) {
		t.Fatalf("expected wrap-aware order, got %v", fired)
	}
}
