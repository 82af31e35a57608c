// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"net"
	"time"
)

// ErrTimeout signals that a ReceiveFrom found no datagram within its bounded
// wait. It is a normal scheduling signal keeping the timer poll alive, not a
// failure.
var ErrTimeout = errors.New("receive timed out")

// Transport is the unreliable, unordered datagram channel an Endpoint runs
// on. Datagrams may be dropped, duplicated, reordered or delayed; the ARQ
// engine compensates.
type Transport interface {
	// SendTo transmits one datagram to addr.
	SendTo(data []byte, addr net.Addr) error

	// ReceiveFrom blocks for up to timeout and returns the next datagram and
	// its source address, or ErrTimeout. Every other error is fatal.
	ReceiveFrom(timeout time.Duration) (data []byte, addr net.Addr, err error)

	// Close releases the transport and wakes a blocked ReceiveFrom.
	Close() error
}
