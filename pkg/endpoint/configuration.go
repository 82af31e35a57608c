// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ruft/ruft-go/pkg/frame"
)

// Configuration bundles the operator-tunable parameters of a connection.
// Both sides should agree on WindowSize; it is fixed for the connection's
// lifetime.
type Configuration struct {
	// WindowSize bounds the packets in flight and the receiver's
	// out-of-order buffer.
	WindowSize uint32

	// Timeout is the fixed retransmission timeout per packet and the wait
	// for each handshake or teardown answer.
	Timeout time.Duration

	// PollInterval is the cadence of the bounded receive wait, which also
	// paces the retransmission deadline poll.
	PollInterval time.Duration

	// MaxPayloadSize bounds a single DATA packet's payload.
	MaxPayloadSize int

	// MaxRetries is the retransmission budget per packet. Exceeding it
	// aborts the connection.
	MaxRetries int

	// HandshakeRetries bounds the control packet attempts during connection
	// setup and teardown.
	HandshakeRetries int
}

// DefaultConfiguration returns the protocol's stock parameters: five packets
// in flight, two seconds timeout, five retries and payloads filling a
// 1024 byte datagram.
func DefaultConfiguration() Configuration {
	return Configuration{
		WindowSize:       5,
		Timeout:          2 * time.Second,
		PollInterval:     100 * time.Millisecond,
		MaxPayloadSize:   1024 - frame.HeaderLen,
		MaxRetries:       5,
		HandshakeRetries: 3,
	}
}

// Validate checks this Configuration for usable values.
func (conf Configuration) Validate() error {
	if conf.WindowSize == 0 {
		return errors.New("window size must be positive")
	}
	if conf.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if conf.PollInterval <= 0 || conf.PollInterval > conf.Timeout {
		return errors.New("poll interval must be positive and not exceed the timeout")
	}
	if conf.MaxPayloadSize <= 0 || conf.MaxPayloadSize > frame.MaxPayloadLen {
		return errors.Errorf("max payload size must be within (0, %d]", frame.MaxPayloadLen)
	}
	if conf.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if conf.HandshakeRetries <= 0 {
		return errors.New("handshake retries must be positive")
	}

	return nil
}

// MTU returns the largest datagram this Configuration produces.
func (conf Configuration) MTU() int {
	return frame.HeaderLen + conf.MaxPayloadSize
}
