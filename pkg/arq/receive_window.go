// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arq

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ruft/ruft-go/pkg/frame"
)

// ReceiveWindow is the receiver half of the ARQ engine. It delivers payloads
// to the sink in strict sequence number order, buffers out-of-order arrivals
// up to its capacity and generates cumulative acknowledgement numbers.
//
// A ReceiveWindow is driven by a single goroutine and is not internally
// locked.
type ReceiveWindow struct {
	nextExpected uint32
	capacity     uint32

	buffer map[uint32][]byte

	sink      io.Writer
	delivered uint64
}

// NewReceiveWindow expecting start as the first data sequence number.
// capacity bounds the out-of-order buffer and sink receives the payload
// bytes in order.
func NewReceiveWindow(start, capacity uint32, sink io.Writer) *ReceiveWindow {
	return &ReceiveWindow{
		nextExpected: start,
		capacity:     capacity,
		buffer:       make(map[uint32][]byte),
		sink:         sink,
	}
}

// HandleData processes a decoded DATA packet, whose payload digest was
// already verified by the codec. It returns the cumulative acknowledgement
// number to answer with and whether an acknowledgement should be emitted at
// all: arrivals beyond the buffer's capacity are treated exactly like lost
// packets and get no answer. A sink write failure is fatal for the
// connection.
func (rw *ReceiveWindow) HandleData(p frame.Packet) (ackNum uint32, emitAck bool, err error) {
	switch {
	case p.SeqNum == rw.nextExpected:
		if err = rw.deliver(p.Payload); err != nil {
			return
		}
		rw.nextExpected++

		// Drain every buffered successor which became contiguous.
		for {
			data, ok := rw.buffer[rw.nextExpected]
			if !ok {
				break
			}
			if err = rw.deliver(data); err != nil {
				return
			}
			delete(rw.buffer, rw.nextExpected)
			rw.nextExpected++
		}

	case seqLess(p.SeqNum, rw.nextExpected):
		// Duplicate of already delivered data. Its acknowledgement may have
		// been lost, so answer again without delivering.
		log.WithFields(log.Fields{
			"seq":      p.SeqNum,
			"expected": rw.nextExpected,
		}).Debug("Receive window re-acknowledged duplicate packet")

	default:
		if p.SeqNum-rw.nextExpected >= rw.capacity {
			log.WithFields(log.Fields{
				"seq":      p.SeqNum,
				"expected": rw.nextExpected,
			}).Debug("Receive window dropped packet beyond buffer capacity")
			return 0, false, nil
		}

		// A repeated early arrival simply overwrites with identical content.
		rw.buffer[p.SeqNum] = append([]byte(nil), p.Payload...)

		log.WithFields(log.Fields{
			"seq":      p.SeqNum,
			"expected": rw.nextExpected,
			"buffered": len(rw.buffer),
		}).Debug("Receive window buffered out-of-order packet")
	}

	return rw.nextExpected, true, nil
}

func (rw *ReceiveWindow) deliver(data []byte) error {
	if n, err := rw.sink.Write(data); err != nil {
		return errors.Wrap(err, "writing to output sink")
	} else if n != len(data) {
		return errors.Errorf("output sink wrote %d bytes instead of %d", n, len(data))
	}

	rw.delivered += uint64(len(data))
	return nil
}

// NextExpected returns the next deliverable sequence number, which doubles
// as the current cumulative acknowledgement number.
func (rw *ReceiveWindow) NextExpected() uint32 {
	return rw.nextExpected
}

// Buffered returns the amount of out-of-order packets being held back.
func (rw *ReceiveWindow) Buffered() int {
	return len(rw.buffer)
}

// Delivered returns the total amount of bytes written to the sink.
func (rw *ReceiveWindow) Delivered() uint64 {
	return rw.delivered
}
