// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ruft/ruft-go/pkg/frame"
)

// connectActive performs the sender's handshake: transmit a SYN with a
// random initial sequence number, await the SYN-ACK, answer with an ACK.
func (e *Endpoint) connectActive() error {
	e.setPhase(PhaseHandshaking)

	isn := rand.Uint32()
	e.localISN = isn
	syn := frame.NewSynPacket(isn)

	for attempt := 0; attempt < e.conf.HandshakeRetries; attempt++ {
		if e.isClosed() {
			return e.abort(ErrAborted)
		}

		if err := e.transmitToPeer(syn); err != nil {
			return e.abort(abortedErr(err))
		}

		deadline := time.Now().Add(e.conf.Timeout)
		for time.Now().Before(deadline) {
			data, _, err := e.transport.ReceiveFrom(e.conf.PollInterval)
			if errors.Is(err, ErrTimeout) {
				continue
			} else if err != nil {
				return e.abort(abortedErr(err))
			}

			pkt, decodeErr := frame.Decode(data)
			if decodeErr != nil {
				e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
				continue
			}

			if pkt.Flags == frame.FlagSYN|frame.FlagACK && pkt.AckNum == isn+1 {
				e.remoteISN = pkt.SeqNum

				if err := e.transmitToPeer(frame.NewAckPacket(isn+1, pkt.SeqNum+1)); err != nil {
					return e.abort(abortedErr(err))
				}

				e.setPhase(PhaseEstablished)
				e.log().WithFields(log.Fields{
					"isn":      isn,
					"peer-isn": pkt.SeqNum,
				}).Info("Connection established")
				return nil
			}

			e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet during handshake")
		}

		e.log().WithField("attempt", attempt+1).Debug("SYN timed out, retrying")
	}

	e.setPhase(PhaseClosed)
	return ErrHandshakeFailed
}

// connectPassive performs the receiver's handshake: await a SYN, answer with
// a SYN-ACK carrying an own initial sequence number, await the final ACK.
// The SYN wait is unbounded until Close; the answer exchange is bounded by
// the handshake retries.
func (e *Endpoint) connectPassive() error {
	e.setPhase(PhaseHandshaking)

	for {
		if e.isClosed() {
			return e.abort(ErrAborted)
		}

		data, addr, err := e.transport.ReceiveFrom(e.conf.PollInterval)
		if errors.Is(err, ErrTimeout) {
			continue
		} else if err != nil {
			return e.abort(abortedErr(err))
		}

		pkt, decodeErr := frame.Decode(data)
		if decodeErr != nil {
			e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
			continue
		}

		if pkt.Flags == frame.FlagSYN {
			e.peer = addr
			e.remoteISN = pkt.SeqNum
			break
		}

		e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet while awaiting SYN")
	}

	isn := rand.Uint32()
	e.localISN = isn
	synAck := frame.NewSynAckPacket(isn, e.remoteISN+1)

	for attempt := 0; attempt < e.conf.HandshakeRetries; attempt++ {
		if e.isClosed() {
			return e.abort(ErrAborted)
		}

		if err := e.transmitToPeer(synAck); err != nil {
			return e.abort(abortedErr(err))
		}

		deadline := time.Now().Add(e.conf.Timeout)
		for time.Now().Before(deadline) {
			data, _, err := e.transport.ReceiveFrom(e.conf.PollInterval)
			if errors.Is(err, ErrTimeout) {
				continue
			} else if err != nil {
				return e.abort(abortedErr(err))
			}

			pkt, decodeErr := frame.Decode(data)
			if decodeErr != nil {
				e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
				continue
			}

			switch {
			case pkt.Flags == frame.FlagACK && pkt.AckNum == isn+1:
				e.establishPassive(isn)
				return nil

			case pkt.Flags&frame.FlagDATA != 0:
				// DATA implies the sender saw our SYN-ACK; its final ACK was
				// lost. Keep the datagram for the established phase.
				e.stash = append(e.stash, data)
				e.establishPassive(isn)
				return nil

			case pkt.Flags == frame.FlagSYN:
				// Retransmitted SYN, the SYN-ACK got lost.
				e.log().Debug("SYN repeated, answering again")

			default:
				e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet during handshake")
				continue
			}

			break
		}
	}

	e.setPhase(PhaseClosed)
	return ErrHandshakeFailed
}

func (e *Endpoint) establishPassive(isn uint32) {
	e.setPhase(PhaseEstablished)
	e.log().WithFields(log.Fields{
		"isn":      isn,
		"peer-isn": e.remoteISN,
	}).Info("Connection established")
}

// teardownActive performs the sender's teardown: transmit the FIN, await the
// FIN-ACK, answer with the final ACK. As every data packet was acknowledged
// beforehand, an unanswered FIN after all retries is logged, not fatal.
func (e *Endpoint) teardownActive(finSeq uint32) error {
	e.setPhase(PhaseClosing)

	fin := frame.NewFinPacket(finSeq, e.remoteISN+1)

	for attempt := 0; attempt < e.conf.HandshakeRetries; attempt++ {
		if e.isClosed() {
			return e.abort(ErrAborted)
		}

		if err := e.transmitToPeer(fin); err != nil {
			return e.abort(abortedErr(err))
		}

		deadline := time.Now().Add(e.conf.Timeout)
		for time.Now().Before(deadline) {
			data, _, err := e.transport.ReceiveFrom(e.conf.PollInterval)
			if errors.Is(err, ErrTimeout) {
				continue
			} else if err != nil {
				return e.abort(abortedErr(err))
			}

			pkt, decodeErr := frame.Decode(data)
			if decodeErr != nil {
				e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
				continue
			}

			if pkt.Flags == frame.FlagFIN|frame.FlagACK && pkt.AckNum == finSeq+1 {
				if err := e.transmitToPeer(frame.NewAckPacket(finSeq+1, pkt.SeqNum+1)); err != nil {
					return e.abort(abortedErr(err))
				}

				e.setPhase(PhaseClosed)
				e.log().Info("Connection closed")
				return nil
			}

			e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet during teardown")
		}

		e.log().WithField("attempt", attempt+1).Debug("FIN timed out, retrying")
	}

	e.log().Warn("FIN was never answered, closing anyway")
	e.setPhase(PhaseClosed)
	return nil
}

// teardownPassive performs the receiver's teardown after the peer's FIN
// arrived with the receive window fully drained: transmit the FIN-ACK and
// await the final ACK. A lost final ACK only shows as repeated FINs, which
// are answered again.
func (e *Endpoint) teardownPassive(finSeq uint32) error {
	e.setPhase(PhaseClosing)

	finAckSeq := e.localISN + 1
	finAck := frame.NewFinAckPacket(finAckSeq, finSeq+1)

	for attempt := 0; attempt < e.conf.HandshakeRetries; attempt++ {
		if e.isClosed() {
			return e.abort(ErrAborted)
		}

		if err := e.transmitToPeer(finAck); err != nil {
			return e.abort(abortedErr(err))
		}

		deadline := time.Now().Add(e.conf.Timeout)
		for time.Now().Before(deadline) {
			data, _, err := e.transport.ReceiveFrom(e.conf.PollInterval)
			if errors.Is(err, ErrTimeout) {
				continue
			} else if err != nil {
				return e.abort(abortedErr(err))
			}

			pkt, decodeErr := frame.Decode(data)
			if decodeErr != nil {
				e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
				continue
			}

			if pkt.Flags == frame.FlagACK && pkt.AckNum == finAckSeq+1 {
				e.setPhase(PhaseClosed)
				e.log().Info("Connection closed")
				return nil
			}

			if pkt.Flags == frame.FlagFIN {
				// The FIN-ACK got lost, answer the repeated FIN again.
				break
			}

			e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet during teardown")
		}
	}

	// The sender is gone, with or without having seen the FIN-ACK.
	e.setPhase(PhaseClosed)
	e.log().Info("Connection closed without final acknowledgement")
	return nil
}
