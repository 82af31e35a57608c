// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package endpoint drives a ruft connection: handshake, windowed data
// exchange and teardown, on top of an injected datagram Transport.
package endpoint

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ruft/ruft-go/pkg/arq"
	"github.com/ruft/ruft-go/pkg/frame"
)

var (
	// ErrHandshakeFailed signals exhausted handshake retries.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrAborted signals a transport-level fatal error or a local Close
	// during an active transfer.
	ErrAborted = errors.New("connection aborted")
)

// abortedErr tags a fatal low-level error with ErrAborted.
func abortedErr(err error) error {
	return fmt.Errorf("%v: %w", err, ErrAborted)
}

// Role distinguishes the two sides of a connection.
type Role int

const (
	// RoleSender is the active side: it initiates the handshake, transmits
	// DATA and starts the teardown.
	RoleSender Role = iota

	// RoleReceiver is the passive side: it answers the handshake, delivers
	// DATA in order and acknowledges.
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "INVALID"
	}
}

// Phase is the connection lifecycle state.
type Phase int

const (
	PhaseClosed Phase = iota
	PhaseHandshaking
	PhaseEstablished
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseEstablished:
		return "established"
	case PhaseClosing:
		return "closing"
	default:
		return "INVALID"
	}
}

// Endpoint is one side of a ruft connection. It owns the send or receive
// window, the transport handle and is the sole mutator of the connection
// phase. An Endpoint is good for a single transfer.
type Endpoint struct {
	conf      Configuration
	role      Role
	transport Transport

	phaseMutex sync.Mutex
	phase      Phase

	peer      net.Addr
	localISN  uint32
	remoteISN uint32

	// stash holds datagrams consumed during the handshake which belong to
	// the established phase.
	stash [][]byte

	retransmits uint64

	closeOnce  sync.Once
	closedChan chan struct{}
}

// NewSender creates the active Endpoint for a transfer towards peer.
func NewSender(transport Transport, peer net.Addr, conf Configuration) (*Endpoint, error) {
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid configuration")
	}

	return &Endpoint{
		conf:       conf,
		role:       RoleSender,
		transport:  transport,
		phase:      PhaseClosed,
		peer:       peer,
		closedChan: make(chan struct{}),
	}, nil
}

// NewReceiver creates the passive Endpoint. The peer's address is learned
// from its SYN.
func NewReceiver(transport Transport, conf Configuration) (*Endpoint, error) {
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid configuration")
	}

	return &Endpoint{
		conf:       conf,
		role:       RoleReceiver,
		transport:  transport,
		phase:      PhaseClosed,
		closedChan: make(chan struct{}),
	}, nil
}

// log prepares a new log entry with connection data.
func (e *Endpoint) log() *log.Entry {
	return log.WithFields(log.Fields{
		"role":  e.role,
		"phase": e.Phase(),
	})
}

// Phase returns the current lifecycle phase.
func (e *Endpoint) Phase() Phase {
	e.phaseMutex.Lock()
	defer e.phaseMutex.Unlock()

	return e.phase
}

func (e *Endpoint) setPhase(phase Phase) {
	e.phaseMutex.Lock()
	defer e.phaseMutex.Unlock()

	if e.phase != phase {
		log.WithFields(log.Fields{
			"role": e.role,
			"from": e.phase,
			"to":   phase,
		}).Debug("Endpoint changed phase")
		e.phase = phase
	}
}

func (e *Endpoint) isClosed() bool {
	select {
	case <-e.closedChan:
		return true
	default:
		return false
	}
}

// abort forces the immediate transition to the closed phase and passes err on.
func (e *Endpoint) abort(err error) error {
	e.setPhase(PhaseClosed)
	return err
}

// transmitToPeer frames and sends a single packet to the connected peer.
func (e *Endpoint) transmitToPeer(p frame.Packet) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	return e.transport.SendTo(data, e.peer)
}

// Connect performs the role's side of the handshake. A sender transmits its
// SYN and awaits the SYN-ACK; a receiver awaits a SYN and answers. After a
// successful Connect the Endpoint is established.
func (e *Endpoint) Connect() error {
	if phase := e.Phase(); phase != PhaseClosed {
		return fmt.Errorf("cannot connect within phase %v", phase)
	}
	if e.isClosed() {
		return ErrAborted
	}

	if e.role == RoleSender {
		return e.connectActive()
	}
	return e.connectPassive()
}

// Send transfers the whole byte stream to the peer and returns after every
// packet was acknowledged and the connection was torn down. The returned
// count only covers the complete, acknowledged transfer; a fatal error
// invalidates it.
func (e *Endpoint) Send(r io.Reader) (int64, error) {
	if e.role != RoleSender {
		return 0, fmt.Errorf("role %v cannot send", e.role)
	}
	if phase := e.Phase(); phase != PhaseEstablished {
		return 0, fmt.Errorf("cannot send within phase %v", phase)
	}

	wnd := arq.NewSendWindow(e.localISN+1, e.conf.WindowSize, e.conf.Timeout, e.conf.MaxRetries, e.transmitToPeer)

	stopSyn := make(chan struct{})
	stopAck := make(chan struct{})
	errChan := make(chan error, 1)

	go e.handleAcks(wnd, stopSyn, stopAck, errChan)

	var total int64
	buf := make([]byte, e.conf.MaxPayloadSize)

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			for !wnd.CanSend() {
				select {
				case <-wnd.SpaceAvailable():
				case <-time.After(e.conf.PollInterval):
				case err := <-errChan:
					return total, e.abort(err)
				case <-e.closedChan:
					return total, e.abort(ErrAborted)
				}
			}

			if _, err := wnd.Send(chunk, e.remoteISN+1); err != nil {
				return total, e.abort(abortedErr(err))
			}
			total += int64(n)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		} else if readErr != nil {
			return total, e.abort(pkgerrors.Wrap(readErr, "reading application data"))
		}
	}

	// Await the acknowledgement of every in-flight packet.
	for !wnd.Drained() {
		select {
		case err := <-errChan:
			return total, e.abort(err)
		case <-e.closedChan:
			return total, e.abort(ErrAborted)
		case <-time.After(e.conf.PollInterval):
		}
	}

	e.retransmits = wnd.Retransmits()

	// The teardown exchange is synchronous; stop the acknowledgement
	// handler first so only one goroutine reads from the transport.
	close(stopSyn)
	<-stopAck

	select {
	case err := <-errChan:
		if err != nil {
			return total, e.abort(err)
		}
	default:
	}

	e.log().WithFields(log.Fields{
		"bytes":       total,
		"retransmits": e.retransmits,
	}).Info("All data acknowledged, starting teardown")

	if err := e.teardownActive(wnd.NextSeq()); err != nil {
		return total, err
	}
	return total, nil
}

// handleAcks is the sender's receive loop: it decodes inbound
// acknowledgements, feeds them to the window and paces the retransmission
// deadline poll.
func (e *Endpoint) handleAcks(wnd *arq.SendWindow, stopSyn, stopAck chan struct{}, errChan chan<- error) {
	defer close(stopAck)

	for {
		select {
		case <-stopSyn:
			return

		default:
			data, _, err := e.transport.ReceiveFrom(e.conf.PollInterval)
			switch {
			case err == nil:
				if pkt, decodeErr := frame.Decode(data); decodeErr != nil {
					e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
				} else if pkt.Flags == frame.FlagACK {
					wnd.HandleAck(pkt.AckNum)
				} else {
					e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet")
				}

			case errors.Is(err, ErrTimeout):
				// Idle interval, fall through to the deadline poll.

			default:
				if e.isClosed() {
					return
				}
				errChan <- abortedErr(err)
				return
			}

			if err := wnd.CheckRetransmissions(time.Now()); err != nil {
				errChan <- err
				return
			}
		}
	}
}

// Receive delivers the peer's byte stream in order to w and returns after
// the connection was torn down by the peer's FIN.
func (e *Endpoint) Receive(w io.Writer) (int64, error) {
	if e.role != RoleReceiver {
		return 0, fmt.Errorf("role %v cannot receive", e.role)
	}
	if phase := e.Phase(); phase != PhaseEstablished {
		return 0, fmt.Errorf("cannot receive within phase %v", phase)
	}

	wnd := arq.NewReceiveWindow(e.remoteISN+1, e.conf.WindowSize, w)

	// Datagrams already consumed while completing the handshake come first.
	for _, data := range e.stash {
		if done, err := e.dispatchInbound(wnd, data); err != nil {
			return int64(wnd.Delivered()), err
		} else if done {
			return int64(wnd.Delivered()), nil
		}
	}
	e.stash = nil

	// The sender stops retrying after its retransmission budget; a longer
	// silence means it is gone for good.
	idleBudget := e.conf.Timeout * time.Duration(e.conf.MaxRetries+1)
	idleDeadline := time.Now().Add(idleBudget)

	for {
		if e.isClosed() {
			return int64(wnd.Delivered()), e.abort(ErrAborted)
		}

		data, _, err := e.transport.ReceiveFrom(e.conf.PollInterval)
		if errors.Is(err, ErrTimeout) {
			if time.Now().After(idleDeadline) {
				return int64(wnd.Delivered()), e.abort(abortedErr(errors.New("peer went silent")))
			}
			continue
		} else if err != nil {
			return int64(wnd.Delivered()), e.abort(abortedErr(err))
		}
		idleDeadline = time.Now().Add(idleBudget)

		if done, err := e.dispatchInbound(wnd, data); err != nil {
			return int64(wnd.Delivered()), err
		} else if done {
			return int64(wnd.Delivered()), nil
		}
	}
}

// dispatchInbound processes one datagram within the established phase. done
// reports a completed teardown.
func (e *Endpoint) dispatchInbound(wnd *arq.ReceiveWindow, data []byte) (done bool, err error) {
	pkt, decodeErr := frame.Decode(data)
	if decodeErr != nil {
		// A corrupted packet equals a lost one: no delivery, no
		// acknowledgement; the sender's deadline covers it.
		e.log().WithError(decodeErr).Debug("Dropping undecodable datagram")
		return false, nil
	}

	switch {
	case pkt.Flags&frame.FlagDATA != 0:
		ackNum, emitAck, handleErr := wnd.HandleData(pkt)
		if handleErr != nil {
			return false, e.abort(handleErr)
		}
		if emitAck {
			if err := e.transmitToPeer(frame.NewAckPacket(e.localISN+1, ackNum)); err != nil {
				return false, e.abort(abortedErr(err))
			}
		}

	case pkt.Flags == frame.FlagSYN:
		// The sender missed our SYN-ACK and repeats its SYN.
		if err := e.transmitToPeer(frame.NewSynAckPacket(e.localISN, pkt.SeqNum+1)); err != nil {
			return false, e.abort(abortedErr(err))
		}

	case pkt.Flags == frame.FlagFIN:
		if pkt.SeqNum == wnd.NextExpected() && wnd.Buffered() == 0 {
			return true, e.teardownPassive(pkt.SeqNum)
		}
		// A FIN outrunning missing data is ignored; the sender only
		// finishes after every packet was acknowledged, so this is a relic
		// of reordering.
		e.log().WithField("packet", pkt).Debug("Ignoring premature FIN")

	default:
		e.log().WithField("packet", pkt).Debug("Ignoring unexpected packet")
	}

	return false, nil
}

// Retransmits returns the amount of retransmitted packets of a finished
// Send.
func (e *Endpoint) Retransmits() uint64 {
	return e.retransmits
}

// Close shuts the Endpoint down, waking a blocked receive and forcing the
// closed phase. Closing twice is a no-op.
func (e *Endpoint) Close() error {
	var errs *multierror.Error

	e.closeOnce.Do(func() {
		close(e.closedChan)
		e.setPhase(PhaseClosed)

		if err := e.transport.Close(); err != nil {
			errs = multierror.Append(errs, pkgerrors.Wrap(err, "closing transport"))
		}
	})

	return errs.ErrorOrNil()
}
