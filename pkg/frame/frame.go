// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package frame implements the ruft wire format: a fixed 21 byte header in
// network byte order, followed by the payload. The header carries a truncated
// SHA-256 digest over the payload and a CRC-16/CCITT over the header fields.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Flags is the one-octet bitmask classifying a Packet.
type Flags uint8

const (
	// FlagSYN requests a new connection and announces the initial sequence number.
	FlagSYN Flags = 0x01

	// FlagACK carries a cumulative acknowledgement number.
	FlagACK Flags = 0x02

	// FlagFIN announces the end of the transfer.
	FlagFIN Flags = 0x04

	// FlagDATA marks a packet carrying application payload.
	FlagDATA Flags = 0x08
)

func (f Flags) String() string {
	var flags []string

	if f&FlagSYN != 0 {
		flags = append(flags, "SYN")
	}
	if f&FlagACK != 0 {
		flags = append(flags, "ACK")
	}
	if f&FlagFIN != 0 {
		flags = append(flags, "FIN")
	}
	if f&FlagDATA != 0 {
		flags = append(flags, "DATA")
	}

	return strings.Join(flags, ",")
}

// IsValid checks f against the combinations the protocol recognizes.
func (f Flags) IsValid() bool {
	switch f {
	case FlagSYN, FlagSYN | FlagACK, FlagACK, FlagDATA, FlagDATA | FlagACK, FlagFIN, FlagFIN | FlagACK:
		return true
	default:
		return false
	}
}

// HeaderLen is the fixed header length in bytes: sequence number (4),
// acknowledgement number (4), flags (1), payload length (2), payload
// digest (DigestLen) and header CRC (2).
const HeaderLen = 4 + 4 + 1 + 2 + DigestLen + 2

// MaxPayloadLen bounds the payload, as its length is an uint16 on the wire.
const MaxPayloadLen = 1<<16 - 1

var (
	// ErrTruncated marks a frame shorter than its declared length.
	ErrTruncated = errors.New("frame is truncated")

	// ErrMalformed marks a frame with unrecognized flags or a broken header.
	ErrMalformed = errors.New("frame is malformed")

	// ErrChecksum marks a payload digest mismatch. Such a frame must be
	// treated like a lost one: dropped and never acknowledged.
	ErrChecksum = errors.New("payload digest mismatch")
)

// Packet is a single ruft frame.
type Packet struct {
	SeqNum  uint32
	AckNum  uint32
	Flags   Flags
	Payload []byte
}

// NewDataPacket creates a DATA packet with a piggybacked acknowledgement.
func NewDataPacket(seq, ack uint32, payload []byte) Packet {
	return Packet{SeqNum: seq, AckNum: ack, Flags: FlagDATA | FlagACK, Payload: payload}
}

// NewAckPacket creates a pure ACK packet.
func NewAckPacket(seq, ack uint32) Packet {
	return Packet{SeqNum: seq, AckNum: ack, Flags: FlagACK}
}

// NewSynPacket creates the handshake's opening SYN with the initial sequence number.
func NewSynPacket(isn uint32) Packet {
	return Packet{SeqNum: isn, Flags: FlagSYN}
}

// NewSynAckPacket creates the handshake's answer, announcing the peer's own
// initial sequence number and acknowledging the received one.
func NewSynAckPacket(isn, ack uint32) Packet {
	return Packet{SeqNum: isn, AckNum: ack, Flags: FlagSYN | FlagACK}
}

// NewFinPacket creates the teardown's FIN.
func NewFinPacket(seq, ack uint32) Packet {
	return Packet{SeqNum: seq, AckNum: ack, Flags: FlagFIN}
}

// NewFinAckPacket creates the teardown's answer to a FIN.
func NewFinAckPacket(seq, ack uint32) Packet {
	return Packet{SeqNum: seq, AckNum: ack, Flags: FlagFIN | FlagACK}
}

func (p Packet) String() string {
	return fmt.Sprintf("PACKET(Flags=%v, Seq=%d, Ack=%d, Payload=%d bytes)",
		p.Flags, p.SeqNum, p.AckNum, len(p.Payload))
}

// Marshal writes this Packet's wire representation.
func (p Packet) Marshal(w io.Writer) error {
	if len(p.Payload) > MaxPayloadLen {
		return fmt.Errorf("payload length %d exceeds %d: %w", len(p.Payload), MaxPayloadLen, ErrMalformed)
	} else if !p.Flags.IsValid() {
		return fmt.Errorf("flags %#02x are unrecognized: %w", uint8(p.Flags), ErrMalformed)
	}

	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], p.SeqNum)
	binary.BigEndian.PutUint32(hdr[4:8], p.AckNum)
	hdr[8] = uint8(p.Flags)
	binary.BigEndian.PutUint16(hdr[9:11], uint16(len(p.Payload)))

	digest := PayloadDigest(p.Payload)
	copy(hdr[11:11+DigestLen], digest[:])

	binary.BigEndian.PutUint16(hdr[HeaderLen-2:], headerCRC(hdr[:HeaderLen-2]))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	if n, err := w.Write(p.Payload); err != nil {
		return err
	} else if n != len(p.Payload) {
		return fmt.Errorf("payload length is %d, but only wrote %d bytes", len(p.Payload), n)
	}

	return nil
}

// Unmarshal reads a Packet from its wire representation. The returned errors
// wrap ErrTruncated, ErrMalformed or ErrChecksum; the caller drops such
// frames without acknowledging them.
func (p *Packet) Unmarshal(r io.Reader) error {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("reading header: %v: %w", err, ErrTruncated)
	}

	if crc := binary.BigEndian.Uint16(hdr[HeaderLen-2:]); crc != headerCRC(hdr[:HeaderLen-2]) {
		return fmt.Errorf("header CRC mismatch: %w", ErrMalformed)
	}

	p.SeqNum = binary.BigEndian.Uint32(hdr[0:4])
	p.AckNum = binary.BigEndian.Uint32(hdr[4:8])
	p.Flags = Flags(hdr[8])

	if !p.Flags.IsValid() {
		return fmt.Errorf("flags %#02x are unrecognized: %w", hdr[8], ErrMalformed)
	}

	payloadLen := binary.BigEndian.Uint16(hdr[9:11])
	p.Payload = nil
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			return fmt.Errorf("reading %d payload bytes: %v: %w", payloadLen, err, ErrTruncated)
		}
	}

	if !VerifyDigest(p.Payload, hdr[11:11+DigestLen]) {
		return ErrChecksum
	}

	return nil
}

// Encode serializes this Packet into a datagram.
func (p Packet) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Marshal(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a Packet from a received datagram.
func Decode(data []byte) (p Packet, err error) {
	err = p.Unmarshal(bytes.NewReader(data))
	return
}
