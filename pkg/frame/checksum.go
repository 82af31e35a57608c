// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frame

import (
	"bytes"
	"crypto/sha256"

	"github.com/howeyc/crc16"
)

// DigestLen is the length of the truncated SHA-256 payload digest carried
// within each header.
const DigestLen = 8

var crcTable = crc16.MakeTable(crc16.CCITT)

// PayloadDigest computes the SHA-256 digest over the payload, truncated to
// DigestLen bytes. An empty payload gets a digest as well, keeping control
// packets verifiable.
func PayloadDigest(payload []byte) (digest [DigestLen]byte) {
	sum := sha256.Sum256(payload)
	copy(digest[:], sum[:DigestLen])
	return
}

// VerifyDigest checks a received digest against the payload's computed one.
func VerifyDigest(payload []byte, digest []byte) bool {
	expected := PayloadDigest(payload)
	return bytes.Equal(digest, expected[:])
}

// headerCRC calculates the CRC-16/CCITT over the header fields preceding the
// CRC itself. The payload is guarded by the digest, not by this CRC.
func headerCRC(hdr []byte) uint16 {
	return crc16.Checksum(hdr, crcTable)
}
