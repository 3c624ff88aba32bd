// MDB block checksum
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mdbproto

// Checksum returns the MDB block checksum: the sum of all bytes modulo
// 256. This is a different, simpler function than crc8.Span, which
// protects host frames only; the MDB wire checksum never touches the
// CRC-8 machinery. Grounded on original_source/avr-mdb's memsum.
func Checksum(data []byte) byte {
	var sum byte

	for _, b := range data {
		sum += b
	}

	return sum
}
