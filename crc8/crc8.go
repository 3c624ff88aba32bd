// CRC-8 (poly 0x93) for host framing
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package crc8 implements the CRC-8 variant used to close every host
// request and response frame on the secondary bus: poly=0x93, init=0x00,
// xorout=0x00, refin=false, refout=false. Grounded on
// original_source/avr-mdb/crc.h and crc_test.c.
package crc8

const poly = 0x93

// Byte returns the CRC-8 of a single byte against an init/running value of
// 0 (crc8(0x55) == 0x86, etc).
func Byte(b byte) byte {
	return Update(0, b)
}

// Update folds one more byte into a running CRC value.
func Update(crc byte, b byte) byte {
	crc ^= b

	for i := 0; i < 8; i++ {
		if crc&0x80 != 0 {
			crc = (crc << 1) ^ poly
		} else {
			crc <<= 1
		}
	}

	return crc
}

// Pair returns the CRC-8 of two bytes.
func Pair(a, b byte) byte {
	return Update(Update(0, a), b)
}

// Triple returns the CRC-8 of three bytes.
func Triple(a, b, c byte) byte {
	return Update(Pair(a, b), c)
}

// Span returns the CRC-8 of an arbitrary byte slice.
func Span(data []byte) byte {
	var crc byte

	for _, b := range data {
		crc = Update(crc, b)
	}

	return crc
}
