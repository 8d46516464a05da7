// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package m2000 implements the ASCII command/query protocol spoken by the
// APS M2000 family of power analyzers.
//
// The package is transport independent: it builds commands, frames them for
// the wire (including USB HID report chunking), recovers replies from raw
// bytes, decodes NR3 numeric fields and formats values with engineering
// prefixes. Sessions and transports live in sibling packages.
package m2000

// Terminators accepted on receive. CR+LF is always used on transmit.
const (
	LF  = '\n'
	CR  = '\r'
	FF  = '\f'
	NUL = 0x00
)

// Terminator is appended to every transmitted command set.
const Terminator = "\r\n"

// Separators
const (
	FieldSeparator    = ","
	SubFieldSeparator = ":"
	CommandSeparator  = ";"
)

// Size limits
const (
	MaxCommandLength  = 4095
	MaxResponseLength = 16384
	MaxSubFields      = 5
)

// USB HID
const (
	HIDReportSize = 64
	HIDReportID   = 0x00
	VendorID      = 0x10C4 // 4292
	ProductID     = 0x8835 // 34869
)

// LAN
const DefaultTCPPort = 10733

// VendorMarker must appear in the identification reply.
const VendorMarker = "APS"

// Supported serial baud rates
var BaudRates = []int{9600, 19200, 57600, 115200}

// Keywords
const (
	KeywordIdentify    = "*IDN?"
	KeywordReset       = "*RST"
	KeywordClear       = "*CLS"
	KeywordError       = "*ERR?"
	KeywordRead        = "READ?"
	KeywordReread      = "REREAD?"
	KeywordChannelInfo = "CHINFO?"
	KeywordLocal       = "LOCAL"
)

// Measurement types
const (
	TypeVolts = "VOLTS"
	TypeAmps  = "AMPS"
	TypeWatts = "WATTS"
	TypeVA    = "VA"
	TypeVAR   = "VAR"
	TypePF    = "PF"
	TypeFreq  = "FREQ"
	TypePhase = "PHASE"
	TypeTHD   = "THD"
	TypeCF    = "CF"
	TypeFF    = "FF"
)

// Coupling / statistic types
const (
	CouplingACDC = "ACDC"
	CouplingAC   = "AC"
	CouplingDC   = "DC"
)

// Channels
var Channels = []string{"CH1", "CH2", "CH3", "CH4", "VPA1", "VPA2", "VPA3"}

// Error register codes
const (
	ErrCodeNone       = 0
	ErrCodeOutOfRange = 3
	ErrCodeMax        = 10
)
