// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"fmt"
	"strings"
)

// Frame returns the wire bytes for a command set: ASCII text followed by CR+LF.
// Any trailing terminator characters already present are replaced so that a
// bare LF is never transmitted.
func Frame(c Command) ([]byte, error) {
	return FrameText(c.Text())
}

// FrameText frames raw command text.
func FrameText(text string) ([]byte, error) {
	text = strings.TrimRight(text, "\r\n\f\x00")
	if text == "" {
		return nil, ErrEmptyCommand
	}
	if len(text)+len(Terminator) > MaxCommandLength {
		return nil, ErrCommandTooLong
	}
	for i := 0; i < len(text); i++ {
		if text[i] > 0x7E || (text[i] < 0x20 && text[i] != '\t') {
			return nil, fmt.Errorf("non-printable byte 0x%02X at offset %d", text[i], i)
		}
	}
	out := make([]byte, 0, len(text)+len(Terminator))
	out = append(out, text...)
	return append(out, Terminator...), nil
}

// Deframe strips trailing terminators (LF, CR, FF or NUL) from a raw reply.
func Deframe(raw []byte) string {
	end := len(raw)
	for end > 0 && isTerminator(raw[end-1]) {
		end--
	}
	return string(raw[:end])
}

// SplitReplies splits a deframed reply into one segment per query of the set,
// preserving order.
func SplitReplies(line string) []string {
	parts := strings.Split(line, CommandSeparator)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func isTerminator(b byte) bool {
	return b == LF || b == CR || b == FF || b == NUL
}

// ChunkReports splits framed bytes into fixed-size HID output reports. Each
// report starts with the report ID and is zero padded.
func ChunkReports(data []byte, reportSize int) [][]byte {
	if reportSize < 2 {
		reportSize = HIDReportSize
	}
	per := reportSize - 1
	reports := make([][]byte, 0, (len(data)+per-1)/per)
	for off := 0; off < len(data); off += per {
		end := off + per
		if end > len(data) {
			end = len(data)
		}
		report := make([]byte, reportSize)
		report[0] = HIDReportID
		copy(report[1:], data[off:end])
		reports = append(reports, report)
	}
	return reports
}

// ReportPayload extracts the ASCII bytes carried by one HID input report: the
// report ID is skipped and the payload ends at the first NUL or the first
// non-ASCII byte. A terminator inside the report is kept so the response
// decoder can see it.
func ReportPayload(report []byte) []byte {
	if len(report) <= 1 {
		return nil
	}
	body := report[1:]
	for i, b := range body {
		if b == NUL {
			return body[:i]
		}
		if isTerminator(b) {
			continue
		}
		if b < 0x20 || b > 0x7E {
			return body[:i]
		}
	}
	return body
}
