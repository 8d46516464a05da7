// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Measurement is one (channel, parameter) entry of a record.
type Measurement struct {
	Channel   string
	Parameter string // short name, e.g. V
	Value     Value
	Unit      string
	Formatted string
}

// Key returns the CHANNEL_PARAM label used in logs and CSV headers.
func (m Measurement) Key() string {
	return m.Channel + "_" + m.Parameter
}

// Record is the result of one acquisition cycle.
type Record struct {
	Seq          int
	Timestamp    time.Time
	Elapsed      time.Duration // since the first cycle
	Measurements []Measurement
	Err          error // non-nil marks the record invalid
}

// Valid reports whether the cycle produced trustworthy values.
func (r Record) Valid() bool {
	return r.Err == nil
}

// wireMeasurement is the serialized form; Value is nil when unavailable
type wireMeasurement struct {
	Channel   string   `json:"channel" cbor:"0,keyasint"`
	Parameter string   `json:"parameter" cbor:"1,keyasint"`
	Value     *float64 `json:"raw" cbor:"2,keyasint"`
	Unit      string   `json:"unit" cbor:"3,keyasint"`
	Formatted string   `json:"formatted" cbor:"4,keyasint"`
}

type wireRecord struct {
	Seq          int               `json:"sample" cbor:"0,keyasint"`
	Timestamp    float64           `json:"timestamp" cbor:"1,keyasint"`
	Elapsed      float64           `json:"elapsed" cbor:"2,keyasint"`
	Valid        bool              `json:"valid" cbor:"3,keyasint"`
	Error        string            `json:"error,omitempty" cbor:"4,keyasint,omitempty"`
	Measurements []wireMeasurement `json:"measurements" cbor:"5,keyasint"`
}

func (r Record) wire() wireRecord {
	w := wireRecord{
		Seq:          r.Seq,
		Timestamp:    float64(r.Timestamp.UnixNano()) / 1e9,
		Elapsed:      r.Elapsed.Seconds(),
		Valid:        r.Valid(),
		Measurements: make([]wireMeasurement, len(r.Measurements)),
	}
	if r.Err != nil {
		w.Error = r.Err.Error()
	}
	for i, m := range r.Measurements {
		wm := wireMeasurement{
			Channel:   m.Channel,
			Parameter: m.Parameter,
			Unit:      m.Unit,
			Formatted: m.Formatted,
		}
		if f, err := m.Value.Float64(); err == nil {
			wm.Value = &f
		}
		w.Measurements[i] = wm
	}
	return w
}

func (w wireRecord) record() Record {
	r := Record{
		Seq:          w.Seq,
		Timestamp:    time.Unix(0, int64(w.Timestamp*1e9)),
		Elapsed:      time.Duration(w.Elapsed * float64(time.Second)),
		Measurements: make([]Measurement, len(w.Measurements)),
	}
	if !w.Valid {
		r.Err = fmt.Errorf("%s", w.Error)
	}
	for i, wm := range w.Measurements {
		v := Unavailable
		if wm.Value != nil {
			v = Float(*wm.Value)
		}
		r.Measurements[i] = Measurement{
			Channel:   wm.Channel,
			Parameter: wm.Parameter,
			Value:     v,
			Unit:      wm.Unit,
			Formatted: wm.Formatted,
		}
	}
	return r
}

// MarshalJSON encodes the record for dashboards and message queues.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// EncodeRecordCBOR encodes a record as a compact CBOR map with integer keys.
func EncodeRecordCBOR(r Record) ([]byte, error) {
	data, err := cbor.Marshal(r.wire())
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// DecodeRecordCBOR decodes a record produced by EncodeRecordCBOR.
func DecodeRecordCBOR(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, fmt.Errorf("empty CBOR record")
	}
	var w wireRecord
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return w.record(), nil
}
