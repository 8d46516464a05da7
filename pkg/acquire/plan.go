// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package acquire

import (
	"fmt"
	"strings"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// Column describes one value of the field set as it appears in records.
type Column struct {
	Channel   string
	Parameter string
	Unit      string
}

// Key returns the CHANNEL_PARAM label.
func (c Column) Key() string {
	return c.Channel + "_" + c.Parameter
}

// Header returns the CSV column title, e.g. CH1_V(V).
func (c Column) Header() string {
	if c.Unit == "" {
		return c.Key()
	}
	return fmt.Sprintf("%s(%s)", c.Key(), c.Unit)
}

// Plan is the ordered field set requested by READ? and the column each
// returned value belongs to.
type Plan struct {
	Fields  []m2000.Field
	Columns []Column
}

// Len returns the number of values per cycle.
func (p Plan) Len() int {
	return len(p.Fields)
}

// Headers returns the CSV header row, starting with the timestamp column.
func (p Plan) Headers() []string {
	h := make([]string, 0, len(p.Columns)+1)
	h = append(h, "Timestamp")
	for _, c := range p.Columns {
		h = append(h, c.Header())
	}
	return h
}

// coupled reports whether a measurement type takes a coupling sub-field
func coupled(typ string) bool {
	switch typ {
	case m2000.TypeVolts, m2000.TypeAmps, m2000.TypeWatts, m2000.TypeVA, m2000.TypeVAR:
		return true
	}
	return false
}

// Add appends one channel/parameter pair.
func (p *Plan) Add(channel, param, coupling string) error {
	typ, err := m2000.MeasurementType(param)
	if err != nil {
		return err
	}
	ch := strings.ToUpper(strings.TrimSpace(channel))
	if ch == "" {
		return fmt.Errorf("empty channel")
	}
	f := m2000.Field{Type: typ, Source: ch}
	if coupled(typ) {
		f.Coupling = strings.ToUpper(coupling)
	}
	if _, err := f.Encode(); err != nil {
		return err
	}
	p.Fields = append(p.Fields, f)
	p.Columns = append(p.Columns, Column{
		Channel:   ch,
		Parameter: m2000.ParameterName(typ),
		Unit:      m2000.BaseUnit(typ),
	})
	return nil
}

// NewPlan builds the cross product of channels and parameters, channel-major.
func NewPlan(channels, params []string, coupling string) (Plan, error) {
	var p Plan
	if len(channels) == 0 || len(params) == 0 {
		return p, fmt.Errorf("plan needs at least one channel and one parameter")
	}
	for _, ch := range channels {
		for _, param := range params {
			if err := p.Add(ch, param, coupling); err != nil {
				return Plan{}, fmt.Errorf("%s %s: %w", ch, param, err)
			}
		}
	}
	return p, nil
}

// ThreePhasePlan returns the field set of a three-phase power survey: system
// power figures from the VPA1 virtual channel and per-phase volts and amps
// from CH1 to CH3. Only the coupling can make it fail.
func ThreePhasePlan(coupling string) (Plan, error) {
	var p Plan
	for _, param := range []string{"W", "VA", "VAR", "PF", "FREQ"} {
		if err := p.Add("VPA1", param, coupling); err != nil {
			return Plan{}, fmt.Errorf("VPA1 %s: %w", param, err)
		}
	}
	for _, ch := range []string{"CH1", "CH2", "CH3"} {
		for _, param := range []string{"V", "A"} {
			if err := p.Add(ch, param, coupling); err != nil {
				return Plan{}, fmt.Errorf("%s %s: %w", ch, param, err)
			}
		}
	}
	return p, nil
}
