// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// TimestampLayout is the first CSV column's format.
const TimestampLayout = "2006-01-02 15:04:05.000"

// CSV logs valid records as rows of raw values. Unavailable values are
// written as empty cells. Invalid records are skipped.
type CSV struct {
	w       *csv.Writer
	closer  io.Closer
	columns int
	rows    int
}

// NewCSV writes headers to w and returns a sink appending one row per valid
// record. The first header names the timestamp column.
func NewCSV(w io.Writer, headers []string) (*CSV, error) {
	if len(headers) < 2 {
		return nil, fmt.Errorf("csv needs a timestamp and at least one value column")
	}
	c := &CSV{w: csv.NewWriter(w), columns: len(headers) - 1}
	if err := c.w.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	c.w.Flush()
	return c, c.w.Error()
}

// CreateCSV creates (or truncates) path and logs to it.
func CreateCSV(path string, headers []string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c, err := NewCSV(f, headers)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// Rows returns the number of data rows written.
func (c *CSV) Rows() int {
	return c.rows
}

func (c *CSV) Write(rec m2000.Record) error {
	if !rec.Valid() {
		return nil
	}
	if len(rec.Measurements) != c.columns {
		return &m2000.FieldCountMismatchError{Expected: c.columns, Got: len(rec.Measurements)}
	}
	row := make([]string, 0, c.columns+1)
	row = append(row, rec.Timestamp.Format(TimestampLayout))
	for _, m := range rec.Measurements {
		f, err := m.Value.Float64()
		if err != nil {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(f, 'g', -1, 64))
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	// Flush per row so an interrupted run keeps everything logged so far
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	c.rows++
	return nil
}

func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
