// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package transport

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sstallion/go-hid"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// HID wraps the M2000's USB HID interface. Writes are split into 64-byte
// output reports; reads return the ASCII payload of each input report.
type HID struct {
	dev     *hid.Device
	cfg     HIDConfig
	log     *logrus.Entry
	report  []byte
	pending []byte
}

// OpenHID opens the first device matching the configured IDs, or the one
// with the configured serial number.
func OpenHID(cfg HIDConfig, log *logrus.Entry) (*HID, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = m2000.VendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = m2000.ProductID
	}
	if log == nil {
		log = discardLogger()
	}

	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize hidapi: %w", err)
	}

	var (
		dev *hid.Device
		err error
	)
	if cfg.Serial != "" {
		dev, err = hid.Open(cfg.VendorID, cfg.ProductID, cfg.Serial)
	} else {
		dev, err = hid.OpenFirst(cfg.VendorID, cfg.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device %04X:%04X: %w", cfg.VendorID, cfg.ProductID, err)
	}

	return &HID{
		dev:    dev,
		cfg:    cfg,
		log:    log,
		report: make([]byte, m2000.HIDReportSize),
	}, nil
}

func (h *HID) Write(p []byte) (int, error) {
	for i, report := range m2000.ChunkReports(p, m2000.HIDReportSize) {
		n, err := h.dev.Write(report)
		if err != nil {
			return i * (m2000.HIDReportSize - 1), fmt.Errorf("USB write failed: %w", err)
		}
		if n < len(report)-1 {
			return i * (m2000.HIDReportSize - 1), fmt.Errorf("USB short write: %d of %d bytes", n, len(report))
		}
	}
	return len(p), nil
}

func (h *HID) Read(p []byte) (int, error) {
	if len(h.pending) > 0 {
		n := copy(p, h.pending)
		h.pending = h.pending[n:]
		return n, nil
	}

	n, err := h.dev.ReadWithTimeout(h.report, PollInterval)
	if err != nil {
		if errors.Is(err, hid.ErrTimeout) {
			return 0, nil
		}
		return 0, fmt.Errorf("USB read failed: %w", err)
	}
	payload := m2000.ReportPayload(h.report[:n])
	c := copy(p, payload)
	if c < len(payload) {
		h.pending = append(h.pending[:0], payload[c:]...)
	}
	return c, nil
}

// Drain discards any report the device has already queued.
func (h *HID) Drain() error {
	h.pending = h.pending[:0]
	for {
		_, err := h.dev.ReadWithTimeout(h.report, 0)
		if err != nil {
			if errors.Is(err, hid.ErrTimeout) {
				return nil
			}
			return err
		}
	}
}

func (h *HID) Close() error {
	return h.dev.Close()
}

func (h *HID) String() string {
	if h.cfg.Serial != "" {
		return fmt.Sprintf("USB: %04X:%04X serial %s", h.cfg.VendorID, h.cfg.ProductID, h.cfg.Serial)
	}
	return fmt.Sprintf("USB: %04X:%04X", h.cfg.VendorID, h.cfg.ProductID)
}

// HIDDeviceInfo describes one attached analyzer.
type HIDDeviceInfo struct {
	Path         string
	Serial       string
	Manufacturer string
	Product      string
}

// ListHIDDevices enumerates attached devices with the given IDs.
func ListHIDDevices(vid, pid uint16) ([]HIDDeviceInfo, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize hidapi: %w", err)
	}
	var devices []HIDDeviceInfo
	err := hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		devices = append(devices, HIDDeviceInfo{
			Path:         info.Path,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return devices, nil
}
