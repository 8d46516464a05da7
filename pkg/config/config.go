// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package config loads the YAML configuration shared by every command.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/sink"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/transport"
)

type Config struct {
	Interface   string            `yaml:"interface"`
	Serial      SerialConfig      `yaml:"serial"`
	LAN         LANConfig         `yaml:"lan"`
	USB         USBConfig         `yaml:"usb"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Redis       RedisConfig       `yaml:"redis"`
	Web         WebConfig         `yaml:"web"`
}

type SerialConfig struct {
	Port       string        `yaml:"port"`
	Baud       int           `yaml:"baud"`
	RequireCTS bool          `yaml:"require_cts"`
	CTSTimeout time.Duration `yaml:"cts_timeout"`
}

type LANConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type USBConfig struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
	Serial    string `yaml:"serial"`
}

type TimeoutConfig struct {
	Query  time.Duration `yaml:"query"`
	Settle time.Duration `yaml:"settle"`
}

type AcquisitionConfig struct {
	Rate       float64       `yaml:"rate"`
	Duration   time.Duration `yaml:"duration"`
	MaxSamples int           `yaml:"max_samples"`
	Channels   []string      `yaml:"channels"`
	Parameters []string      `yaml:"parameters"`
	Coupling   string        `yaml:"coupling"`
	CSV        string        `yaml:"csv"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	List     string `yaml:"list"`
	History  int    `yaml:"history"`
	Format   string `yaml:"format"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a complete configuration.
func Default() *Config {
	tc := transport.DefaultConfig()
	rc := sink.DefaultRedisConfig()
	return &Config{
		Interface: string(transport.KindSerial),
		Serial: SerialConfig{
			Port:       "/dev/ttyUSB0",
			Baud:       tc.Serial.Baud,
			RequireCTS: tc.Serial.RequireCTS,
			CTSTimeout: tc.Serial.CTSTimeout,
		},
		LAN: LANConfig{
			Host:        "192.168.1.100",
			Port:        tc.LAN.Port,
			DialTimeout: tc.LAN.DialTimeout,
		},
		USB: USBConfig{
			VendorID:  tc.HID.VendorID,
			ProductID: tc.HID.ProductID,
		},
		Timeouts: TimeoutConfig{
			Query:  5 * time.Second,
			Settle: 100 * time.Millisecond,
		},
		Acquisition: AcquisitionConfig{
			Rate:       2,
			Channels:   []string{"CH1"},
			Parameters: []string{"V", "A", "W"},
			Coupling:   m2000.CouplingACDC,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Redis: RedisConfig{
			Addr:    rc.Addr,
			Channel: rc.Channel,
			List:    rc.List,
			History: rc.History,
			Format:  rc.Format,
		},
		Web: WebConfig{
			Addr: ":8080",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the instrument or a component would reject.
func (c *Config) Validate() error {
	if _, err := transport.ParseKind(c.Interface); err != nil {
		return err
	}
	if !slices.Contains(m2000.BaudRates, c.Serial.Baud) {
		return fmt.Errorf("unsupported baud rate %d (want one of %v)", c.Serial.Baud, m2000.BaudRates)
	}
	if c.LAN.Port <= 0 || c.LAN.Port > 65535 {
		return fmt.Errorf("invalid TCP port %d", c.LAN.Port)
	}
	if c.Timeouts.Query <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if err := c.AcquireConfig().Validate(); err != nil {
		return err
	}
	switch strings.ToUpper(c.Acquisition.Coupling) {
	case "", m2000.CouplingACDC, m2000.CouplingAC, m2000.CouplingDC:
	default:
		return fmt.Errorf("unknown coupling %q", c.Acquisition.Coupling)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := sink.EncodeRecord(m2000.Record{}, c.Redis.Format); err != nil {
		return err
	}
	return nil
}

// TransportConfig returns the transport settings for the selected
// interface.
func (c *Config) TransportConfig() transport.Config {
	kind, _ := transport.ParseKind(c.Interface)
	return transport.Config{
		Kind: kind,
		Serial: transport.SerialConfig{
			Port:       c.Serial.Port,
			Baud:       c.Serial.Baud,
			RequireCTS: c.Serial.RequireCTS,
			CTSTimeout: c.Serial.CTSTimeout,
		},
		LAN: transport.LANConfig{
			Host:        c.LAN.Host,
			Port:        c.LAN.Port,
			DialTimeout: c.LAN.DialTimeout,
		},
		HID: transport.HIDConfig{
			VendorID:  c.USB.VendorID,
			ProductID: c.USB.ProductID,
			Serial:    c.USB.Serial,
		},
	}
}

// AcquireConfig returns the loop limits.
func (c *Config) AcquireConfig() acquire.Config {
	return acquire.Config{
		Rate:       c.Acquisition.Rate,
		Duration:   c.Acquisition.Duration,
		MaxSamples: c.Acquisition.MaxSamples,
	}
}

// Plan builds the channel × parameter field set.
func (c *Config) Plan() (acquire.Plan, error) {
	return acquire.NewPlan(c.Acquisition.Channels, c.Acquisition.Parameters, strings.ToUpper(c.Acquisition.Coupling))
}

// SinkRedisConfig returns the publisher settings.
func (c *Config) SinkRedisConfig() sink.RedisConfig {
	rc := sink.DefaultRedisConfig()
	rc.Addr = c.Redis.Addr
	rc.Password = c.Redis.Password
	rc.DB = c.Redis.DB
	rc.Channel = c.Redis.Channel
	rc.List = c.Redis.List
	rc.History = c.Redis.History
	rc.Format = c.Redis.Format
	return rc
}
