// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/config"
)

var (
	configPath string

	// Interface selection
	ifaceName string

	// Serial connection flags
	portName   string
	baudRate   int
	requireCTS bool

	// LAN connection flags
	lanHost string
	lanPort int

	// USB connection flags
	usbSerial string

	queryTimeout time.Duration

	// Logging flags
	logLevel  string
	logFormat string
	logFile   string

	// Resolved by PersistentPreRunE
	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "m2000",
	Short: "APS M2000 Power Analyzer host tool",
	Long: `m2000 - A CLI tool for controlling and acquiring data from APS M2000
series power analyzers.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200] [--require-cts=false]
  LAN:       --host 192.168.1.100 [--tcp-port 10733]
  USB HID:   --interface usb [--usb-serial SN]
  Simulator: --interface sim

The interface is inferred from --port or --host when --interface is not set.
Settings may also come from a YAML file (--config); flags override the file.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&ifaceName, "interface", "i", "", "Interface: serial, lan, usb or sim")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().BoolVar(&requireCTS, "require-cts", true,
		"Wait for CTS before each write (serial only). The serial driver has no hardware\n"+
			"flow-control mode, so RTS/CTS is enforced in software; disable only for 3-wire cables")

	// LAN connection flags
	rootCmd.PersistentFlags().StringVar(&lanHost, "host", "", "Analyzer IP address or host name")
	rootCmd.PersistentFlags().IntVar(&lanPort, "tcp-port", 10733, "Analyzer TCP port")

	// USB connection flags
	rootCmd.PersistentFlags().StringVar(&usbSerial, "usb-serial", "", "USB serial number (first device if empty)")

	rootCmd.PersistentFlags().DurationVar(&queryTimeout, "timeout", 5*time.Second, "Reply timeout per query")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

// loadConfig resolves the configuration file, applies explicitly set flags
// over it and builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg = config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger = setupLogger(cfg.Log)
	logger.WithFields(logrus.Fields{
		"interface": cfg.Interface,
		"config":    configPath,
	}).Debug("configuration loaded")
	return nil
}

// applyFlags copies flags the user set onto c
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("port") {
		c.Serial.Port = portName
	}
	if flags.Changed("baud") {
		c.Serial.Baud = baudRate
	}
	if flags.Changed("require-cts") {
		c.Serial.RequireCTS = requireCTS
	}
	if flags.Changed("host") {
		c.LAN.Host = lanHost
	}
	if flags.Changed("tcp-port") {
		c.LAN.Port = lanPort
	}
	if flags.Changed("usb-serial") {
		c.USB.Serial = usbSerial
	}
	if flags.Changed("timeout") {
		c.Timeouts.Query = queryTimeout
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		c.Log.Output = "file"
		c.Log.FilePath = logFile
	}

	switch {
	case flags.Changed("interface"):
		c.Interface = ifaceName
	case flags.Changed("host"):
		c.Interface = "lan"
	case flags.Changed("port"):
		c.Interface = "serial"
	case flags.Changed("usb-serial"):
		c.Interface = "usb"
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
