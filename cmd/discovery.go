// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/transport"
)

var (
	discoveryUSBOnly bool
	discoveryHID     bool
)

var discoveryCmd = &cobra.Command{
	Use:     "discovery",
	Aliases: []string{"list"},
	Short:   "List serial ports and attached USB analyzers",
	Long: `List the host's serial ports and any M2000 analyzers attached over USB.

Serial ports are listed with their USB identifiers when they belong to a
USB-serial adapter. USB analyzers are found by vendor and product ID
(usb.vendor_id/usb.product_id in the configuration file, 10C4:8835 by
default) and can be opened with --interface usb --usb-serial <serial>.

LAN analyzers cannot be discovered; use --host.

Exit codes:
  0 - At least one port or device found
  1 - Nothing found
  2 - Enumeration failed`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().BoolVar(&discoveryUSBOnly, "usb-only", false, "Only list USB-serial adapters")
	discoveryCmd.Flags().BoolVar(&discoveryHID, "hid", true, "Also enumerate USB HID analyzers")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	fmt.Printf("M2000 - Device Discovery\n\n")

	ports, err := transport.ListSerialPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}

	found := 0
	fmt.Printf("Serial ports:\n")
	for _, p := range ports {
		if discoveryUSBOnly && !p.USB {
			continue
		}
		found++
		fmt.Printf("  %s\n", formatPort(p))
	}
	if found == 0 {
		fmt.Printf("  (none)\n")
	}

	if discoveryHID {
		devices, err := transport.ListHIDDevices(cfg.USB.VendorID, cfg.USB.ProductID)
		fmt.Printf("\nUSB analyzers (%04X:%04X):\n", cfg.USB.VendorID, cfg.USB.ProductID)
		switch {
		case err != nil:
			fmt.Printf("  enumeration failed: %v\n", err)
		case len(devices) == 0:
			fmt.Printf("  (none)\n")
		default:
			for _, d := range devices {
				found++
				fmt.Printf("  %s\n", formatHIDDevice(d))
			}
		}
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Found: %d\n", found)
	if found == 0 {
		fmt.Printf("Nothing found. Check cabling and device power.\n")
		os.Exit(1)
	}
	return nil
}

func formatPort(p transport.PortInfo) string {
	if !p.USB {
		return p.Name
	}
	s := fmt.Sprintf("%-16s USB %s:%s", p.Name, strings.ToUpper(p.VID), strings.ToUpper(p.PID))
	if p.SerialNumber != "" {
		s += " serial " + p.SerialNumber
	}
	return s
}

func formatHIDDevice(d transport.HIDDeviceInfo) string {
	var parts []string
	if d.Manufacturer != "" || d.Product != "" {
		parts = append(parts, strings.TrimSpace(d.Manufacturer+" "+d.Product))
	}
	if d.Serial != "" {
		parts = append(parts, "serial "+d.Serial)
	}
	parts = append(parts, d.Path)
	return strings.Join(parts, ", ")
}
