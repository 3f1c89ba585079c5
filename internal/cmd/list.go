package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/google/gousb"
	"github.com/google/gousb/usbid"

	"github.com/hwbench/usbperf/internal/usbdev"
)

// List enumerates USB devices with their configurations, interfaces and
// endpoints, so the right --endpoint argument for a run can be found.
type List struct {
	VIDPID   string `name:"vidpid" help:"Only list devices matching VID:PID, e.g. 16c0:0763" env:"USBPERF_VIDPID"`
	USBDebug int    `name:"usb-debug" help:"libusb debug level (0..4)" default:"0" env:"USBPERF_USB_DEBUG"`
}

// Run is called by Kong when the list command is executed.
func (l *List) Run(logger *slog.Logger) error {
	return l.list(logger, os.Stdout)
}

func (l *List) list(logger *slog.Logger, out io.Writer) error {
	var sel *usbdev.Selector
	if l.VIDPID != "" {
		s, err := usbdev.ParseVIDPID(l.VIDPID)
		if err != nil {
			return fmt.Errorf("invalid value for --vidpid (%q): %w", l.VIDPID, err)
		}
		sel = &s
	}

	uctx := gousb.NewContext()
	defer func() {
		if err := uctx.Close(); err != nil {
			logger.Warn("closing USB context", "error", err)
		}
	}()
	uctx.Debug(l.USBDebug)

	// The filter prints as a side effect and always returns false, so no
	// device is actually opened.
	_, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if sel != nil && !sel.Matches(desc) {
			return false
		}
		printDevice(out, desc)
		return false
	})
	if err != nil {
		// Enumeration errors on individual devices are common (permissions);
		// everything listable has been listed at this point.
		logger.Warn("device enumeration reported errors", "error", err)
	}
	return nil
}

func printDevice(out io.Writer, desc *gousb.DeviceDesc) {
	fmt.Fprintf(out, "%03d:%03d %s:%s %s\n", desc.Bus, desc.Address, desc.Vendor, desc.Product, usbid.Describe(desc))
	fmt.Fprintf(out, "  Protocol: %s\n", usbid.Classify(desc))

	cfgNums := make([]int, 0, len(desc.Configs))
	for n := range desc.Configs {
		cfgNums = append(cfgNums, n)
	}
	sort.Ints(cfgNums)

	for _, n := range cfgNums {
		cfg := desc.Configs[n]
		fmt.Fprintf(out, "  %s:\n", cfg)
		for _, intf := range cfg.Interfaces {
			fmt.Fprintf(out, "    --------------\n")
			for _, alt := range intf.AltSettings {
				fmt.Fprintf(out, "    %s\n", alt)
				fmt.Fprintf(out, "      %s\n", usbid.Classify(alt))
				for _, ep := range sortedEndpoints(alt) {
					fmt.Fprintf(out, "      %s\n", ep)
				}
			}
		}
		fmt.Fprintf(out, "    --------------\n")
	}
}

func sortedEndpoints(alt gousb.InterfaceSetting) []gousb.EndpointDesc {
	eps := make([]gousb.EndpointDesc, 0, len(alt.Endpoints))
	for _, ep := range alt.Endpoints {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Address < eps[j].Address })
	return eps
}
