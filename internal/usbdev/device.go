package usbdev

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/gousb"
)

// Device is an opened USB device with an optionally claimed interface.
type Device struct {
	logger *slog.Logger

	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

// Open finds and opens the device matched by sel. When several devices
// match (possible with a VID:PID selector), the first one is used and the
// rest are closed again.
func Open(uctx *gousb.Context, sel Selector, logger *slog.Logger) (*Device, error) {
	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return sel.Matches(desc)
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if err != nil {
		// OpenDevices can fail on unrelated devices and still return matches.
		logger.Warn("device enumeration reported errors", "error", err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no device matches %s", sel)
	}
	if len(devs) > 1 {
		logger.Warn("multiple devices match, using first",
			"selector", sel.String(), "bus", devs[0].Desc.Bus, "addr", devs[0].Desc.Address)
		for _, d := range devs[1:] {
			_ = d.Close()
		}
	}
	return &Device{logger: logger, dev: devs[0]}, nil
}

// Desc returns the device descriptor.
func (d *Device) Desc() *gousb.DeviceDesc {
	return d.dev.Desc
}

// Describe returns a best-effort human readable device identification from
// the string descriptors. Devices without string descriptors yield "".
func (d *Device) Describe() string {
	var parts []string
	if s, err := d.dev.Manufacturer(); err == nil && s != "" {
		parts = append(parts, s)
	}
	if s, err := d.dev.Product(); err == nil && s != "" {
		parts = append(parts, s)
	}
	if s, err := d.dev.SerialNumber(); err == nil && s != "" {
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, " ")
}

// SetAutoDetach enables detaching kernel drivers from interfaces while they
// are claimed. Not supported on all platforms.
func (d *Device) SetAutoDetach(on bool) error {
	return d.dev.SetAutoDetach(on)
}

// Claim selects configuration cfgNum and claims interface intfNum with
// alternate setting alt.
func (d *Device) Claim(cfgNum, intfNum, alt int) error {
	cfg, err := d.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("selecting config %d: %w", cfgNum, err)
	}
	intf, err := cfg.Interface(intfNum, alt)
	if err != nil {
		_ = cfg.Close()
		return fmt.Errorf("claiming interface %d (alt %d): %w", intfNum, alt, err)
	}
	d.cfg = cfg
	d.intf = intf
	return nil
}

// FindEndpoint looks up the descriptor of an endpoint of the claimed
// interface. The error for a missing endpoint lists the addresses that do
// exist, since picking the wrong alt setting is the usual cause.
func (d *Device) FindEndpoint(num int, dir gousb.EndpointDirection) (gousb.EndpointDesc, error) {
	if d.intf == nil {
		return gousb.EndpointDesc{}, fmt.Errorf("no interface claimed")
	}
	var have []string
	for _, ep := range d.intf.Setting.Endpoints {
		if ep.Number == num && ep.Direction == dir {
			return ep, nil
		}
		have = append(have, fmt.Sprintf("0x%02x", uint8(ep.Address)))
	}
	sort.Strings(have)
	return gousb.EndpointDesc{}, fmt.Errorf("interface %d (alt %d) has no %s endpoint %d, available endpoints: %s",
		d.intf.Setting.Number, d.intf.Setting.Alternate, dir, num, strings.Join(have, ", "))
}

// InStream opens endpoint num for reading with count transfers of size
// bytes in flight. All transfers are allocated and submitted before this
// returns, so the host controller stays busy from the start.
func (d *Device) InStream(ctx context.Context, num, size, count int) (*gousb.ReadStream, error) {
	ep, err := d.intf.InEndpoint(num)
	if err != nil {
		return nil, fmt.Errorf("opening IN endpoint %d: %w", num, err)
	}
	s, err := ep.NewStream(size, count)
	if err != nil {
		return nil, fmt.Errorf("preparing read stream on %s: %w", ep, err)
	}
	return s, nil
}

// OutStream opens endpoint num for writing with count transfer buffers of
// size bytes.
func (d *Device) OutStream(ctx context.Context, num, size, count int) (*gousb.WriteStream, error) {
	ep, err := d.intf.OutEndpoint(num)
	if err != nil {
		return nil, fmt.Errorf("opening OUT endpoint %d: %w", num, err)
	}
	s, err := ep.NewStream(size, count)
	if err != nil {
		return nil, fmt.Errorf("preparing write stream on %s: %w", ep, err)
	}
	return s, nil
}

// Close releases the interface, the configuration and the device, in that
// order. The first error wins but release continues past it.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	var err error
	if d.cfg != nil {
		err = d.cfg.Close()
		d.cfg = nil
	}
	if d.dev != nil {
		if cerr := d.dev.Close(); err == nil {
			err = cerr
		}
		d.dev = nil
	}
	return err
}
