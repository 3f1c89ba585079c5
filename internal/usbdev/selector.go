// Package usbdev wraps the gousb open/claim/release chain so the rest of
// the tool deals with one handle instead of a context, device, config and
// interface that each need separate cleanup.
package usbdev

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// Selector identifies a single USB device either by vendor/product ID or by
// bus number and device address.
type Selector struct {
	VID, PID  gousb.ID
	Bus, Addr int

	byBusAddr bool
}

// ParseVIDPID parses a "vid:pid" selector, two 16-bit hex numbers separated
// by a colon, e.g. "16c0:0763".
func ParseVIDPID(vidPid string) (Selector, error) {
	s := strings.Split(vidPid, ":")
	if len(s) != 2 {
		return Selector{}, fmt.Errorf("want VID:PID, two 16-bit hex numbers separated by colon, e.g. 16c0:0763")
	}
	vid, err := strconv.ParseUint(s[0], 16, 16)
	if err != nil {
		return Selector{}, fmt.Errorf("VID must be a hexadecimal 16-bit number, e.g. 16c0")
	}
	pid, err := strconv.ParseUint(s[1], 16, 16)
	if err != nil {
		return Selector{}, fmt.Errorf("PID must be a hexadecimal 16-bit number, e.g. 0763")
	}
	return Selector{VID: gousb.ID(vid), PID: gousb.ID(pid)}, nil
}

// ParseBusAddr parses a "bus:addr" selector, two 8-bit decimal unsigned
// integers separated by a colon, e.g. "1:4".
func ParseBusAddr(busAddr string) (Selector, error) {
	s := strings.Split(busAddr, ":")
	if len(s) != 2 {
		return Selector{}, fmt.Errorf("want bus:addr, two 8-bit decimal unsigned integers separated by colon, e.g. 1:4")
	}
	bus, err := strconv.ParseUint(s[0], 10, 8)
	if err != nil {
		return Selector{}, fmt.Errorf("bus number must be an 8-bit decimal unsigned integer")
	}
	addr, err := strconv.ParseUint(s[1], 10, 8)
	if err != nil {
		return Selector{}, fmt.Errorf("device address must be an 8-bit decimal unsigned integer")
	}
	return Selector{Bus: int(bus), Addr: int(addr), byBusAddr: true}, nil
}

// Matches reports whether desc is the device this selector points at.
func (s Selector) Matches(desc *gousb.DeviceDesc) bool {
	if s.byBusAddr {
		return desc.Bus == s.Bus && desc.Address == s.Addr
	}
	return desc.Vendor == s.VID && desc.Product == s.PID
}

func (s Selector) String() string {
	if s.byBusAddr {
		return fmt.Sprintf("bus:addr %d:%d", s.Bus, s.Addr)
	}
	return fmt.Sprintf("VID:PID %s:%s", s.VID, s.PID)
}

// ParseEndpointAddress parses a full endpoint address (hex with 0x prefix or
// decimal). Bit 7 selects the direction, e.g. 0x86 is IN endpoint 6.
func ParseEndpointAddress(s string) (num int, dir gousb.EndpointDirection, err error) {
	v, perr := strconv.ParseUint(s, 0, 8)
	if perr != nil {
		return 0, false, fmt.Errorf("endpoint address must be an 8-bit number, e.g. 0x86 or 134")
	}
	if v&0x70 != 0 {
		return 0, false, fmt.Errorf("endpoint address 0x%02x has reserved bits 4..6 set", v)
	}
	num = int(v & 0x0f)
	if num == 0 {
		return 0, false, fmt.Errorf("endpoint 0 is the control endpoint and cannot be benchmarked")
	}
	dir = gousb.EndpointDirectionOut
	if v&0x80 != 0 {
		dir = gousb.EndpointDirectionIn
	}
	return num, dir, nil
}
