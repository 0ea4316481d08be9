// Package discovery is C16: the thin layer immediately above USB
// enumeration boilerplate that spec.md §1 excludes from the core. It
// enumerates attached bulk-CAN USB devices matching a vendor/product ID
// allow-list and resolves a channel-index-or-serial open request
// (spec.md §6.4) to one concrete gousb.Device, without itself driving
// the command/message bulk pipes (that's usbtransport.Open's job).
package discovery

import (
	"sort"
	"strings"

	"github.com/google/gousb"
	"github.com/jgressmann/supercan-go/internal/scerr"
)

// VIDPID names one vendor/product ID pair a caller is willing to treat
// as a bulk-CAN interface. OEM variants of the same device family ship
// under different product IDs, so callers pass an allow-list rather than
// a single pinned pair.
type VIDPID struct {
	VendorID  gousb.ID
	ProductID gousb.ID
}

// Summary is one discovered device's identity, enough to pick among
// several attached units before committing to a full Open.
type Summary struct {
	VendorID     gousb.ID
	ProductID    gousb.ID
	Serial       string
	Manufacturer string
	Product      string
	Bus, Address int
}

// Enumerate opens ctx's device list, keeps only devices whose VID/PID
// matches one of allow, and returns a Summary per match sorted by (bus,
// address) for a stable display order. Every device opened during the
// scan is closed again before returning — this is a probe, not a claim.
func Enumerate(ctx *gousb.Context, allow []VIDPID) ([]Summary, error) {
	matches := make(map[VIDPID]bool, len(allow))
	for _, a := range allow {
		matches[a] = true
	}

	var out []Summary
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return matches[VIDPID{VendorID: desc.Vendor, ProductID: desc.Product}]
	})
	if err != nil {
		return nil, scerr.Wrap("discovery.enumerate", scerr.KindDeviceFailure, err)
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	for _, d := range devices {
		s := Summary{
			VendorID:  d.Desc.Vendor,
			ProductID: d.Desc.Product,
			Bus:       d.Desc.Bus,
			Address:   d.Desc.Address,
		}
		if serial, err := d.SerialNumber(); err == nil {
			s.Serial = serial
		}
		if mfg, err := d.Manufacturer(); err == nil {
			s.Manufacturer = mfg
		}
		if prod, err := d.Product(); err == nil {
			s.Product = prod
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bus != out[j].Bus {
			return out[i].Bus < out[j].Bus
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// Selector picks one device out of an Enumerate result: by channel index
// (position in the sorted list) or by serial, matching spec.md §6.4's
// "channel index or device serial" open parameter.
type Selector struct {
	Index  int // -1 means "match by Serial instead"
	Serial string
}

// ByIndex builds a Selector matching the nth discovered device.
func ByIndex(index int) Selector { return Selector{Index: index, Serial: ""} }

// BySerial builds a Selector matching a device's serial, compared
// case-insensitively.
func BySerial(serial string) Selector { return Selector{Index: -1, Serial: serial} }

// Resolve narrows an Enumerate result to the one Summary sel names.
func Resolve(summaries []Summary, sel Selector) (Summary, error) {
	if sel.Serial != "" {
		for _, s := range summaries {
			if strings.EqualFold(s.Serial, sel.Serial) {
				return s, nil
			}
		}
		return Summary{}, scerr.New("discovery.resolve", scerr.KindDeviceUnsupported, "no device with serial "+sel.Serial)
	}
	if sel.Index < 0 || sel.Index >= len(summaries) {
		return Summary{}, scerr.New("discovery.resolve", scerr.KindInvalidParam, "channel index out of range")
	}
	return summaries[sel.Index], nil
}
