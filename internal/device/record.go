package device

import (
	"fmt"

	"github.com/gajzzs/usbscan/internal/crypto"
	"github.com/gajzzs/usbscan/internal/usb"
)

// Placeholders shown instead of descriptor strings.
const (
	NotAvailable = "N/A"
	ReadError    = "N/A (read error)"
)

// StringResult is the outcome of reading one descriptor string.
type StringResult struct {
	Value string
	Err   error
}

// String returns the value, or a placeholder when the read failed or the
// device has no such string. It is never empty.
func (r StringResult) String() string {
	if r.Err != nil {
		return ReadError
	}
	if r.Value == "" {
		return NotAvailable
	}
	return r.Value
}

// DeviceRecord is what a scan learned about one enumerated device.
type DeviceRecord struct {
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
	Bus       uint8  `json:"bus"`
	Address   uint8  `json:"address"`
	Port      string `json:"port,omitempty"`

	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Serial       string `json:"serial"`

	// Ignored is set for root hubs and other skipped vendors.
	Ignored bool `json:"ignored,omitempty"`
	// Detached is set when at least one kernel driver was detached.
	Detached bool `json:"detached,omitempty"`
	// Configured is set when a configuration could be read.
	Configured bool            `json:"configured"`
	Interfaces []usb.Interface `json:"interfaces,omitempty"`
}

// ID returns the vendor:product pair.
func (r DeviceRecord) ID() string {
	return fmt.Sprintf("%04x:%04x", r.VendorID, r.ProductID)
}

func newRecord(info usb.DeviceInfo) DeviceRecord {
	return DeviceRecord{
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		Bus:          info.Bus,
		Address:      info.Address,
		Port:         info.Port,
		Manufacturer: NotAvailable,
		Product:      NotAvailable,
		Serial:       NotAvailable,
	}
}

// FlashDetectionResult is a mass storage interface found during a scan.
type FlashDetectionResult struct {
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	Bus          uint8  `json:"bus"`
	Address      uint8  `json:"address"`
	Port         string `json:"port,omitempty"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Serial       string `json:"serial"`
	Interface    uint8  `json:"interface"`
	Fingerprint  string `json:"fingerprint"`
}

// ID returns the vendor:product pair.
func (f FlashDetectionResult) ID() string {
	return fmt.Sprintf("%04x:%04x", f.VendorID, f.ProductID)
}

func newFlashResult(rec DeviceRecord, iface uint8) FlashDetectionResult {
	return FlashDetectionResult{
		VendorID:     rec.VendorID,
		ProductID:    rec.ProductID,
		Bus:          rec.Bus,
		Address:      rec.Address,
		Port:         rec.Port,
		Manufacturer: rec.Manufacturer,
		Product:      rec.Product,
		Serial:       rec.Serial,
		Interface:    iface,
		Fingerprint:  crypto.DeviceFingerprint(rec.VendorID, rec.ProductID, rec.Serial, rec.Port),
	}
}

// Report is the outcome of a scan or listing.
type Report struct {
	Devices     []DeviceRecord         `json:"devices"`
	Flashes     []FlashDetectionResult `json:"flashes"`
	Diagnostics []Diagnostic           `json:"diagnostics"`
}

// Reported returns the devices that are not ignored.
func (r *Report) Reported() []DeviceRecord {
	var out []DeviceRecord
	for _, rec := range r.Devices {
		if !rec.Ignored {
			out = append(out, rec)
		}
	}
	return out
}

// DiagnosticsFor returns the diagnostics concerning the device at bus/address.
func (r *Report) DiagnosticsFor(bus, address uint8) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Bus == bus && d.Address == address {
			out = append(out, d)
		}
	}
	return out
}
