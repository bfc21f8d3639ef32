package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gajzzs/usbscan/internal/crypto"
	"github.com/gajzzs/usbscan/internal/device"
	"github.com/gajzzs/usbscan/internal/platform"
	"github.com/gajzzs/usbscan/internal/usbid"
)

const (
	banner           = "USB Mass Storage Detector (aggressive detach mode)"
	detachWarning    = "Warning: detaching drivers may temporarily hide /dev/sdX devices!"
	privilegeWarning = "Warning: not running as root, most devices cannot be opened. Try with sudo."
)

var noFlashReasons = []string{
	"usb_storage / uas driver is bound, detach often fails",
	"not running as root",
	"no flash drive connected",
	"device uses UAS protocol (harder to detach)",
}

type volumeLookup interface {
	Volumes(ctx context.Context, port string) ([]platform.Volume, error)
}

// Printer writes command results to stdout as text or JSON.
type Printer struct {
	out     io.Writer
	json    bool
	names   *usbid.Database
	volumes volumeLookup
}

func NewPrinter(out io.Writer, asJSON bool, names *usbid.Database, volumes volumeLookup) *Printer {
	return &Printer{out: out, json: asJSON, names: names, volumes: volumes}
}

type flashDocument struct {
	device.FlashDetectionResult
	Name    string            `json:"name,omitempty"`
	Volumes []platform.Volume `json:"volumes,omitempty"`
}

type scanDocument struct {
	Devices     []device.DeviceRecord `json:"devices"`
	Flashes     []flashDocument       `json:"flashes"`
	Diagnostics []device.Diagnostic   `json:"diagnostics"`
}

type watchEvent struct {
	Event string        `json:"event"`
	Flash flashDocument `json:"flash"`
}

func (p *Printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) writeJSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ScanHeader is printed before a scan starts.
func (p *Printer) ScanHeader() {
	if p.json {
		return
	}
	p.printf("%s\n\n%s\n\n", banner, detachWarning)
	p.printf("Scanning for USB devices...\n\n")
}

func (p *Printer) flash(ctx context.Context, f device.FlashDetectionResult) flashDocument {
	doc := flashDocument{FlashDetectionResult: f, Name: p.names.Describe(f.VendorID, f.ProductID)}
	if p.volumes != nil {
		// best effort, block devices show up only once usb-storage is bound
		doc.Volumes, _ = p.volumes.Volumes(ctx, f.Port)
	}
	return doc
}

// Scan prints the outcome of a scan.
func (p *Printer) Scan(ctx context.Context, report *device.Report) error {
	flashes := make([]flashDocument, 0, len(report.Flashes))
	for _, f := range report.Flashes {
		flashes = append(flashes, p.flash(ctx, f))
	}

	if p.json {
		doc := scanDocument{
			Devices:     report.Reported(),
			Flashes:     flashes,
			Diagnostics: report.Diagnostics,
		}
		if doc.Devices == nil {
			doc.Devices = []device.DeviceRecord{}
		}
		if doc.Diagnostics == nil {
			doc.Diagnostics = []device.Diagnostic{}
		}
		return p.writeJSON(doc)
	}

	for _, d := range report.Diagnostics {
		if d.Bus == 0 && d.Address == 0 {
			p.printf("→ %s\n", d)
		}
	}
	for _, rec := range report.Reported() {
		p.printf("→ Checking device %s  Bus %03d Addr %03d", rec.ID(), rec.Bus, rec.Address)
		if name := p.names.Describe(rec.VendorID, rec.ProductID); name != "" {
			p.printf("  (%s)", name)
		}
		p.printf("\n")
		p.printf("    Manufacturer: %s\n", rec.Manufacturer)
		p.printf("    Product:      %s\n", rec.Product)
		p.printf("    Serial:       %s\n", rec.Serial)
		for _, d := range report.DiagnosticsFor(rec.Bus, rec.Address) {
			p.printf("    → %s\n", d)
		}
		if rec.Configured {
			p.printf("    Configuration found. Interfaces:\n")
			for _, iface := range rec.Interfaces {
				if iface.AltSetting == 0 {
					p.printf("      Interface %d: class %02xh\n", iface.Number, iface.Class)
				}
			}
		}
		for _, f := range flashes {
			if f.Bus == rec.Bus && f.Address == rec.Address {
				p.flashBlock(f)
			}
		}
		p.printf("%s\n", strings.Repeat("-", 70))
	}

	if len(flashes) == 0 {
		p.printf("\nNo mass storage devices detected.\nCommon reasons:\n")
		for _, r := range noFlashReasons {
			p.printf("  • %s\n", r)
		}
	}
	p.printf("\nDone.\n")
	return nil
}

func (p *Printer) flashBlock(f flashDocument) {
	rule := strings.Repeat("=", 60)
	p.printf("\n%s\n>>> USB FLASH / MASS STORAGE DEVICE DETECTED <<<\n", rule)
	p.printf("    VID:PID       %s\n", f.ID())
	if f.Name != "" {
		p.printf("    Name:         %s\n", f.Name)
	}
	p.printf("    Bus/Addr      %03d/%03d\n", f.Bus, f.Address)
	if f.Port != "" {
		p.printf("    Port:         %s\n", f.Port)
	}
	p.printf("    Manufacturer: %s\n", f.Manufacturer)
	p.printf("    Product:      %s\n", f.Product)
	p.printf("    Serial:       %s\n", f.Serial)
	p.printf("    Interface:    %d\n", f.Interface)
	p.printf("    Fingerprint:  %s\n", crypto.ShortFingerprint(f.Fingerprint))
	for _, v := range f.Volumes {
		p.printf("    Volume:       %s\n", volumeLine(v))
	}
	p.printf("%s\n\n", rule)
}

func volumeLine(v platform.Volume) string {
	s := v.Device
	if v.Mounted() {
		s += " on " + v.MountPoint
	} else {
		s += " (not mounted)"
	}
	var extra []string
	if v.FSType != "" {
		extra = append(extra, v.FSType)
	}
	if v.Label != "" {
		extra = append(extra, v.Label)
	}
	if len(extra) > 0 {
		s += " [" + strings.Join(extra, ", ") + "]"
	}
	return s
}

// List prints a listing without touching drivers.
func (p *Printer) List(report *device.Report) error {
	if p.json {
		devices := report.Devices
		if devices == nil {
			devices = []device.DeviceRecord{}
		}
		return p.writeJSON(struct {
			Devices []device.DeviceRecord `json:"devices"`
		}{devices})
	}

	if len(report.Devices) == 0 {
		p.printf("No USB devices found (or permission issue). Try with sudo.\n")
		return nil
	}
	p.printf("Found %d USB devices.\n\n", len(report.Devices))
	for _, rec := range report.Devices {
		p.printf("Bus %03d Dev %03d  ID %s", rec.Bus, rec.Address, rec.ID())
		if name := p.names.Describe(rec.VendorID, rec.ProductID); name != "" {
			p.printf("  %s", name)
		}
		if rec.Ignored {
			p.printf("  [ignored]")
		}
		p.printf("\n")
		if rec.Port != "" {
			p.printf("  Port        : %s\n", rec.Port)
		}
		p.printf("  Manufacturer: %s\n", rec.Manufacturer)
		p.printf("  Product     : %s\n", rec.Product)
		p.printf("  Serial      : %s\n", rec.Serial)
		p.printf("%s\n", strings.Repeat("-", 50))
	}
	return nil
}

// Added prints a flash drive found by the watcher.
func (p *Printer) Added(ctx context.Context, f device.FlashDetectionResult) {
	doc := p.flash(ctx, f)
	if p.json {
		p.event("added", doc)
		return
	}
	p.flashBlock(doc)
}

// Removed prints a flash drive the watcher saw leave.
func (p *Printer) Removed(f device.FlashDetectionResult) {
	doc := flashDocument{FlashDetectionResult: f, Name: p.names.Describe(f.VendorID, f.ProductID)}
	if p.json {
		p.event("removed", doc)
		return
	}
	p.printf("<<< removed %s at port %s (serial %s)\n", f.ID(), f.Port, f.Serial)
}

// event writes one compact JSON object per line so the stream can be piped.
func (p *Printer) event(kind string, doc flashDocument) {
	data, err := json.Marshal(watchEvent{Event: kind, Flash: doc})
	if err != nil {
		return
	}
	p.printf("%s\n", data)
}
