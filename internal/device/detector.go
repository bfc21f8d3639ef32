// Package device scans the attached USB devices and classifies mass storage
// interfaces.
package device

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gajzzs/usbscan/internal/usb"
)

const (
	// DefaultProbeLimit bounds the interface numbers probed for kernel
	// drivers when a device does not declare its interface count.
	DefaultProbeLimit = 8
	// MaxProbeLimit is the largest interface range a scan will probe.
	MaxProbeLimit = 32
)

// Options tune a Detector.
type Options struct {
	ProbeLimit            int
	UseDeclaredInterfaces bool
	Reattach              bool
	// IgnoreVendors are skipped in addition to usb.VendorLinuxFoundation,
	// whose root hubs are never scanned.
	IgnoreVendors []uint16

	// Filter restricts the devices considered. nil means all devices.
	Filter func(usb.DeviceInfo) bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ProbeLimit:            DefaultProbeLimit,
		UseDeclaredInterfaces: true,
		Reattach:              true,
	}
}

// Detector finds mass storage interfaces on the devices a usb.Host reports.
//
// Scanning detaches kernel drivers from device interfaces so that the
// configuration can be read. That temporarily unbinds usb-storage and may
// hide mounted volumes until the drivers are re-attached.
type Detector struct {
	host   usb.Host
	opts   Options
	logger *zap.SugaredLogger
}

// NewDetector returns a Detector. A nil logger discards log output.
func NewDetector(host usb.Host, opts Options, logger *zap.SugaredLogger) *Detector {
	if opts.ProbeLimit <= 0 {
		opts.ProbeLimit = DefaultProbeLimit
	}
	if opts.ProbeLimit > MaxProbeLimit {
		opts.ProbeLimit = MaxProbeLimit
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Detector{host: host, opts: opts, logger: logger}
}

// WithFilter returns a copy of the detector restricted to matching devices.
func (d *Detector) WithFilter(filter func(usb.DeviceInfo) bool) *Detector {
	opts := d.opts
	opts.Filter = filter
	return &Detector{host: d.host, opts: opts, logger: d.logger}
}

// Scan enumerates every device, detaches kernel drivers, reads the device
// configuration and reports each mass storage interface. Failures on a
// single device become diagnostics; the only error returned is the
// context's.
func (d *Detector) Scan(ctx context.Context) (*Report, error) {
	return d.run(ctx, d.scanDevice)
}

// List enumerates every device and reads its strings without touching
// driver bindings or configurations.
func (d *Detector) List(ctx context.Context) (*Report, error) {
	return d.run(ctx, d.listDevice)
}

func (d *Detector) run(ctx context.Context, visit func(usb.Device, *Report)) (*Report, error) {
	report := &Report{}

	devs, err := d.host.Devices(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if !errors.Is(err, usb.ErrUnavailable) {
			d.note(report, Diagnostic{
				Kind:      KindEnumerationFailed,
				Interface: -1,
				Message:   "device enumeration failed",
				Err:       err,
			})
		} else {
			d.logger.Debugw("usb access unavailable", "error", err)
		}
	}
	if len(devs) == 0 {
		d.note(report, Diagnostic{
			Kind:      KindNoDevices,
			Interface: -1,
			Message:   "no devices found (run with sudo?)",
		})
		return report, nil
	}

	for i, dev := range devs {
		if err := ctx.Err(); err != nil {
			closeAll(devs[i:])
			return report, err
		}
		if d.opts.Filter == nil || d.opts.Filter(dev.Info()) {
			visit(dev, report)
		}
		if err := dev.Close(); err != nil {
			d.logger.Debugw("closing device", "id", dev.Info().ID(), "error", err)
		}
	}
	return report, nil
}

func (d *Detector) listDevice(dev usb.Device, report *Report) {
	info := dev.Info()
	rec := newRecord(info)
	rec.Ignored = d.ignored(info.VendorID)
	d.readStrings(dev, &rec)
	report.Devices = append(report.Devices, rec)
}

func (d *Detector) scanDevice(dev usb.Device, report *Report) {
	info := dev.Info()
	rec := newRecord(info)
	if d.ignored(info.VendorID) {
		rec.Ignored = true
		report.Devices = append(report.Devices, rec)
		d.logger.Debugw("skipping ignored vendor", "id", info.ID(), "bus", info.Bus, "address", info.Address)
		return
	}

	d.logger.Infow("checking device", "id", info.ID(), "bus", info.Bus, "address", info.Address)
	d.readStrings(dev, &rec)

	probe := d.probeSet(dev, info)
	rec.Detached = d.detach(dev, info, probe, report)

	if cfg := d.configuration(dev, info, report); cfg != nil {
		rec.Configured = true
		rec.Interfaces = cfg.Interfaces
		for _, num := range massStorageInterfaces(cfg) {
			flash := newFlashResult(rec, num)
			report.Flashes = append(report.Flashes, flash)
			d.logger.Infow("mass storage device detected",
				"id", flash.ID(),
				"bus", flash.Bus,
				"address", flash.Address,
				"interface", num,
				"serial", flash.Serial,
			)
		}
	}

	if rec.Detached && d.opts.Reattach {
		d.reattach(dev, info, probe)
	}
	report.Devices = append(report.Devices, rec)
}

func (d *Detector) ignored(vendorID uint16) bool {
	if vendorID == usb.VendorLinuxFoundation {
		return true
	}
	for _, v := range d.opts.IgnoreVendors {
		if v == vendorID {
			return true
		}
	}
	return false
}

func (d *Detector) readStrings(dev usb.Device, rec *DeviceRecord) {
	info := dev.Info()
	rec.Manufacturer = d.readString(dev, "manufacturer", info.ManufacturerIndex).String()
	rec.Product = d.readString(dev, "product", info.ProductIndex).String()
	rec.Serial = d.readString(dev, "serial", info.SerialIndex).String()
}

func (d *Detector) readString(dev usb.Device, name string, index uint8) StringResult {
	if index == 0 {
		return StringResult{}
	}
	s, err := dev.StringDescriptor(index)
	if err != nil {
		d.logger.Debugw("reading string descriptor", "id", dev.Info().ID(), "string", name, "index", index, "error", err)
	}
	return StringResult{Value: s, Err: err}
}

// probeSet returns the interface numbers to probe for kernel drivers. With a
// declared count the numbers come from the configuration descriptors, which
// need not be contiguous; the range [0, count) is used when those cannot be
// read.
func (d *Detector) probeSet(dev usb.Device, info usb.DeviceInfo) []uint8 {
	n := d.opts.ProbeLimit
	if d.opts.UseDeclaredInterfaces && info.NumInterfaces > 0 {
		if probe := declaredInterfaces(dev); len(probe) > 0 {
			return probe
		}
		n = info.NumInterfaces
	}
	if n > MaxProbeLimit {
		n = MaxProbeLimit
	}
	probe := make([]uint8, n)
	for i := range probe {
		probe[i] = uint8(i)
	}
	return probe
}

// declaredInterfaces returns the sorted interface numbers of every
// configuration, nil when the descriptors are unavailable.
func declaredInterfaces(dev usb.Device) []uint8 {
	configs, err := dev.Configurations()
	if err != nil {
		return nil
	}
	seen := map[uint8]bool{}
	var probe []uint8
	for i := range configs {
		for _, iface := range configs[i].Primary() {
			if !seen[iface.Number] {
				seen[iface.Number] = true
				probe = append(probe, iface.Number)
			}
		}
	}
	slices.Sort(probe)
	if len(probe) > MaxProbeLimit {
		probe = probe[:MaxProbeLimit]
	}
	return probe
}

// detach unbinds kernel drivers from the probed interfaces and reports
// whether at least one was detached.
func (d *Detector) detach(dev usb.Device, info usb.DeviceInfo, probe []uint8, report *Report) bool {
	detached := false
	for _, iface := range probe {
		active, err := dev.KernelDriverActive(iface)
		if err == nil {
			if !active {
				continue
			}
			d.logger.Infow("detaching kernel driver", "id", info.ID(), "interface", iface)
			if err = dev.DetachKernelDriver(iface); err == nil {
				detached = true
				continue
			}
		}

		switch {
		case errors.Is(err, usb.ErrNotFound):
			// interface numbers past the last real interface land here
			d.logger.Debugw("no such interface", "id", info.ID(), "interface", iface)
		case errors.Is(err, usb.ErrBusy):
			d.note(report, deviceDiagnostic(info, KindDetachBusy, int(iface), "resource busy (driver in use)", err))
		case errors.Is(err, usb.ErrAccess), errors.Is(err, usb.ErrNoDevice):
			// stop here rather than repeat the same diagnostic for every
			// remaining interface
			d.note(report, deviceDiagnostic(info, KindDetachFailed, int(iface), "detach failed", err))
			return detached
		default:
			d.note(report, deviceDiagnostic(info, KindDetachFailed, int(iface), "detach failed", err))
		}
	}
	return detached
}

// configuration returns the active configuration, activating the default one
// when the device is unconfigured. It returns nil when none can be obtained.
func (d *Detector) configuration(dev usb.Device, info usb.DeviceInfo, report *Report) *usb.Configuration {
	cfg, err := dev.ActiveConfiguration()
	if err == nil && cfg == nil {
		d.note(report, deviceDiagnostic(info, KindConfigActivated, -1, "no active configuration, activating the default one", nil))
		var value int
		if value, err = defaultConfiguration(dev); err == nil {
			if err = dev.SetConfiguration(value); err == nil {
				cfg, err = dev.ActiveConfiguration()
			}
		}
	}
	if err != nil {
		if errors.Is(err, usb.ErrBusy) {
			d.note(report, deviceDiagnostic(info, KindConfigBusy, -1,
				"configuration busy (typical when the mass storage driver is bound)", err))
		} else {
			d.note(report, deviceDiagnostic(info, KindConfigFailed, -1, "configuration error", err))
		}
		return nil
	}
	return cfg
}

func defaultConfiguration(dev usb.Device) (int, error) {
	configs, err := dev.Configurations()
	if err != nil {
		return 0, err
	}
	if len(configs) == 0 {
		return 0, usb.NewOpError("set configuration", usb.ErrNotFound, errors.New("device has no configurations"))
	}
	return int(configs[0].Value), nil
}

// reattach re-binds kernel drivers on every probed interface. The outcome is
// logged and discarded.
func (d *Detector) reattach(dev usb.Device, info usb.DeviceInfo, probe []uint8) {
	d.logger.Infow("re-attaching kernel drivers", "id", info.ID())
	var errs error
	for _, iface := range probe {
		err := dev.AttachKernelDriver(iface)
		if err == nil {
			d.logger.Debugw("re-attached kernel driver", "id", info.ID(), "interface", iface)
			continue
		}
		errs = multierr.Append(errs, errors.Wrapf(err, "interface %d", iface))
		if errors.Is(err, usb.ErrNoDevice) {
			// gone mid-scan, the remaining interfaces would fail the same way
			break
		}
	}
	if errs != nil {
		d.logger.Debugw("re-attach incomplete", "id", info.ID(), "errors", multierr.Errors(errs))
	}
}

func (d *Detector) note(report *Report, diag Diagnostic) {
	report.Diagnostics = append(report.Diagnostics, diag)
	d.logger.Infow(diag.Message,
		"kind", diag.Kind,
		"bus", diag.Bus,
		"address", diag.Address,
		"interface", diag.Interface,
		"error", diag.Err,
	)
}

func deviceDiagnostic(info usb.DeviceInfo, kind DiagnosticKind, iface int, msg string, err error) Diagnostic {
	return Diagnostic{
		Kind:      kind,
		Bus:       info.Bus,
		Address:   info.Address,
		VendorID:  info.VendorID,
		ProductID: info.ProductID,
		Interface: iface,
		Message:   msg,
		Err:       err,
	}
}

// massStorageInterfaces returns the interface numbers whose default
// alternate setting is Mass Storage, once each, in descriptor order.
func massStorageInterfaces(cfg *usb.Configuration) []uint8 {
	var out []uint8
	seen := map[uint8]bool{}
	for _, iface := range cfg.Primary() {
		if iface.IsMassStorage() && !seen[iface.Number] {
			seen[iface.Number] = true
			out = append(out, iface.Number)
		}
	}
	return out
}

func closeAll(devs []usb.Device) {
	for _, dev := range devs {
		_ = dev.Close()
	}
}
