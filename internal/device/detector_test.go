package device

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	"github.com/gajzzs/usbscan/internal/usb"
	"github.com/gajzzs/usbscan/internal/usb/usbtest"
)

func newTestDetector(t *testing.T, host usb.Host, opts Options) (*Detector, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewDetector(host, opts, zap.New(core).Sugar()), logs
}

func flashDrive() *usbtest.Device {
	dev := usbtest.NewDevice(usb.DeviceInfo{
		VendorID:  0x1abc,
		ProductID: 0x2def,
		Bus:       1,
		Address:   5,
		Port:      "1-2",
	}).WithStrings("Acme", "Stick", "0001").WithConfig(1, usb.ClassMassStorage)
	dev.Drivers[0] = true
	return dev
}

func rootHub() *usbtest.Device {
	return usbtest.NewDevice(usb.DeviceInfo{
		VendorID:  usb.VendorLinuxFoundation,
		ProductID: 0x0002,
		Bus:       1,
		Address:   1,
		Port:      "usb1",
	}).WithStrings("Linux Foundation", "2.0 root hub", "0000:00:14.0").WithConfig(1, usb.ClassHub)
}

func kinds(diags []Diagnostic) []DiagnosticKind {
	var out []DiagnosticKind
	for _, d := range diags {
		out = append(out, d.Kind)
	}
	return out
}

func TestScanNoDevices(t *testing.T) {
	det, _ := newTestDetector(t, usbtest.NewHost(), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, report.Devices, test.ShouldBeEmpty)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindNoDevices})
}

func TestScanUnavailableHost(t *testing.T) {
	host := usbtest.NewHost()
	host.Err = usb.NewOpError("enumerate", usb.ErrUnavailable, nil)
	det, _ := newTestDetector(t, host, DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindNoDevices})
}

func TestScanEnumerationFailure(t *testing.T) {
	host := usbtest.NewHost()
	host.Err = errors.New("sysfs exploded")
	det, _ := newTestDetector(t, host, DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindEnumerationFailed, KindNoDevices})
}

func TestScanDetectsFlashDrive(t *testing.T) {
	dev := flashDrive()
	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())

	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)

	flash := report.Flashes[0]
	test.That(t, flash.VendorID, test.ShouldEqual, uint16(0x1abc))
	test.That(t, flash.ProductID, test.ShouldEqual, uint16(0x2def))
	test.That(t, flash.Bus, test.ShouldEqual, uint8(1))
	test.That(t, flash.Address, test.ShouldEqual, uint8(5))
	test.That(t, flash.Manufacturer, test.ShouldEqual, "Acme")
	test.That(t, flash.Product, test.ShouldEqual, "Stick")
	test.That(t, flash.Serial, test.ShouldEqual, "0001")
	test.That(t, flash.Interface, test.ShouldEqual, uint8(0))
	test.That(t, flash.Fingerprint, test.ShouldHaveLength, 64)
	test.That(t, flash.ID(), test.ShouldEqual, "1abc:2def")

	test.That(t, report.Devices, test.ShouldHaveLength, 1)
	test.That(t, report.Devices[0].Detached, test.ShouldBeTrue)
	test.That(t, report.Devices[0].Configured, test.ShouldBeTrue)

	// declared interface count is unknown, so the whole default range is
	// probed and re-attached
	test.That(t, dev.DetachCalls, test.ShouldResemble, []uint8{0})
	test.That(t, dev.AttachCalls, test.ShouldResemble, []uint8{0, 1, 2, 3, 4, 5, 6, 7})
	test.That(t, dev.Drivers[0], test.ShouldBeTrue)
	test.That(t, dev.Closed, test.ShouldBeTrue)
	test.That(t, report.Diagnostics, test.ShouldBeEmpty)
}

func TestScanSkipsRootHubs(t *testing.T) {
	hub := rootHub()
	hub.Drivers[0] = true
	det, _ := newTestDetector(t, usbtest.NewHost(hub, flashDrive()), DefaultOptions())

	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Devices, test.ShouldHaveLength, 2)
	test.That(t, report.Devices[0].Ignored, test.ShouldBeTrue)
	test.That(t, report.Reported(), test.ShouldHaveLength, 1)
	test.That(t, report.Reported()[0].VendorID, test.ShouldEqual, uint16(0x1abc))
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)

	test.That(t, hub.DetachCalls, test.ShouldBeEmpty)
	test.That(t, hub.SetCalls, test.ShouldBeEmpty)
	test.That(t, hub.Closed, test.ShouldBeTrue)
	for _, f := range report.Flashes {
		test.That(t, f.VendorID, test.ShouldNotEqual, usb.VendorLinuxFoundation)
	}
}

func TestScanIgnoresRootHubEvenWithMassStorageInterface(t *testing.T) {
	hub := usbtest.NewDevice(usb.DeviceInfo{VendorID: usb.VendorLinuxFoundation, ProductID: 3}).
		WithConfig(1, usb.ClassMassStorage)
	hub.Drivers[0] = true
	opts := DefaultOptions()
	opts.IgnoreVendors = []uint16{0xabcd}
	det, _ := newTestDetector(t, usbtest.NewHost(hub), opts)

	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, report.Reported(), test.ShouldBeEmpty)
	test.That(t, hub.DetachCalls, test.ShouldBeEmpty)
}

func TestScanStringsNeverEmpty(t *testing.T) {
	noStrings := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x1111, ProductID: 1, Bus: 1, Address: 2}).
		WithConfig(1, usb.ClassMassStorage)

	failing := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x2222, ProductID: 2, Bus: 1, Address: 3}).
		WithStrings("", "Thing", "x").WithConfig(1, usb.ClassMassStorage)
	failing.StringErrs[2] = usb.NewOpError("get string descriptor", usb.ErrAccess, nil)
	failing.StringErrs[3] = errors.New("pipe error")

	det, _ := newTestDetector(t, usbtest.NewHost(noStrings, failing), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldHaveLength, 2)

	first, second := report.Flashes[0], report.Flashes[1]
	test.That(t, first.Manufacturer, test.ShouldEqual, NotAvailable)
	test.That(t, first.Product, test.ShouldEqual, NotAvailable)
	test.That(t, first.Serial, test.ShouldEqual, NotAvailable)

	test.That(t, second.Manufacturer, test.ShouldEqual, NotAvailable)
	test.That(t, second.Product, test.ShouldEqual, ReadError)
	test.That(t, second.Serial, test.ShouldEqual, ReadError)

	for _, rec := range report.Devices {
		test.That(t, rec.Manufacturer, test.ShouldNotBeEmpty)
		test.That(t, rec.Product, test.ShouldNotBeEmpty)
		test.That(t, rec.Serial, test.ShouldNotBeEmpty)
	}
}

func TestScanOnlyMassStorageInterfaces(t *testing.T) {
	// composite device: HID, mass storage, vendor specific
	dev := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x0781, ProductID: 0x5567, Bus: 2, Address: 4}).
		WithStrings("SanDisk", "Cruzer", "ABC").
		WithConfig(1, 0x03, usb.ClassMassStorage, 0xff)
	keyboard := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x046d, ProductID: 0xc31c, Bus: 2, Address: 5}).
		WithConfig(1, 0x03, 0x03)

	det, _ := newTestDetector(t, usbtest.NewHost(dev, keyboard), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
	test.That(t, report.Flashes[0].Interface, test.ShouldEqual, uint8(1))
	test.That(t, report.Flashes[0].VendorID, test.ShouldEqual, uint16(0x0781))
	test.That(t, report.Devices[1].Interfaces, test.ShouldHaveLength, 2)
}

func TestScanAltSettingsReportedOnce(t *testing.T) {
	dev := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x1abc, ProductID: 0x2def})
	dev.Configs = []usb.Configuration{{
		Value: 1,
		Interfaces: []usb.Interface{
			{Number: 0, AltSetting: 0, Class: usb.ClassMassStorage, SubClass: 0x06, Protocol: 0x50},
			{Number: 0, AltSetting: 1, Class: usb.ClassMassStorage, SubClass: 0x06, Protocol: 0x62},
		},
	}}
	dev.Active = 1

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
}

func TestScanConfigurationBusy(t *testing.T) {
	busy := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x1abc, ProductID: 0x0001, Bus: 1, Address: 3}).
		WithStrings("Acme", "Locked", "L1").WithConfig(1, usb.ClassMassStorage)
	busy.ActiveErr = usb.NewOpError("get configuration", usb.ErrBusy, errors.New("device or resource busy"))

	det, _ := newTestDetector(t, usbtest.NewHost(busy, flashDrive()), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
	test.That(t, report.Flashes[0].ProductID, test.ShouldEqual, uint16(0x2def))

	diags := report.DiagnosticsFor(1, 3)
	test.That(t, kinds(diags), test.ShouldResemble, []DiagnosticKind{KindConfigBusy})
	test.That(t, diags[0].String(), test.ShouldContainSubstring, "busy")
	test.That(t, report.Devices[0].Configured, test.ShouldBeFalse)
	test.That(t, report.Devices, test.ShouldHaveLength, 2)
}

func TestScanConfigurationFailure(t *testing.T) {
	dev := flashDrive()
	dev.ActiveErr = usb.NewOpError("get configuration", usb.ErrAccess, nil)

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindConfigFailed})
	// the detach still happened, so cleanup must still run
	test.That(t, dev.AttachCalls, test.ShouldNotBeEmpty)
}

func TestScanActivatesDefaultConfiguration(t *testing.T) {
	dev := flashDrive()
	dev.Active = 0

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.SetCalls, test.ShouldResemble, []int{1})
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindConfigActivated})
}

func TestScanActivationBusy(t *testing.T) {
	dev := flashDrive()
	dev.Active = 0
	dev.SetErr = usb.NewOpError("set configuration", usb.ErrBusy, nil)

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindConfigActivated, KindConfigBusy})
}

func TestScanNoConfigurations(t *testing.T) {
	dev := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x1abc, ProductID: 0x2def})

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, dev.SetCalls, test.ShouldBeEmpty)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindConfigActivated, KindConfigFailed})
}

func TestScanDetachNotFoundSuppressed(t *testing.T) {
	dev := flashDrive()
	dev.Drivers[3] = true
	dev.DetachErrs[3] = usb.NewOpError("detach kernel driver", usb.ErrNotFound, nil)

	det, logs := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.DetachCalls, test.ShouldResemble, []uint8{0, 3})
	test.That(t, report.Diagnostics, test.ShouldBeEmpty)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)

	test.That(t, logs.FilterMessage("no such interface").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("no such interface").All()[0].Level, test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, logs.FilterMessage("detach failed").Len(), test.ShouldEqual, 0)
}

func TestScanDetachBusyAndOther(t *testing.T) {
	dev := flashDrive()
	dev.Drivers[1] = true
	dev.DetachErrs[1] = usb.NewOpError("detach kernel driver", usb.ErrBusy, nil)
	dev.ActiveErrs[2] = usb.NewOpError("get driver", usb.ErrInvalidParam, nil)

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindDetachBusy, KindDetachFailed})
	test.That(t, report.Diagnostics[0].Interface, test.ShouldEqual, 1)
	test.That(t, report.Diagnostics[1].Interface, test.ShouldEqual, 2)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
}

func TestScanDetachStopsOnAccessDenied(t *testing.T) {
	dev := flashDrive()
	for i := uint8(0); i < DefaultProbeLimit; i++ {
		dev.ActiveErrs[i] = usb.NewOpError("open device", usb.ErrAccess, nil)
	}

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kinds(report.Diagnostics), test.ShouldResemble, []DiagnosticKind{KindDetachFailed})
	test.That(t, report.Diagnostics[0].Interface, test.ShouldEqual, 0)
	test.That(t, report.Devices[0].Detached, test.ShouldBeFalse)
	test.That(t, dev.AttachCalls, test.ShouldBeEmpty)
}

func TestScanUsesDeclaredInterfaceCount(t *testing.T) {
	dev := flashDrive()
	dev.Desc.NumInterfaces = 2
	dev.ConfigsErr = usb.NewOpError("read configuration", usb.ErrTimeout, nil)

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	_, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.AttachCalls, test.ShouldResemble, []uint8{0, 1})

	opts := DefaultOptions()
	opts.UseDeclaredInterfaces = false
	opts.ProbeLimit = 4
	dev = flashDrive()
	dev.Desc.NumInterfaces = 2
	det, _ = newTestDetector(t, usbtest.NewHost(dev), opts)
	_, err = det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.AttachCalls, test.ShouldResemble, []uint8{0, 1, 2, 3})
}

func TestScanProbesDeclaredInterfaceNumbers(t *testing.T) {
	dev := usbtest.NewDevice(usb.DeviceInfo{
		VendorID:      0x1abc,
		ProductID:     0x2def,
		Bus:           1,
		Address:       6,
		Port:          "1-3",
		NumInterfaces: 2,
	})
	dev.Configs = []usb.Configuration{{
		Value:         1,
		NumInterfaces: 2,
		Interfaces: []usb.Interface{
			{Number: 0, Class: 0x03},
			{Number: 2, Class: usb.ClassMassStorage},
			{Number: 2, AltSetting: 1, Class: usb.ClassMassStorage},
		},
	}}
	dev.Active = 1
	dev.Drivers[0] = true
	dev.Drivers[2] = true

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.DetachCalls, test.ShouldResemble, []uint8{0, 2})
	test.That(t, dev.AttachCalls, test.ShouldResemble, []uint8{0, 2})
	test.That(t, dev.Drivers[2], test.ShouldBeTrue)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
	test.That(t, report.Flashes[0].Interface, test.ShouldEqual, uint8(2))
}

func TestScanNoReattachWithoutDetach(t *testing.T) {
	dev := flashDrive()
	dev.Drivers[0] = false

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	_, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.DetachCalls, test.ShouldBeEmpty)
	test.That(t, dev.AttachCalls, test.ShouldBeEmpty)
}

func TestScanReattachDisabled(t *testing.T) {
	dev := flashDrive()
	opts := DefaultOptions()
	opts.Reattach = false

	det, _ := newTestDetector(t, usbtest.NewHost(dev), opts)
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Devices[0].Detached, test.ShouldBeTrue)
	test.That(t, dev.AttachCalls, test.ShouldBeEmpty)
	test.That(t, dev.Drivers[0], test.ShouldBeFalse)
}

func TestScanReattachFailuresSuppressed(t *testing.T) {
	dev := flashDrive()
	dev.AttachErrs[0] = usb.NewOpError("attach kernel driver", usb.ErrBusy, nil)
	dev.AttachErrs[1] = usb.NewOpError("attach kernel driver", usb.ErrNotFound, nil)

	det, logs := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Diagnostics, test.ShouldBeEmpty)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
	test.That(t, dev.AttachCalls, test.ShouldHaveLength, DefaultProbeLimit)
	test.That(t, logs.FilterMessage("re-attach incomplete").Len(), test.ShouldEqual, 1)
}

func TestScanReattachStopsWhenDeviceGone(t *testing.T) {
	dev := flashDrive()
	dev.AttachErrs[0] = usb.NewOpError("attach kernel driver", usb.ErrNoDevice, nil)

	det, _ := newTestDetector(t, usbtest.NewHost(dev), DefaultOptions())
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.AttachCalls, test.ShouldResemble, []uint8{0})
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
}

func TestScanIdempotent(t *testing.T) {
	hub := rootHub()
	a := flashDrive()
	b := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x0781, ProductID: 0x5567, Bus: 2, Address: 7, Port: "2-1"}).
		WithStrings("SanDisk", "Cruzer", "XYZ").WithConfig(1, usb.ClassMassStorage)
	b.Drivers[0] = true
	host := usbtest.NewHost(hub, a, b)

	det, _ := newTestDetector(t, host, DefaultOptions())
	first, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	second, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, first.Flashes, test.ShouldHaveLength, 2)
	test.That(t, second.Flashes, test.ShouldResemble, first.Flashes)
	test.That(t, host.Calls(), test.ShouldEqual, 2)
	// drivers were detached and re-attached on both runs
	test.That(t, a.DetachCalls, test.ShouldResemble, []uint8{0, 0})
	test.That(t, a.Drivers[0], test.ShouldBeTrue)
}

func TestScanCancelled(t *testing.T) {
	a, b := flashDrive(), flashDrive()
	det, _ := newTestDetector(t, usbtest.NewHost(a, b), DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := det.Scan(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, report.Flashes, test.ShouldBeEmpty)
}

func TestScanFilter(t *testing.T) {
	a := flashDrive()
	b := usbtest.NewDevice(usb.DeviceInfo{VendorID: 0x0781, ProductID: 0x5567, Port: "2-1"}).
		WithConfig(1, usb.ClassMassStorage)

	det, _ := newTestDetector(t, usbtest.NewHost(a, b), DefaultOptions())
	det = det.WithFilter(func(info usb.DeviceInfo) bool { return info.Port == "2-1" })
	report, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Flashes, test.ShouldHaveLength, 1)
	test.That(t, report.Flashes[0].Port, test.ShouldEqual, "2-1")
	test.That(t, a.DetachCalls, test.ShouldBeEmpty)
	test.That(t, a.Closed, test.ShouldBeTrue)
}

func TestListDoesNotTouchDrivers(t *testing.T) {
	hub := rootHub()
	dev := flashDrive()

	det, _ := newTestDetector(t, usbtest.NewHost(hub, dev), DefaultOptions())
	report, err := det.List(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Devices, test.ShouldHaveLength, 2)
	test.That(t, report.Devices[0].Ignored, test.ShouldBeTrue)
	test.That(t, report.Devices[0].Product, test.ShouldEqual, "2.0 root hub")
	test.That(t, report.Devices[1].Manufacturer, test.ShouldEqual, "Acme")
	test.That(t, report.Flashes, test.ShouldBeEmpty)
	test.That(t, dev.DetachCalls, test.ShouldBeEmpty)
	test.That(t, dev.SetCalls, test.ShouldBeEmpty)
}

func TestNewDetectorClampsProbeLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.ProbeLimit = 100
	opts.UseDeclaredInterfaces = false
	dev := flashDrive()
	det, _ := newTestDetector(t, usbtest.NewHost(dev), opts)
	_, err := det.Scan(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.AttachCalls, test.ShouldHaveLength, MaxProbeLimit)
}

func TestStringResult(t *testing.T) {
	test.That(t, StringResult{Value: "Kingston"}.String(), test.ShouldEqual, "Kingston")
	test.That(t, StringResult{}.String(), test.ShouldEqual, NotAvailable)
	test.That(t, StringResult{Value: "x", Err: errors.New("boom")}.String(), test.ShouldEqual, ReadError)
}
