package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/gajzzs/usbscan/internal/config"
	"github.com/gajzzs/usbscan/internal/platform"
	"github.com/gajzzs/usbscan/internal/service"
	"github.com/gajzzs/usbscan/internal/usb"
	"github.com/gajzzs/usbscan/internal/usb/usbtest"
	"github.com/gajzzs/usbscan/internal/usbid"
)

const ids = `1abc  Acme Corp
	2def  Stick
1d6b  Linux Foundation
`

type fakeVolumes map[string][]platform.Volume

func (f fakeVolumes) Volumes(_ context.Context, port string) ([]platform.Volume, error) {
	return f[port], nil
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

type harness struct {
	app        *App
	host       *usbtest.Host
	configPath string
	out        bytes.Buffer
	errOut     bytes.Buffer
}

func newHarness(t *testing.T, root bool, devs ...*usbtest.Device) *harness {
	t.Helper()
	h := &harness{
		host:       usbtest.NewHost(devs...),
		configPath: filepath.Join(t.TempDir(), "config.json"),
	}
	a := newApp()
	a.newHost = func(platform.Options, *zap.SugaredLogger) usb.Host { return h.host }
	a.newVolumes = func(platform.Options) volumeLookup {
		return fakeVolumes{"1-2": {{Device: "/dev/sdb1", MountPoint: "/media/stick", FSType: "vfat", Label: "STICK"}}}
	}
	a.newLogger = func(string, string, string) (*zap.SugaredLogger, error) { return zap.NewNop().Sugar(), nil }
	a.openNames = func(...string) (*usbid.Database, error) { return usbid.Parse(strings.NewReader(ids)) }
	a.isRoot = func() bool { return root }
	h.app = a

	oldFile := config.ConfigFile
	oldPid := service.PidFile
	service.PidFile = filepath.Join(t.TempDir(), "usbscan.pid")
	t.Cleanup(func() {
		config.ConfigFile = oldFile
		service.PidFile = oldPid
	})
	return h
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	h.errOut.Reset()
	cmd := h.app.rootCommand()
	cmd.SetOut(&h.out)
	cmd.SetErr(&h.errOut)
	cmd.SetArgs(append([]string{"--config", h.configPath}, args...))
	return cmd.Execute()
}

func TestScanPrintsFlashDrive(t *testing.T) {
	dev := flashDrive()
	h := newHarness(t, false, rootHub(), dev)
	test.That(t, h.run(), test.ShouldBeNil)

	out := h.out.String()
	test.That(t, out, test.ShouldContainSubstring, "Scanning for USB devices...")
	test.That(t, out, test.ShouldContainSubstring, "→ Checking device 1abc:2def  Bus 001 Addr 005  (Acme Corp Stick)")
	test.That(t, out, test.ShouldContainSubstring, "    Serial:       0001")
	test.That(t, out, test.ShouldContainSubstring, "      Interface 0: class 08h")
	test.That(t, out, test.ShouldContainSubstring, ">>> USB FLASH / MASS STORAGE DEVICE DETECTED <<<")
	test.That(t, out, test.ShouldContainSubstring, "    Port:         1-2")
	test.That(t, out, test.ShouldContainSubstring, "    Volume:       /dev/sdb1 on /media/stick [vfat, STICK]")
	test.That(t, out, test.ShouldNotContainSubstring, "2.0 root hub")
	test.That(t, out, test.ShouldNotContainSubstring, "No mass storage devices detected.")
	test.That(t, strings.HasSuffix(out, "Done.\n"), test.ShouldBeTrue)

	test.That(t, h.errOut.String(), test.ShouldContainSubstring, privilegeWarning)
	test.That(t, dev.AttachCalls, test.ShouldNotBeEmpty)
}

func TestScanWithoutDevicesSucceeds(t *testing.T) {
	h := newHarness(t, true)
	test.That(t, h.run(), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, "→ no devices found (run with sudo?)")
	test.That(t, h.out.String(), test.ShouldContainSubstring, "No mass storage devices detected.")
	test.That(t, h.errOut.String(), test.ShouldBeEmpty)
}

func TestScanUnavailableHostSucceeds(t *testing.T) {
	h := newHarness(t, true)
	h.host.Err = usb.NewOpError("enumerate", usb.ErrUnavailable, nil)
	test.That(t, h.run(), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, "no devices found")
}

func TestScanJSON(t *testing.T) {
	h := newHarness(t, true, rootHub(), flashDrive())
	test.That(t, h.run("--json"), test.ShouldBeNil)

	var doc struct {
		Devices []struct {
			VendorID uint16 `json:"vendor_id"`
		} `json:"devices"`
		Flashes []struct {
			VendorID    uint16            `json:"vendor_id"`
			Interface   uint8             `json:"interface"`
			Fingerprint string            `json:"fingerprint"`
			Name        string            `json:"name"`
			Volumes     []platform.Volume `json:"volumes"`
		} `json:"flashes"`
		Diagnostics []json.RawMessage `json:"diagnostics"`
	}
	test.That(t, json.Unmarshal(h.out.Bytes(), &doc), test.ShouldBeNil)
	test.That(t, doc.Devices, test.ShouldHaveLength, 1)
	test.That(t, doc.Devices[0].VendorID, test.ShouldEqual, uint16(0x1abc))
	test.That(t, doc.Flashes, test.ShouldHaveLength, 1)
	test.That(t, doc.Flashes[0].Fingerprint, test.ShouldHaveLength, 64)
	test.That(t, doc.Flashes[0].Name, test.ShouldEqual, "Acme Corp Stick")
	test.That(t, doc.Flashes[0].Volumes[0].MountPoint, test.ShouldEqual, "/media/stick")
	test.That(t, doc.Diagnostics, test.ShouldBeEmpty)
}

func TestScanFlagsOverrideConfig(t *testing.T) {
	dev := flashDrive()
	h := newHarness(t, true, dev)
	test.That(t, os.WriteFile(h.configPath, []byte(`{"probe_limit": 4}`), 0o644), test.ShouldBeNil)

	test.That(t, h.run("--no-reattach"), test.ShouldBeNil)
	test.That(t, dev.AttachCalls, test.ShouldBeEmpty)
	test.That(t, h.app.cfg.ProbeLimit, test.ShouldEqual, 4)
	test.That(t, h.app.cfg.Reattach, test.ShouldBeFalse)

	test.That(t, h.run("--ignore-vendor", "1ABC"), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, "No mass storage devices detected.")

	test.That(t, h.run("--ignore-vendor", "zz"), test.ShouldNotBeNil)
	test.That(t, h.run("--probe-limit", "40"), test.ShouldNotBeNil)
}

func TestScanSkipsRootHubWhateverTheConfigIgnores(t *testing.T) {
	hub := rootHub()
	hub.Drivers[0] = true
	dev := flashDrive()
	h := newHarness(t, true, hub, dev)
	test.That(t, os.WriteFile(h.configPath, []byte(`{"ignore_vendors": ["abcd"]}`), 0o644), test.ShouldBeNil)

	test.That(t, h.run(), test.ShouldBeNil)
	test.That(t, hub.DetachCalls, test.ShouldBeEmpty)
	test.That(t, hub.Drivers[0], test.ShouldBeTrue)
	test.That(t, dev.DetachCalls, test.ShouldResemble, []uint8{0})
	test.That(t, h.out.String(), test.ShouldNotContainSubstring, "2.0 root hub")

	test.That(t, h.run("--ignore-vendor", "abcd", "list"), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, "Linux Foundation  [ignored]")
}

func TestInvalidConfigFileFails(t *testing.T) {
	h := newHarness(t, true, flashDrive())
	test.That(t, os.WriteFile(h.configPath, []byte(`{"probe_limit": `), 0o644), test.ShouldBeNil)
	test.That(t, h.run(), test.ShouldNotBeNil)
	test.That(t, h.host.Calls(), test.ShouldEqual, 0)
}

func TestHelpDoesNotScan(t *testing.T) {
	h := newHarness(t, true, flashDrive())
	test.That(t, h.run("--help"), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, "Usage:")
	test.That(t, h.host.Calls(), test.ShouldEqual, 0)
}

func TestListLeavesDriversAlone(t *testing.T) {
	dev := flashDrive()
	h := newHarness(t, true, rootHub(), dev)
	test.That(t, h.run("list"), test.ShouldBeNil)

	out := h.out.String()
	test.That(t, out, test.ShouldContainSubstring, "Found 2 USB devices.")
	test.That(t, out, test.ShouldContainSubstring, "Bus 001 Dev 001  ID 1d6b:0002  Linux Foundation  [ignored]")
	test.That(t, out, test.ShouldContainSubstring, "Bus 001 Dev 005  ID 1abc:2def  Acme Corp Stick")
	test.That(t, out, test.ShouldContainSubstring, "  Product     : Stick")
	test.That(t, dev.DetachCalls, test.ShouldBeEmpty)
	test.That(t, dev.Drivers[0], test.ShouldBeTrue)
}

func TestListEmpty(t *testing.T) {
	h := newHarness(t, true)
	test.That(t, h.run("list"), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, "No USB devices found")
}

func TestConfigCommands(t *testing.T) {
	h := newHarness(t, true)
	test.That(t, h.run("config", "init"), test.ShouldBeNil)
	test.That(t, h.run("config", "init"), test.ShouldNotBeNil)
	test.That(t, h.run("config", "init", "--force"), test.ShouldBeNil)

	// flag overrides are not persisted
	test.That(t, h.run("--probe-limit", "12", "config", "ignore", "0781"), test.ShouldBeNil)
	data, err := os.ReadFile(h.configPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"0781"`)
	test.That(t, string(data), test.ShouldContainSubstring, `"probe_limit": 8`)

	test.That(t, h.run("config", "unignore", "1d6b"), test.ShouldNotBeNil)
	test.That(t, h.run("config", "unignore", "0781"), test.ShouldBeNil)
	test.That(t, h.run("config", "show"), test.ShouldBeNil)
	test.That(t, h.out.String(), test.ShouldContainSubstring, `"ignore_vendors": [`)
	test.That(t, h.out.String(), test.ShouldNotContainSubstring, `"1d6b"`)
	test.That(t, h.out.String(), test.ShouldNotContainSubstring, `"0781"`)

	test.That(t, h.run("config", "ignore", "nope"), test.ShouldNotBeNil)
}

func TestServiceRescanWithoutWatcher(t *testing.T) {
	h := newHarness(t, true)
	err := h.run("service", "rescan")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "watcher not running")
}

func TestVolumeLine(t *testing.T) {
	test.That(t, volumeLine(platform.Volume{Device: "/dev/sdc"}), test.ShouldEqual, "/dev/sdc (not mounted)")
	test.That(t, volumeLine(platform.Volume{Device: "/dev/sdc1", MountPoint: "/mnt", FSType: "exfat"}),
		test.ShouldEqual, "/dev/sdc1 on /mnt [exfat]")
}
