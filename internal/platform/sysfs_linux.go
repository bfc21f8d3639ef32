//go:build linux
// +build linux

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gajzzs/usbscan/internal/usb"
)

// sysfsDevice is a device directory under /sys/bus/usb/devices.
type sysfsDevice struct {
	path    string
	info    usb.DeviceInfo
	configs []usb.Configuration
}

func usbDevicesDir(sysfsRoot string) string {
	return filepath.Join(sysfsRoot, "bus", "usb", "devices")
}

// scanSysfs lists the devices in sysfs ordered by bus and address. Root hubs
// (usbN) are included, interface entries (1-2:1.0) are not.
func scanSysfs(sysfsRoot string) ([]sysfsDevice, error) {
	dir := usbDevicesDir(sysfsRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var devs []sysfsDevice
	var skipped []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue
		}
		dev, err := readSysfsDevice(filepath.Join(dir, name))
		if err != nil {
			skipped = append(skipped, name)
			continue
		}
		devs = append(devs, dev)
	}
	if len(devs) == 0 && len(skipped) > 0 {
		return nil, errors.Errorf("no readable devices in %s (skipped %s)", dir, strings.Join(skipped, ", "))
	}

	sort.Slice(devs, func(i, j int) bool {
		if devs[i].info.Bus != devs[j].info.Bus {
			return devs[i].info.Bus < devs[j].info.Bus
		}
		return devs[i].info.Address < devs[j].info.Address
	})
	return devs, nil
}

func readSysfsDevice(path string) (sysfsDevice, error) {
	dev := sysfsDevice{path: path}
	info := &dev.info
	info.Port = filepath.Base(path)

	var err error
	if info.Bus, err = readUint8(filepath.Join(path, "busnum")); err != nil {
		return dev, err
	}
	if info.Address, err = readUint8(filepath.Join(path, "devnum")); err != nil {
		return dev, err
	}
	if info.VendorID, err = readHexUint16(filepath.Join(path, "idVendor")); err != nil {
		return dev, err
	}
	if info.ProductID, err = readHexUint16(filepath.Join(path, "idProduct")); err != nil {
		return dev, err
	}
	info.Class, _ = readHexUint8(filepath.Join(path, "bDeviceClass"))
	// empty while the device is unconfigured
	if n, err := readUint8(filepath.Join(path, "bNumInterfaces")); err == nil {
		info.NumInterfaces = int(n)
	}

	raw, err := os.ReadFile(filepath.Join(path, "descriptors"))
	if err == nil {
		desc, configs, perr := usb.ParseDescriptors(raw)
		if perr == nil || len(configs) > 0 {
			info.ManufacturerIndex = desc.ManufacturerIndex
			info.ProductIndex = desc.ProductIndex
			info.SerialIndex = desc.SerialIndex
			dev.configs = configs
		}
	}
	return dev, nil
}

// activeConfigValue reads bConfigurationValue, 0 when unconfigured.
func (d *sysfsDevice) activeConfigValue() (uint8, error) {
	s, err := readString(filepath.Join(d.path, "bConfigurationValue"))
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errors.Wrap(err, "bConfigurationValue")
	}
	return uint8(v), nil
}

// cachedString returns the string the kernel read at enumeration time for
// the given descriptor index.
func (d *sysfsDevice) cachedString(index uint8) (string, error) {
	var attr string
	switch index {
	case 0:
		return "", os.ErrNotExist
	case d.info.ManufacturerIndex:
		attr = "manufacturer"
	case d.info.ProductIndex:
		attr = "product"
	case d.info.SerialIndex:
		attr = "serial"
	default:
		return "", os.ErrNotExist
	}
	return readString(filepath.Join(d.path, attr))
}

func devfsPath(devfsRoot string, bus, address uint8) string {
	return filepath.Join(devfsRoot, fmt.Sprintf("%03d", bus), fmt.Sprintf("%03d", address))
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", filepath.Base(path))
	}
	return uint8(v), nil
}

func readHexUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", filepath.Base(path))
	}
	return uint8(v), nil
}

func readHexUint16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", filepath.Base(path))
	}
	return uint16(v), nil
}
