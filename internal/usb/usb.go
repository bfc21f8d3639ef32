// Package usb describes the host USB capability the scanner consumes: device
// enumeration, descriptor strings, kernel driver binding and configurations.
// Platform backends live in internal/platform.
package usb

import (
	"context"
	"fmt"
)

// Well known codes.
const (
	// ClassMassStorage is bInterfaceClass for USB Mass Storage interfaces.
	ClassMassStorage uint8 = 0x08
	// ClassHub is bDeviceClass for hubs.
	ClassHub uint8 = 0x09

	// VendorLinuxFoundation is the vendor id of the virtual root hubs Linux
	// registers for every host controller.
	VendorLinuxFoundation uint16 = 0x1d6b
)

// DeviceInfo is the identity of a device as read during enumeration.
type DeviceInfo struct {
	VendorID  uint16
	ProductID uint16
	Bus       uint8
	Address   uint8
	Class     uint8

	// Port is the platform topology name of the device ("1-2.1" on Linux).
	Port string

	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialIndex       uint8

	// NumInterfaces is the interface count the active configuration
	// declares, or 0 when the device does not report one.
	NumInterfaces int
}

// ID returns the vendor:product pair as printed by lsusb.
func (d DeviceInfo) ID() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// Interface is one interface descriptor of a configuration.
type Interface struct {
	Number     uint8
	AltSetting uint8
	Class      uint8
	SubClass   uint8
	Protocol   uint8
}

// IsMassStorage reports whether the interface belongs to the Mass Storage class.
func (i Interface) IsMassStorage() bool {
	return i.Class == ClassMassStorage
}

// Configuration is a parsed configuration descriptor.
type Configuration struct {
	Value         uint8
	NumInterfaces uint8
	Interfaces    []Interface
}

// Primary returns the interfaces with alternate setting 0, one per
// interface number.
func (c *Configuration) Primary() []Interface {
	var out []Interface
	for _, iface := range c.Interfaces {
		if iface.AltSetting == 0 {
			out = append(out, iface)
		}
	}
	return out
}

// Host enumerates the devices attached to the machine.
type Host interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Device is an enumerated device. Handles are opened lazily by the
// backend and released by Close.
type Device interface {
	Info() DeviceInfo
	StringDescriptor(index uint8) (string, error)
	KernelDriverActive(iface uint8) (bool, error)
	DetachKernelDriver(iface uint8) error
	AttachKernelDriver(iface uint8) error
	// ActiveConfiguration returns nil and no error when the device is
	// unconfigured.
	ActiveConfiguration() (*Configuration, error)
	SetConfiguration(value int) error
	Configurations() ([]Configuration, error)
	Close() error
}
