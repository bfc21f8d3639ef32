// Package usbtest provides an in-memory usb.Host for tests.
package usbtest

import (
	"context"
	"sync"

	"github.com/gajzzs/usbscan/internal/usb"
)

// Host is a fake usb.Host returning a fixed device list.
type Host struct {
	Devs []*Device
	Err  error

	mu    sync.Mutex
	calls int
}

// NewHost returns a Host over the given devices.
func NewHost(devs ...*Device) *Host {
	return &Host{Devs: devs}
}

// Devices implements usb.Host.
func (h *Host) Devices(ctx context.Context) ([]usb.Device, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	out := make([]usb.Device, 0, len(h.Devs))
	for _, d := range h.Devs {
		out = append(out, d)
	}
	return out, nil
}

// SetDevices replaces the device list. It is safe to call while another
// goroutine enumerates.
func (h *Host) SetDevices(devs ...*Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Devs = devs
}

// Calls returns how many times Devices was called.
func (h *Host) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Device is a scripted usb.Device. Unset maps behave like a device with no
// strings, no bound drivers and no configuration.
type Device struct {
	Desc usb.DeviceInfo

	Strings    map[uint8]string
	StringErrs map[uint8]error

	// Drivers lists interfaces with a bound kernel driver.
	Drivers     map[uint8]bool
	ActiveErrs  map[uint8]error
	DetachErrs  map[uint8]error
	AttachErrs  map[uint8]error
	Configs     []usb.Configuration
	Active      uint8
	ActiveErr   error
	SetErr      error
	ConfigsErr  error
	DetachCalls []uint8
	AttachCalls []uint8
	SetCalls    []int
	Closed      bool
}

// NewDevice returns a device with the given identity.
func NewDevice(info usb.DeviceInfo) *Device {
	return &Device{
		Desc:       info,
		Strings:    map[uint8]string{},
		StringErrs: map[uint8]error{},
		Drivers:    map[uint8]bool{},
		ActiveErrs: map[uint8]error{},
		DetachErrs: map[uint8]error{},
		AttachErrs: map[uint8]error{},
	}
}

// WithStrings sets the manufacturer, product and serial strings at indices
// 1, 2 and 3.
func (d *Device) WithStrings(manufacturer, product, serial string) *Device {
	d.Desc.ManufacturerIndex, d.Desc.ProductIndex, d.Desc.SerialIndex = 1, 2, 3
	d.Strings[1] = manufacturer
	d.Strings[2] = product
	d.Strings[3] = serial
	return d
}

// WithConfig adds a configuration and makes it active. Each class becomes
// one interface numbered by position.
func (d *Device) WithConfig(value uint8, classes ...uint8) *Device {
	c := usb.Configuration{Value: value, NumInterfaces: uint8(len(classes))}
	for i, class := range classes {
		c.Interfaces = append(c.Interfaces, usb.Interface{Number: uint8(i), Class: class})
	}
	d.Configs = append(d.Configs, c)
	d.Active = value
	return d
}

// Info implements usb.Device.
func (d *Device) Info() usb.DeviceInfo {
	return d.Desc
}

// StringDescriptor implements usb.Device.
func (d *Device) StringDescriptor(index uint8) (string, error) {
	if err, ok := d.StringErrs[index]; ok {
		return "", err
	}
	s, ok := d.Strings[index]
	if !ok {
		return "", usb.NewOpError("get string descriptor", usb.ErrNotFound, nil)
	}
	return s, nil
}

// KernelDriverActive implements usb.Device.
func (d *Device) KernelDriverActive(iface uint8) (bool, error) {
	if err, ok := d.ActiveErrs[iface]; ok {
		return false, err
	}
	return d.Drivers[iface], nil
}

// DetachKernelDriver implements usb.Device.
func (d *Device) DetachKernelDriver(iface uint8) error {
	d.DetachCalls = append(d.DetachCalls, iface)
	if err, ok := d.DetachErrs[iface]; ok {
		return err
	}
	if !d.Drivers[iface] {
		return usb.NewOpError("detach kernel driver", usb.ErrNotFound, nil)
	}
	d.Drivers[iface] = false
	return nil
}

// AttachKernelDriver implements usb.Device.
func (d *Device) AttachKernelDriver(iface uint8) error {
	d.AttachCalls = append(d.AttachCalls, iface)
	if err, ok := d.AttachErrs[iface]; ok {
		return err
	}
	if d.Drivers[iface] {
		return usb.NewOpError("attach kernel driver", usb.ErrBusy, nil)
	}
	d.Drivers[iface] = true
	return nil
}

// ActiveConfiguration implements usb.Device.
func (d *Device) ActiveConfiguration() (*usb.Configuration, error) {
	if d.ActiveErr != nil {
		return nil, d.ActiveErr
	}
	if d.Active == 0 {
		return nil, nil
	}
	for i := range d.Configs {
		if d.Configs[i].Value == d.Active {
			c := d.Configs[i]
			return &c, nil
		}
	}
	return nil, nil
}

// SetConfiguration implements usb.Device.
func (d *Device) SetConfiguration(value int) error {
	d.SetCalls = append(d.SetCalls, value)
	if d.SetErr != nil {
		return d.SetErr
	}
	d.Active = uint8(value)
	return nil
}

// Configurations implements usb.Device.
func (d *Device) Configurations() ([]usb.Configuration, error) {
	if d.ConfigsErr != nil {
		return nil, d.ConfigsErr
	}
	return d.Configs, nil
}

// Close implements usb.Device.
func (d *Device) Close() error {
	d.Closed = true
	return nil
}
