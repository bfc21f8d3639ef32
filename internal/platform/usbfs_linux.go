//go:build linux
// +build linux

package platform

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gajzzs/usbscan/internal/usb"
)

// usbfsDriver is the name GETDRIVER reports for interfaces claimed through
// usbdevfs. It does not count as a kernel driver.
const usbfsDriver = "usbfs"

type linuxHost struct {
	opts   Options
	logger *zap.SugaredLogger
}

func newHost(opts Options, logger *zap.SugaredLogger) usb.Host {
	return &linuxHost{opts: opts, logger: logger}
}

func (h *linuxHost) Devices(ctx context.Context) ([]usb.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := scanSysfs(h.opts.SysfsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, usb.NewOpError("enumerate", usb.ErrUnavailable, err)
		}
		return nil, errors.Wrap(err, "enumerate usb devices")
	}
	devs := make([]usb.Device, 0, len(found))
	for _, sys := range found {
		devs = append(devs, &linuxDevice{
			sys:       sys,
			node:      devfsPath(h.opts.DevfsRoot, sys.info.Bus, sys.info.Address),
			timeoutMs: uint32(h.opts.ControlTimeout.Milliseconds()),
			fd:        -1,
			logger:    h.logger,
		})
	}
	h.logger.Debugw("enumerated usb devices", "count", len(devs), "root", h.opts.SysfsRoot)
	return devs, nil
}

// linuxDevice talks to one device through its usbdevfs node. The node is
// opened on first use.
type linuxDevice struct {
	sys       sysfsDevice
	node      string
	timeoutMs uint32
	fd        int
	langID    uint16
	logger    *zap.SugaredLogger
}

func (d *linuxDevice) Info() usb.DeviceInfo {
	return d.sys.info
}

func (d *linuxDevice) open() (int, error) {
	if d.fd >= 0 {
		return d.fd, nil
	}
	fd, err := unix.Open(d.node, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, openError(err)
	}
	d.fd = fd
	return fd, nil
}

func (d *linuxDevice) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return errors.Wrap(err, "close device")
}

// StringDescriptor reads a string from the device. When the device cannot be
// opened or does not answer, the copy the kernel cached in sysfs is used.
func (d *linuxDevice) StringDescriptor(index uint8) (string, error) {
	if index == 0 {
		return "", usb.NewOpError("get string descriptor", usb.ErrInvalidParam, errors.New("index 0 is the language table"))
	}
	s, err := d.readString(index)
	if err == nil {
		return s, nil
	}
	if cached, cerr := d.sys.cachedString(index); cerr == nil {
		d.logger.Debugw("using cached string descriptor", "id", d.sys.info.ID(), "index", index, "error", err)
		return cached, nil
	}
	return "", err
}

func (d *linuxDevice) readString(index uint8) (string, error) {
	fd, err := d.open()
	if err != nil {
		return "", err
	}
	var buf [255]byte
	if d.langID == 0 {
		n, err := getDescriptor(fd, usb.DescriptorTypeString, 0, 0, buf[:], d.timeoutMs)
		if err != nil {
			return "", opError("get language table", err)
		}
		ids, err := usb.DecodeLangIDs(buf[:n])
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "", usb.NewOpError("get language table", usb.ErrNotFound, nil)
		}
		d.langID = ids[0]
	}
	n, err := getDescriptor(fd, usb.DescriptorTypeString, index, d.langID, buf[:], d.timeoutMs)
	if err != nil {
		return "", opError("get string descriptor", err)
	}
	return usb.DecodeString(buf[:n])
}

func (d *linuxDevice) KernelDriverActive(iface uint8) (bool, error) {
	fd, err := d.open()
	if err != nil {
		return false, err
	}
	name, err := driverName(fd, iface)
	if err != nil {
		if errors.Is(err, unix.ENODATA) {
			// no driver, or no such interface
			return false, nil
		}
		return false, opError("get driver", err)
	}
	return name != usbfsDriver, nil
}

func (d *linuxDevice) DetachKernelDriver(iface uint8) error {
	fd, err := d.open()
	if err != nil {
		return err
	}
	if name, err := driverName(fd, iface); err == nil && name == usbfsDriver {
		return usb.NewOpError("detach kernel driver", usb.ErrNotFound, errors.New("interface claimed through usbfs"))
	}
	if err := interfaceIoctl(fd, iface, ioctlDisconnect); err != nil {
		return opError("detach kernel driver", err)
	}
	return nil
}

func (d *linuxDevice) AttachKernelDriver(iface uint8) error {
	fd, err := d.open()
	if err != nil {
		return err
	}
	if err := interfaceIoctl(fd, iface, ioctlConnect); err != nil {
		return opError("attach kernel driver", err)
	}
	return nil
}

func (d *linuxDevice) ActiveConfiguration() (*usb.Configuration, error) {
	value, err := d.sys.activeConfigValue()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, usb.NewOpError("get configuration", usb.ErrNoDevice, err)
		}
		return nil, errors.Wrap(err, "get configuration")
	}
	if value == 0 {
		return nil, nil
	}
	for i := range d.sys.configs {
		if d.sys.configs[i].Value == value {
			c := d.sys.configs[i]
			return &c, nil
		}
	}
	return nil, usb.NewOpError("get configuration", usb.ErrNotFound,
		errors.Errorf("configuration %d has no descriptor", value))
}

func (d *linuxDevice) SetConfiguration(value int) error {
	fd, err := d.open()
	if err != nil {
		return err
	}
	if err := setConfiguration(fd, value); err != nil {
		return opError("set configuration", err)
	}
	return nil
}

func (d *linuxDevice) Configurations() ([]usb.Configuration, error) {
	return d.sys.configs, nil
}
