//go:build linux
// +build linux

package platform

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/gajzzs/usbscan/internal/usb"
)

// Generic _IOC layout: nr 8 bits, type 8 bits, size 14 bits, dir 2 bits.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

const usbdevfsType = 'U'

// struct usbdevfs_ctrltransfer
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32 // milliseconds
	data        unsafe.Pointer
}

// struct usbdevfs_getdriver
type getDriver struct {
	iface  uint32
	driver [256]byte
}

// struct usbdevfs_ioctl
type usbdevfsIoctl struct {
	iface int32
	code  int32
	data  unsafe.Pointer
}

var (
	ioctlControl          = ioc(iocRead|iocWrite, usbdevfsType, 0, unsafe.Sizeof(ctrlTransfer{}))
	ioctlSetConfiguration = ioc(iocRead, usbdevfsType, 5, unsafe.Sizeof(uint32(0)))
	ioctlGetDriver        = ioc(iocWrite, usbdevfsType, 8, unsafe.Sizeof(getDriver{}))
	ioctlIoctl            = ioc(iocRead|iocWrite, usbdevfsType, 18, unsafe.Sizeof(usbdevfsIoctl{}))
	ioctlDisconnect       = ioc(iocNone, usbdevfsType, 22, 0)
	ioctlConnect          = ioc(iocNone, usbdevfsType, 23, 0)
)

// Standard request fields.
const (
	requestTypeDeviceIn  = 0x80
	requestGetDescriptor = 0x06
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

// driverName returns the kernel driver bound to an interface.
func driverName(fd int, iface uint8) (string, error) {
	gd := getDriver{iface: uint32(iface)}
	if _, err := ioctl(fd, ioctlGetDriver, unsafe.Pointer(&gd)); err != nil {
		return "", err
	}
	n := 0
	for n < len(gd.driver) && gd.driver[n] != 0 {
		n++
	}
	return string(gd.driver[:n]), nil
}

// interfaceIoctl issues one of the USBDEVFS_IOCTL sub commands on an
// interface.
func interfaceIoctl(fd int, iface uint8, code uintptr) error {
	cmd := usbdevfsIoctl{iface: int32(iface), code: int32(code)}
	_, err := ioctl(fd, ioctlIoctl, unsafe.Pointer(&cmd))
	return err
}

func setConfiguration(fd int, value int) error {
	v := uint32(value)
	_, err := ioctl(fd, ioctlSetConfiguration, unsafe.Pointer(&v))
	return err
}

// getDescriptor performs a GET_DESCRIPTOR control read into buf.
func getDescriptor(fd int, descType, index uint8, langID uint16, buf []byte, timeoutMs uint32) (int, error) {
	ctrl := ctrlTransfer{
		requestType: requestTypeDeviceIn,
		request:     requestGetDescriptor,
		value:       uint16(descType)<<8 | uint16(index),
		index:       langID,
		length:      uint16(len(buf)),
		timeout:     timeoutMs,
		data:        unsafe.Pointer(&buf[0]),
	}
	return ioctl(fd, ioctlControl, unsafe.Pointer(&ctrl))
}

// opError classifies a usbdevfs errno.
func opError(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return errors.Wrap(err, op)
	}
	switch errno {
	case unix.ENODATA, unix.ENOENT:
		return usb.NewOpError(op, usb.ErrNotFound, errno)
	case unix.EBUSY:
		return usb.NewOpError(op, usb.ErrBusy, errno)
	case unix.EACCES, unix.EPERM:
		return usb.NewOpError(op, usb.ErrAccess, errno)
	case unix.ENODEV:
		return usb.NewOpError(op, usb.ErrNoDevice, errno)
	case unix.EINVAL:
		return usb.NewOpError(op, usb.ErrInvalidParam, errno)
	case unix.ETIMEDOUT:
		return usb.NewOpError(op, usb.ErrTimeout, errno)
	case unix.ENOSYS, unix.ENOTTY:
		return usb.NewOpError(op, usb.ErrNotSupported, errno)
	}
	return errors.Wrap(errno, op)
}

// openError classifies a failure to open the device node. A missing node
// means the device went away.
func openError(err error) error {
	if errors.Is(err, unix.ENOENT) {
		return usb.NewOpError("open device", usb.ErrNoDevice, err)
	}
	return opError("open device", err)
}
