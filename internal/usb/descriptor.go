package usb

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// Descriptor types.
const (
	DescriptorTypeDevice    uint8 = 0x01
	DescriptorTypeConfig    uint8 = 0x02
	DescriptorTypeString    uint8 = 0x03
	DescriptorTypeInterface uint8 = 0x04
)

const (
	deviceDescriptorLen    = 18
	configDescriptorLen    = 9
	interfaceDescriptorLen = 9
)

// Parse errors.
var (
	ErrDescriptorTooShort     = errors.New("descriptor too short")
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
)

// DeviceDescriptor is the standard 18 byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16
	Class             uint8
	SubClass          uint8
	Protocol          uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialIndex       uint8
	NumConfigurations uint8
}

// ParseDeviceDescriptor decodes a device descriptor.
func ParseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	var d DeviceDescriptor
	if len(b) < deviceDescriptorLen {
		return d, errors.Wrapf(ErrDescriptorTooShort, "device descriptor has %d bytes", len(b))
	}
	if b[1] != DescriptorTypeDevice {
		return d, errors.Wrapf(ErrDescriptorTypeMismatch, "got type 0x%02x, want device", b[1])
	}
	d.USBVersion = binary.LittleEndian.Uint16(b[2:4])
	d.Class = b[4]
	d.SubClass = b[5]
	d.Protocol = b[6]
	d.MaxPacketSize0 = b[7]
	d.VendorID = binary.LittleEndian.Uint16(b[8:10])
	d.ProductID = binary.LittleEndian.Uint16(b[10:12])
	d.DeviceVersion = binary.LittleEndian.Uint16(b[12:14])
	d.ManufacturerIndex = b[14]
	d.ProductIndex = b[15]
	d.SerialIndex = b[16]
	d.NumConfigurations = b[17]
	return d, nil
}

// ParseConfiguration decodes one configuration descriptor together with the
// interface descriptors that follow it. It returns the number of bytes
// consumed.
func ParseConfiguration(b []byte) (Configuration, int, error) {
	var c Configuration
	if len(b) < configDescriptorLen {
		return c, 0, errors.Wrapf(ErrDescriptorTooShort, "configuration descriptor has %d bytes", len(b))
	}
	if b[1] != DescriptorTypeConfig {
		return c, 0, errors.Wrapf(ErrDescriptorTypeMismatch, "got type 0x%02x, want configuration", b[1])
	}
	total := int(binary.LittleEndian.Uint16(b[2:4]))
	if total < configDescriptorLen {
		return c, 0, errors.Wrapf(ErrDescriptorTooShort, "wTotalLength %d", total)
	}
	// the kernel may hand us fewer bytes than wTotalLength claims
	if total > len(b) {
		total = len(b)
	}
	c.NumInterfaces = b[4]
	c.Value = b[5]

	for off := int(b[0]); off+2 <= total; {
		length := int(b[off])
		if length < 2 {
			return c, 0, errors.Wrapf(ErrDescriptorTooShort, "zero-length descriptor at offset %d", off)
		}
		if off+length > total {
			break
		}
		if b[off+1] == DescriptorTypeInterface && length >= interfaceDescriptorLen {
			c.Interfaces = append(c.Interfaces, Interface{
				Number:     b[off+2],
				AltSetting: b[off+3],
				Class:      b[off+5],
				SubClass:   b[off+6],
				Protocol:   b[off+7],
			})
		}
		off += length
	}
	return c, total, nil
}

// ParseDescriptors decodes the raw descriptor blob Linux exposes in sysfs and
// usbdevfs: the device descriptor followed by every configuration.
func ParseDescriptors(b []byte) (DeviceDescriptor, []Configuration, error) {
	dev, err := ParseDeviceDescriptor(b)
	if err != nil {
		return dev, nil, err
	}
	skip := int(b[0])
	if skip < deviceDescriptorLen || skip > len(b) {
		skip = deviceDescriptorLen
	}
	rest := b[skip:]
	var configs []Configuration
	for len(rest) > 0 {
		c, n, err := ParseConfiguration(rest)
		if err != nil {
			return dev, configs, errors.Wrapf(err, "configuration %d", len(configs))
		}
		configs = append(configs, c)
		rest = rest[n:]
	}
	return dev, configs, nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeString decodes a string descriptor (bLength, bDescriptorType,
// UTF-16LE payload).
func DecodeString(b []byte) (string, error) {
	if len(b) < 2 {
		return "", errors.Wrapf(ErrDescriptorTooShort, "string descriptor has %d bytes", len(b))
	}
	if b[1] != DescriptorTypeString {
		return "", errors.Wrapf(ErrDescriptorTypeMismatch, "got type 0x%02x, want string", b[1])
	}
	n := int(b[0])
	if n > len(b) {
		n = len(b)
	}
	if n < 2 {
		return "", errors.Wrapf(ErrDescriptorTooShort, "bLength %d", b[0])
	}
	payload := b[2:n]
	if len(payload)%2 == 1 {
		payload = payload[:len(payload)-1]
	}
	s, err := utf16le.NewDecoder().Bytes(payload)
	if err != nil {
		return "", errors.Wrap(err, "decode string descriptor")
	}
	return strings.TrimRight(string(s), "\x00"), nil
}

// DecodeLangIDs decodes string descriptor zero, the supported language ids.
func DecodeLangIDs(b []byte) ([]uint16, error) {
	if len(b) < 4 {
		return nil, errors.Wrapf(ErrDescriptorTooShort, "language table has %d bytes", len(b))
	}
	if b[1] != DescriptorTypeString {
		return nil, errors.Wrapf(ErrDescriptorTypeMismatch, "got type 0x%02x, want string", b[1])
	}
	n := int(b[0])
	if n > len(b) {
		n = len(b)
	}
	var ids []uint16
	for off := 2; off+1 < n; off += 2 {
		ids = append(ids, binary.LittleEndian.Uint16(b[off:off+2]))
	}
	return ids, nil
}
