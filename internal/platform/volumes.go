package platform

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"
)

// Volume is a block device exposed by a mass storage interface.
type Volume struct {
	Device     string `json:"device"`
	MountPoint string `json:"mount_point,omitempty"`
	FSType     string `json:"fs_type,omitempty"`
	Label      string `json:"label,omitempty"`
}

// Mounted reports whether the volume has a mount point.
func (v Volume) Mounted() bool {
	return v.MountPoint != ""
}

// VolumeFinder maps usb ports to block devices and their mount points.
type VolumeFinder struct {
	sysfsRoot  string
	devRoot    string
	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
}

// NewVolumeFinder returns a finder reading the sysfs tree in opts.
func NewVolumeFinder(opts Options) *VolumeFinder {
	opts = opts.withDefaults()
	return &VolumeFinder{
		sysfsRoot:  opts.SysfsRoot,
		devRoot:    "/dev",
		partitions: disk.PartitionsWithContext,
	}
}

// Volumes returns the block devices below the usb device at port, one entry
// per mounted partition or one per unmounted disk. Block devices only
// appear while usb-storage is bound, so call this after drivers are
// re-attached.
func (f *VolumeFinder) Volumes(ctx context.Context, port string) ([]Volume, error) {
	if port == "" {
		return nil, nil
	}
	disks, err := f.blockDevices(port)
	if err != nil || len(disks) == 0 {
		return nil, err
	}
	parts, err := f.partitions(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "list partitions")
	}

	var vols []Volume
	for _, name := range disks {
		found := false
		for _, p := range parts {
			if !belongsTo(filepath.Base(p.Device), name) {
				continue
			}
			found = true
			vols = append(vols, Volume{
				Device:     p.Device,
				MountPoint: p.Mountpoint,
				FSType:     p.Fstype,
				Label:      f.label(p.Device),
			})
		}
		if !found {
			dev := filepath.Join(f.devRoot, name)
			vols = append(vols, Volume{Device: dev, Label: f.label(dev)})
		}
	}
	return vols, nil
}

// blockDevices returns the names under /sys/block whose device path passes
// through the usb device at port.
func (f *VolumeFinder) blockDevices(port string) ([]string, error) {
	dir := filepath.Join(f.sysfsRoot, "block")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read block devices")
	}
	var names []string
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		for _, part := range strings.Split(filepath.ToSlash(target), "/") {
			if part == port {
				names = append(names, entry.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// belongsTo reports whether partition is the disk itself or one of its
// numbered partitions (sdb1, mmcblk0p1).
func belongsTo(partition, diskName string) bool {
	if partition == diskName {
		return true
	}
	rest := strings.TrimPrefix(partition, diskName)
	if rest == partition {
		return false
	}
	rest = strings.TrimPrefix(rest, "p")
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// label looks the device up in /dev/disk/by-label.
func (f *VolumeFinder) label(device string) string {
	dir := filepath.Join(f.devRoot, "disk", "by-label")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		link := filepath.Join(dir, entry.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(link), target)
		}
		if filepath.Base(filepath.Clean(target)) == filepath.Base(device) {
			return unescapeLabel(entry.Name())
		}
	}
	return ""
}

// unescapeLabel undoes udev's \x2f style escaping of label names.
func unescapeLabel(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := hex.DecodeString(s[i+2 : i+4]); err == nil {
				b.WriteByte(v[0])
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
