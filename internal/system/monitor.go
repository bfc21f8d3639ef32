package system

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// automounters re-mount volumes when usb-storage is re-bound after a scan.
var automounters = []string{"udisksd", "udevil", "devmon", "usbmount", "automount"}

// Summary describes the host and whether usbscan can do its job on it.
type Summary struct {
	Hostname        string        `json:"hostname"`
	OS              string        `json:"os"`
	Platform        string        `json:"platform"`
	PlatformVersion string        `json:"platform_version"`
	KernelVersion   string        `json:"kernel_version"`
	Uptime          time.Duration `json:"uptime"`

	Root       bool     `json:"root"`
	SysfsUSB   bool     `json:"sysfs_usb"`
	UsbfsWrite bool     `json:"usbfs_writable"`
	Automount  []string `json:"automount,omitempty"`
}

type SystemMonitor struct {
	sysfsRoot string
	devfsRoot string
}

func NewSystemMonitor(sysfsRoot, devfsRoot string) *SystemMonitor {
	return &SystemMonitor{sysfsRoot: sysfsRoot, devfsRoot: devfsRoot}
}

// GetSystemInfo gathers the summary. Fields that cannot be read are left
// empty.
func (sm *SystemMonitor) GetSystemInfo(ctx context.Context) Summary {
	var s Summary
	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.OS = info.OS
		s.Platform = info.Platform
		s.PlatformVersion = info.PlatformVersion
		s.KernelVersion = info.KernelVersion
		s.Uptime = time.Duration(info.Uptime) * time.Second
	}
	s.Root = IsRoot()
	if _, err := os.Stat(filepath.Join(sm.sysfsRoot, "bus", "usb", "devices")); err == nil {
		s.SysfsUSB = true
	}
	s.UsbfsWrite = sm.usbfsWritable()
	s.Automount, _ = RunningAutomounters(ctx)
	return s
}

// usbfsWritable reports whether at least one device node can be opened for
// writing, which detaching drivers needs.
func (sm *SystemMonitor) usbfsWritable() bool {
	nodes, err := filepath.Glob(filepath.Join(sm.devfsRoot, "*", "*"))
	if err != nil {
		return false
	}
	for _, node := range nodes {
		if unix.Access(node, unix.W_OK) == nil {
			return true
		}
	}
	return false
}

// IsRoot reports whether the process runs with an effective uid of 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// RunningAutomounters returns the names of running automount daemons.
func RunningAutomounters(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var found []string
	seen := map[string]bool{}
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		for _, candidate := range automounters {
			if name == candidate && !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	return found, nil
}
