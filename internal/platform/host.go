// Package platform implements usb.Host for the running operating system,
// along with kernel hotplug notifications and mounted volume lookup.
package platform

import (
	"time"

	"go.uber.org/zap"

	"github.com/gajzzs/usbscan/internal/usb"
)

// Default locations of the kernel interfaces.
const (
	DefaultSysfsRoot      = "/sys"
	DefaultDevfsRoot      = "/dev/bus/usb"
	DefaultControlTimeout = time.Second
)

// Options locate the kernel interfaces. Tests point them at fixtures.
type Options struct {
	SysfsRoot string
	DevfsRoot string
	// ControlTimeout bounds each control transfer.
	ControlTimeout time.Duration
}

// DefaultOptions returns the options for a live system.
func DefaultOptions() Options {
	return Options{
		SysfsRoot:      DefaultSysfsRoot,
		DevfsRoot:      DefaultDevfsRoot,
		ControlTimeout: DefaultControlTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.SysfsRoot == "" {
		o.SysfsRoot = DefaultSysfsRoot
	}
	if o.DevfsRoot == "" {
		o.DevfsRoot = DefaultDevfsRoot
	}
	if o.ControlTimeout <= 0 {
		o.ControlTimeout = DefaultControlTimeout
	}
	return o
}

// NewHost creates the platform specific host. A nil logger discards log
// output.
func NewHost(opts Options, logger *zap.SugaredLogger) usb.Host {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return newHost(opts.withDefaults(), logger)
}
