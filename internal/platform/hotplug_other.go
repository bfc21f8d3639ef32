//go:build !linux

package platform

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gajzzs/usbscan/internal/usb"
)

// NewHotplugMonitor reports that hotplug events are unavailable; callers
// fall back to polling.
func NewHotplugMonitor(*zap.SugaredLogger) (HotplugMonitor, error) {
	return nil, usb.NewOpError("subscribe to kernel uevents", usb.ErrNotSupported,
		errors.Errorf("no hotplug source for %s", runtime.GOOS))
}
