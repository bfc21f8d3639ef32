//go:build !linux

package platform

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gajzzs/usbscan/internal/usb"
)

type unsupportedHost struct{}

func newHost(Options, *zap.SugaredLogger) usb.Host {
	return unsupportedHost{}
}

func (unsupportedHost) Devices(context.Context) ([]usb.Device, error) {
	return nil, usb.NewOpError("enumerate", usb.ErrUnavailable,
		errors.Errorf("no usbdevfs backend for %s", runtime.GOOS))
}
