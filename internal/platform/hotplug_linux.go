//go:build linux
// +build linux

package platform

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// ueventGroupKernel is the multicast group of kernel generated uevents.
	ueventGroupKernel = 1
	ueventBufferSize  = 8192
	// pollIntervalMs bounds how long Watch takes to notice cancellation.
	pollIntervalMs = 500
)

type netlinkMonitor struct {
	sock   *nl.NetlinkSocket
	logger *zap.SugaredLogger
}

// NewHotplugMonitor subscribes to kernel uevents.
func NewHotplugMonitor(logger *zap.SugaredLogger) (HotplugMonitor, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sock, err := nl.Subscribe(unix.NETLINK_KOBJECT_UEVENT, ueventGroupKernel)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to kernel uevents")
	}
	return &netlinkMonitor{sock: sock, logger: logger}, nil
}

func (m *netlinkMonitor) Watch(ctx context.Context, events chan<- HotplugEvent) error {
	fd := m.sock.GetFd()
	buf := make([]byte, ueventBufferSize)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, pollIntervalMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "poll uevent socket")
		}
		if n == 0 {
			continue
		}
		n, err = unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENOBUFS) {
				m.logger.Warnw("uevent queue overflowed, events were lost")
				continue
			}
			return errors.Wrap(err, "read uevent")
		}
		evt, ok := hotplugEvent(parseUEvent(buf[:n]))
		if !ok {
			continue
		}
		m.logger.Debugw("hotplug event", "action", evt.Action, "port", evt.Port, "bus", evt.Bus, "address", evt.Address)
		select {
		case events <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *netlinkMonitor) Close() error {
	m.sock.Close()
	return nil
}
