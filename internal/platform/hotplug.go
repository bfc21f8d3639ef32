package platform

import (
	"bytes"
	"context"
	"path"
	"strconv"
	"strings"
)

// Action is a kernel uevent action.
type Action string

// Actions the watcher reacts to.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// HotplugEvent is a usb_device uevent.
type HotplugEvent struct {
	Action  Action
	DevPath string
	// Port is the sysfs device name ("1-2.1").
	Port    string
	Bus     uint8
	Address uint8
}

// HotplugMonitor delivers device arrivals and removals.
type HotplugMonitor interface {
	// Watch sends events until ctx is done or the source fails. It
	// returns ctx.Err() on cancellation.
	Watch(ctx context.Context, events chan<- HotplugEvent) error
	Close() error
}

type uevent struct {
	action    string
	devpath   string
	subsystem string
	devtype   string
	busnum    string
	devnum    string
}

// parseUEvent decodes a NUL separated kernel uevent. The first field is
// "action@devpath", the rest are KEY=value pairs.
func parseUEvent(data []byte) uevent {
	var evt uevent
	for _, field := range bytes.Split(data, []byte{0}) {
		if len(field) == 0 {
			continue
		}
		s := string(field)
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			if action, devpath, ok := strings.Cut(s, "@"); ok {
				evt.action, evt.devpath = action, devpath
			}
			continue
		}
		switch key {
		case "ACTION":
			evt.action = value
		case "DEVPATH":
			evt.devpath = value
		case "SUBSYSTEM":
			evt.subsystem = value
		case "DEVTYPE":
			evt.devtype = value
		case "BUSNUM":
			evt.busnum = value
		case "DEVNUM":
			evt.devnum = value
		}
	}
	return evt
}

// hotplugEvent converts a uevent into a HotplugEvent. Only add and remove of
// whole usb devices are kept.
func hotplugEvent(evt uevent) (HotplugEvent, bool) {
	if evt.subsystem != "usb" || evt.devtype != "usb_device" {
		return HotplugEvent{}, false
	}
	action := Action(evt.action)
	if action != ActionAdd && action != ActionRemove {
		return HotplugEvent{}, false
	}
	out := HotplugEvent{
		Action:  action,
		DevPath: evt.devpath,
		Port:    path.Base(evt.devpath),
	}
	if v, err := strconv.ParseUint(evt.busnum, 10, 8); err == nil {
		out.Bus = uint8(v)
	}
	if v, err := strconv.ParseUint(evt.devnum, 10, 8); err == nil {
		out.Address = uint8(v)
	}
	return out, true
}
