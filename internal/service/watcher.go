package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gajzzs/usbscan/internal/device"
	"github.com/gajzzs/usbscan/internal/platform"
	"github.com/gajzzs/usbscan/internal/usb"
)

// DefaultSettle is how long the watcher waits after an arrival before
// scanning, so the kernel can finish binding drivers.
const DefaultSettle = 500 * time.Millisecond

type WatcherOptions struct {
	// Interval is the poll period when hotplug events are unavailable.
	Interval time.Duration
	Settle   time.Duration
	// NewMonitor opens the hotplug source. nil uses platform.NewHotplugMonitor.
	NewMonitor func(*zap.SugaredLogger) (platform.HotplugMonitor, error)

	// OnFlash is called once per newly seen mass storage interface.
	OnFlash func(device.FlashDetectionResult)
	// OnRemove is called with the results forgotten when a device leaves.
	OnRemove func(device.FlashDetectionResult)
}

// Watcher scans devices as they arrive and reports each mass storage
// interface once until it is unplugged.
type Watcher struct {
	detector *device.Detector
	opts     WatcherOptions
	logger   *zap.SugaredLogger

	rescan chan struct{}

	seenMu sync.Mutex
	seen   map[string]device.FlashDetectionResult

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWatcher(detector *device.Detector, opts WatcherOptions, logger *zap.SugaredLogger) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.NewMonitor == nil {
		opts.NewMonitor = platform.NewHotplugMonitor
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Watcher{
		detector: detector,
		opts:     opts,
		logger:   logger,
		rescan:   make(chan struct{}, 1),
		seen:     map[string]device.FlashDetectionResult{},
	}
}

// Start runs the watcher in the background until Stop.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Errorw("watcher stopped", "error", err)
		}
	}()
	return nil
}

// Stop cancels a watcher started with Start and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return errors.New("watcher not running")
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Rescan asks a running watcher for a full scan.
func (w *Watcher) Rescan() {
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}

// Run scans everything once, then follows hotplug events, or polls when
// they are unavailable, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	report, err := w.scan(ctx, nil)
	if err != nil {
		return err
	}

	mon, err := w.opts.NewMonitor(w.logger)
	if err != nil {
		w.logger.Infow("hotplug events unavailable, polling", "interval", w.opts.Interval, "error", err)
		return w.poll(ctx, portsOf(report))
	}
	defer mon.Close()

	err = w.follow(ctx, mon)
	if err == nil || ctx.Err() != nil {
		return ctx.Err()
	}
	w.logger.Warnw("hotplug source failed, polling", "interval", w.opts.Interval, "error", err)
	known, err := w.ports(ctx)
	if err != nil {
		return err
	}
	return w.poll(ctx, known)
}

func (w *Watcher) follow(ctx context.Context, mon platform.HotplugMonitor) error {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan platform.HotplugEvent, 16)
	watchErr := make(chan error, 1)
	watching := true
	go func() {
		watchErr <- mon.Watch(ctx, events)
	}()
	// the monitor is closed by the caller, Watch must have returned by then
	defer func() {
		cancel()
		if watching {
			<-watchErr
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watchErr:
			watching = false
			return err
		case <-w.rescan:
			if _, err := w.scan(ctx, nil); err != nil {
				return err
			}
		case evt := <-events:
			switch evt.Action {
			case platform.ActionAdd:
				if err := w.settle(ctx); err != nil {
					return err
				}
				port := evt.Port
				if _, err := w.scan(ctx, func(info usb.DeviceInfo) bool { return info.Port == port }); err != nil {
					return err
				}
			case platform.ActionRemove:
				w.forget(map[string]bool{evt.Port: true})
			}
		}
	}
}

// poll compares device listings every interval, starting from known.
func (w *Watcher) poll(ctx context.Context, known map[string]string) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.rescan:
			if _, err := w.scan(ctx, nil); err != nil {
				return err
			}
		case <-ticker.C:
			current, err := w.ports(ctx)
			if err != nil {
				return err
			}
			gone := map[string]bool{}
			for key, port := range known {
				if _, ok := current[key]; !ok {
					gone[port] = true
				}
			}
			arrived := map[string]bool{}
			for key, port := range current {
				if _, ok := known[key]; !ok {
					arrived[port] = true
				}
			}
			known = current
			w.forget(gone)
			if len(arrived) > 0 {
				if _, err := w.scan(ctx, func(info usb.DeviceInfo) bool { return arrived[info.Port] }); err != nil {
					return err
				}
			}
		}
	}
}

// ports lists attached devices keyed by port, bus and address so that a
// replugged device on the same port counts as new.
func (w *Watcher) ports(ctx context.Context) (map[string]string, error) {
	report, err := w.detector.List(ctx)
	if err != nil {
		return nil, err
	}
	return portsOf(report), nil
}

func portsOf(report *device.Report) map[string]string {
	out := map[string]string{}
	for _, rec := range report.Reported() {
		key := fmt.Sprintf("%s/%03d/%03d", rec.Port, rec.Bus, rec.Address)
		out[key] = rec.Port
	}
	return out
}

func (w *Watcher) scan(ctx context.Context, filter func(usb.DeviceInfo) bool) (*device.Report, error) {
	det := w.detector
	if filter != nil {
		det = det.WithFilter(filter)
	}
	report, err := det.Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, flash := range report.Flashes {
		w.seenMu.Lock()
		_, known := w.seen[flash.Fingerprint]
		w.seen[flash.Fingerprint] = flash
		w.seenMu.Unlock()
		if known {
			continue
		}
		w.logger.Infow("new mass storage device", "id", flash.ID(), "port", flash.Port, "serial", flash.Serial)
		if w.opts.OnFlash != nil {
			w.opts.OnFlash(flash)
		}
	}
	return report, nil
}

// forget drops results on the given ports and anything behind them.
func (w *Watcher) forget(ports map[string]bool) {
	if len(ports) == 0 {
		return
	}
	var removed []device.FlashDetectionResult
	w.seenMu.Lock()
	for fp, flash := range w.seen {
		if behind(flash.Port, ports) {
			delete(w.seen, fp)
			removed = append(removed, flash)
		}
	}
	w.seenMu.Unlock()

	for _, flash := range removed {
		w.logger.Infow("mass storage device removed", "id", flash.ID(), "port", flash.Port)
		if w.opts.OnRemove != nil {
			w.opts.OnRemove(flash)
		}
	}
}

// behind reports whether port is one of ports or downstream of one ("1-2.3"
// is behind "1-2").
func behind(port string, ports map[string]bool) bool {
	for p := range ports {
		if port == p || strings.HasPrefix(port, p+".") {
			return true
		}
	}
	return false
}

func (w *Watcher) settle(ctx context.Context) error {
	if w.opts.Settle <= 0 {
		return nil
	}
	t := time.NewTimer(w.opts.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Seen returns the results currently considered attached.
func (w *Watcher) Seen() []device.FlashDetectionResult {
	w.seenMu.Lock()
	defer w.seenMu.Unlock()
	out := make([]device.FlashDetectionResult, 0, len(w.seen))
	for _, flash := range w.seen {
		out = append(out, flash)
	}
	return out
}
