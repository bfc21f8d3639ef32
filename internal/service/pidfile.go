package service

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// RescanSignal asks a running watcher for a full scan.
const RescanSignal = syscall.SIGUSR1

// PidFile is where the running watcher records its pid.
var PidFile = "/run/usbscan.pid"

func CreatePidFile() error {
	if err := os.MkdirAll(filepath.Dir(PidFile), 0o755); err != nil {
		return errors.Wrap(err, "create pid directory")
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(PidFile, []byte(data), 0o644); err != nil {
		return errors.Wrap(err, "write pid file")
	}
	return nil
}

func RemovePidFile() error {
	if err := os.Remove(PidFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(PidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "pid file %s", PidFile)
	}
	return pid, nil
}

// WatcherPid returns the pid of a running watcher, or 0 when none is
// running. A pid file left by a dead process is removed.
func WatcherPid(ctx context.Context) (int, error) {
	pid, err := readPidFile()
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return 0, errors.Wrapf(err, "check pid %d", pid)
	}
	if !alive {
		_ = RemovePidFile()
		return 0, nil
	}
	return pid, nil
}

// SendRescan signals the running watcher to scan every device again.
func SendRescan(ctx context.Context) error {
	pid, err := WatcherPid(ctx)
	if err != nil {
		return err
	}
	if pid == 0 {
		return errors.New("watcher not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrapf(err, "find watcher process %d", pid)
	}
	return proc.Signal(RescanSignal)
}

// forwardRescans triggers w.Rescan on every RescanSignal until ctx is done.
func forwardRescans(ctx context.Context, w *Watcher) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, RescanSignal)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				w.Rescan()
			}
		}
	}()
}
