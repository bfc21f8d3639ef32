// Package service runs usbscan as a long-lived watcher, either in the
// foreground or under the system service manager.
package service

import (
	"context"
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Name is the service name registered with the init system.
const Name = "usbscan"

type ServiceManager struct {
	service service.Service
	watcher *Watcher
}

type program struct {
	watcher *Watcher
	logger  *zap.SugaredLogger
	cancel  context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	p.logger.Info("starting usbscan watcher")
	if err := CreatePidFile(); err != nil {
		p.logger.Warnw("pid file", "error", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	forwardRescans(ctx, p.watcher)
	return p.watcher.Start()
}

func (p *program) Stop(s service.Service) error {
	p.logger.Info("stopping usbscan watcher")
	if p.cancel != nil {
		p.cancel()
	}
	err := p.watcher.Stop()
	if rmErr := RemovePidFile(); rmErr != nil {
		p.logger.Warnw("pid file", "error", rmErr)
	}
	return err
}

// NewServiceManager wraps w in a system service. configPath, when set, is
// passed to the installed service so it reads the same config file.
func NewServiceManager(w *Watcher, configPath string, logger *zap.SugaredLogger) (*ServiceManager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "get executable path")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	svcConfig := &service.Config{
		Name:        Name,
		DisplayName: "USB mass storage scanner",
		Description: "Reports USB mass storage interfaces as devices are plugged in",
		Executable:  execPath,
		Arguments:   args,
		Option: service.KeyValue{
			"RunAtLoad": true,
			"KeepAlive": true,
			"Restart":   "on-failure",
		},
	}

	prg := &program{watcher: w, logger: logger}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, errors.Wrap(err, "create service")
	}
	return &ServiceManager{service: svc, watcher: w}, nil
}

func (sm *ServiceManager) Install() error {
	return sm.service.Install()
}

func (sm *ServiceManager) Uninstall() error {
	return sm.service.Uninstall()
}

func (sm *ServiceManager) Start() error {
	return sm.service.Start()
}

func (sm *ServiceManager) Stop() error {
	return sm.service.Stop()
}

func (sm *ServiceManager) Restart() error {
	return sm.service.Restart()
}

func (sm *ServiceManager) Status() (string, error) {
	status, err := sm.service.Status()
	if err != nil {
		return "Unknown", err
	}
	return statusName(status), nil
}

func statusName(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Running"
	case service.StatusStopped:
		return "Stopped"
	case service.StatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(status))
	}
}

// Run blocks until the service manager, or an interrupt when run
// interactively, stops the watcher.
func (sm *ServiceManager) Run() error {
	return sm.service.Run()
}

// GetServiceConfigPath returns where the init system keeps the unit file.
func GetServiceConfigPath() string {
	switch service.Platform() {
	case "linux-systemd":
		return "/etc/systemd/system/" + Name + ".service"
	case "linux-upstart":
		return "/etc/init/" + Name + ".conf"
	case "unix-systemv":
		return "/etc/init.d/" + Name
	case "darwin-launchd":
		return "/Library/LaunchDaemons/" + Name + ".plist"
	default:
		return "unknown platform " + service.Platform()
	}
}
