package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gajzzs/usbscan/internal/config"
	"github.com/gajzzs/usbscan/internal/device"
	"github.com/gajzzs/usbscan/internal/service"
)

func (a *App) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List USB devices without touching their drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.detector().List(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer(cmd).List(report)
		},
	}
}

func (a *App) watchCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan devices as they are plugged in",
		Long: "watch scans every device once, then scans each newly plugged device and prints\n" +
			"mass storage interfaces it has not reported yet. Kernel hotplug events are used\n" +
			"when available, otherwise the device list is polled every --interval.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") {
				a.cfg.WatchInterval = config.Duration{Duration: interval}
			}
			a.warnIfUnprivileged(cmd)
			err := a.newWatcher(cmd).Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultWatchInterval, "poll interval when hotplug events are unavailable")
	return cmd
}

func (a *App) newWatcher(cmd *cobra.Command) *service.Watcher {
	p := a.printer(cmd)
	ctx := cmd.Context()
	return service.NewWatcher(a.detector(), service.WatcherOptions{
		Interval: a.cfg.WatchInterval.Duration,
		Settle:   service.DefaultSettle,
		OnFlash:  func(f device.FlashDetectionResult) { p.Added(ctx, f) },
		OnRemove: p.Removed,
	}, a.logger.Named("watch"))
}

func (a *App) serviceManager(cmd *cobra.Command) (*service.ServiceManager, error) {
	return service.NewServiceManager(a.newWatcher(cmd), a.flags.configPath, a.logger.Named("service"))
}

func (a *App) serviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the usbscan watch service",
	}

	action := func(use, short string, run func(*service.ServiceManager) error, done string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sm, err := a.serviceManager(cmd)
				if err != nil {
					return err
				}
				if err := run(sm); err != nil {
					return errors.Wrapf(err, "service %s", use)
				}
				if done != "" {
					fmt.Fprintln(cmd.OutOrStdout(), done)
				}
				return nil
			},
		}
	}

	cmd.AddCommand(
		action("install", "Install usbscan as a system service", (*service.ServiceManager).Install,
			"Service installed: "+service.GetServiceConfigPath()),
		action("uninstall", "Remove the system service", (*service.ServiceManager).Uninstall, "Service uninstalled"),
		action("start", "Start the installed service", (*service.ServiceManager).Start, "Service started"),
		action("stop", "Stop the installed service", (*service.ServiceManager).Stop, "Service stopped"),
		action("restart", "Restart the installed service", (*service.ServiceManager).Restart, "Service restarted"),
		action("run", "Run the watcher under the service manager", (*service.ServiceManager).Run, ""),
		&cobra.Command{
			Use:   "status",
			Short: "Show service status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				out := cmd.OutOrStdout()
				sm, err := a.serviceManager(cmd)
				if err != nil {
					return err
				}
				status, err := sm.Status()
				if err != nil {
					a.logger.Debugw("service status", "error", err)
				}
				fmt.Fprintf(out, "Service status: %s\n", status)
				fmt.Fprintf(out, "Service config: %s\n", service.GetServiceConfigPath())
				pid, err := service.WatcherPid(cmd.Context())
				switch {
				case err != nil:
					fmt.Fprintf(out, "Watcher: unknown (%v)\n", err)
				case pid == 0:
					fmt.Fprintln(out, "Watcher: not running")
				default:
					fmt.Fprintf(out, "Watcher: running (pid %d)\n", pid)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "rescan",
			Short: "Ask the running watcher to scan every device again",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return service.SendRescan(cmd.Context())
			},
		},
	)
	return cmd
}

func (a *App) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration file",
	}

	// reload drops flag overrides so that only file values are saved
	reload := func() error {
		return config.InitConfig(a.flags.configPath)
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(config.ConfigFile); err == nil && !force {
				return errors.Errorf("%s exists, use --force to overwrite", config.ConfigFile)
			}
			*config.GetConfig() = *config.Default()
			return config.SaveConfig()
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := json.MarshalIndent(a.cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", config.ConfigFile, data)
				return nil
			},
		},
		initCmd,
		&cobra.Command{
			Use:   "ignore [vendor-id]",
			Short: "Skip devices of a vendor in every scan",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := config.ParseHexID(args[0])
				if err != nil {
					return err
				}
				if err := reload(); err != nil {
					return err
				}
				return config.AddIgnoredVendor(id)
			},
		},
		&cobra.Command{
			Use:   "unignore [vendor-id]",
			Short: "Scan devices of a vendor again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := config.ParseHexID(args[0])
				if err != nil {
					return err
				}
				if err := reload(); err != nil {
					return err
				}
				return config.RemoveIgnoredVendor(id)
			},
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove duplicate entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := reload(); err != nil {
					return err
				}
				return config.CleanDuplicates()
			},
		},
	)
	return cmd
}
