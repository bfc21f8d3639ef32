// Package app wires the usbscan command line.
package app

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gajzzs/usbscan/internal/config"
	"github.com/gajzzs/usbscan/internal/device"
	"github.com/gajzzs/usbscan/internal/logging"
	"github.com/gajzzs/usbscan/internal/platform"
	"github.com/gajzzs/usbscan/internal/system"
	"github.com/gajzzs/usbscan/internal/usb"
	"github.com/gajzzs/usbscan/internal/usbid"
)

type rootFlags struct {
	configPath     string
	json           bool
	probeLimit     int
	noReattach     bool
	ignoreVendors  []string
	logLevel       string
	logFormat      string
	controlTimeout time.Duration
}

// App holds the parsed flags and what the commands share once the
// configuration is loaded.
type App struct {
	flags rootFlags

	newHost    func(platform.Options, *zap.SugaredLogger) usb.Host
	newVolumes func(platform.Options) volumeLookup
	newLogger  func(name, level, format string) (*zap.SugaredLogger, error)
	openNames  func(paths ...string) (*usbid.Database, error)
	isRoot     func() bool
	platform   platform.Options

	cfg    *config.Config
	logger *zap.SugaredLogger
	host   usb.Host
	names  *usbid.Database
}

func newApp() *App {
	return &App{
		newHost:    platform.NewHost,
		newVolumes: func(opts platform.Options) volumeLookup { return platform.NewVolumeFinder(opts) },
		newLogger:  logging.NewLogger,
		openNames:  usbid.Open,
		isRoot:     system.IsRoot,
		platform:   platform.DefaultOptions(),
	}
}

// NewRootCommand returns the usbscan command. Without a subcommand it scans
// every device once.
func NewRootCommand() *cobra.Command {
	return newApp().rootCommand()
}

func (a *App) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usbscan",
		Short: "Find USB mass storage interfaces",
		Long: "usbscan enumerates the attached USB devices, detaches kernel drivers where it can,\n" +
			"reads each device configuration and reports every Mass Storage interface.\n" +
			"Drivers are re-attached afterwards. Needs root.",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	f := cmd.PersistentFlags()
	f.StringVar(&a.flags.configPath, "config", "", "config file (default "+config.ConfigFile+")")
	f.BoolVar(&a.flags.json, "json", false, "print results as JSON")
	f.IntVar(&a.flags.probeLimit, "probe-limit", config.DefaultProbeLimit, "interfaces probed when a device declares none")
	f.BoolVar(&a.flags.noReattach, "no-reattach", false, "leave kernel drivers detached after the scan")
	f.StringSliceVar(&a.flags.ignoreVendors, "ignore-vendor", nil, "vendor id to skip, in hex (repeatable)")
	f.StringVar(&a.flags.logLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")
	f.StringVar(&a.flags.logFormat, "log-format", config.DefaultLogFormat, "console or json")
	f.DurationVar(&a.flags.controlTimeout, "control-timeout", config.DefaultControlTimeout, "timeout of each control transfer")

	cmd.AddCommand(
		a.listCommand(),
		a.watchCommand(),
		a.serviceCommand(),
		a.statusCommand(),
		a.configCommand(),
	)
	return cmd
}

// setup loads the config file and lets flags that were set override it.
func (a *App) setup(cmd *cobra.Command) error {
	if err := config.InitConfig(a.flags.configPath); err != nil {
		return err
	}
	cfg := config.GetConfig()
	if err := a.applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := a.newLogger("usbscan", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	names, err := a.openNames(cfg.USBIDsPaths...)
	if err != nil {
		logger.Debugw("usb.ids unavailable, names not shown", "error", err)
	}

	a.platform.ControlTimeout = cfg.ControlTimeout.Duration
	a.cfg = cfg
	a.logger = logger
	a.names = names
	a.host = a.newHost(a.platform, logger.Named("usb"))
	return nil
}

func (a *App) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("probe-limit") {
		cfg.ProbeLimit = a.flags.probeLimit
	}
	if flags.Changed("no-reattach") {
		cfg.Reattach = !a.flags.noReattach
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.flags.logFormat
	}
	if flags.Changed("control-timeout") {
		cfg.ControlTimeout = config.Duration{Duration: a.flags.controlTimeout}
	}
	for _, s := range a.flags.ignoreVendors {
		id, err := config.ParseHexID(s)
		if err != nil {
			return errors.Wrap(err, "--ignore-vendor")
		}
		cfg.IgnoreVendors = append(cfg.IgnoreVendors, id)
	}
	return nil
}

func (a *App) detector() *device.Detector {
	return device.NewDetector(a.host, device.Options{
		ProbeLimit:            a.cfg.ProbeLimit,
		UseDeclaredInterfaces: a.cfg.UseDeclaredInterfaces,
		Reattach:              a.cfg.Reattach,
		IgnoreVendors:         a.cfg.IgnoredVendorIDs(),
	}, a.logger.Named("scan"))
}

func (a *App) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(cmd.OutOrStdout(), a.flags.json, a.names, a.newVolumes(a.platform))
}

func (a *App) warnIfUnprivileged(cmd *cobra.Command) {
	if !a.isRoot() {
		fmt.Fprintln(cmd.ErrOrStderr(), privilegeWarning)
	}
}

// runScan always succeeds unless the command is cancelled: per device
// problems are part of the report.
func (a *App) runScan(cmd *cobra.Command) error {
	a.warnIfUnprivileged(cmd)
	p := a.printer(cmd)
	p.ScanHeader()

	report, err := a.detector().Scan(cmd.Context())
	if err != nil {
		return err
	}
	return p.Scan(cmd.Context(), report)
}
