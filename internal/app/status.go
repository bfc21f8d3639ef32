package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gajzzs/usbscan/internal/config"
	"github.com/gajzzs/usbscan/internal/service"
	"github.com/gajzzs/usbscan/internal/system"
)

type statusDocument struct {
	System     system.Summary `json:"system"`
	Service    string         `json:"service"`
	WatcherPid int            `json:"watcher_pid,omitempty"`
	ConfigFile string         `json:"config_file"`
	USBIDs     string         `json:"usb_ids,omitempty"`
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:                   "status",
		Short:                 "Show whether usbscan can work on this host",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc := statusDocument{
				System:     system.NewSystemMonitor(a.platform.SysfsRoot, a.platform.DevfsRoot).GetSystemInfo(ctx),
				Service:    "Not Available",
				ConfigFile: config.ConfigFile,
				USBIDs:     a.names.Path(),
			}
			if sm, err := a.serviceManager(cmd); err == nil {
				if status, err := sm.Status(); err == nil {
					doc.Service = status
				} else {
					doc.Service = "Unknown"
				}
			}
			if pid, err := service.WatcherPid(ctx); err == nil {
				doc.WatcherPid = pid
			}

			out := cmd.OutOrStdout()
			if a.flags.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}

			s := doc.System
			fmt.Fprintln(out, "usbscan status")
			fmt.Fprintln(out, "==============")

			fmt.Fprintln(out, "\nSystem:")
			fmt.Fprintf(out, "  Hostname: %s\n", s.Hostname)
			fmt.Fprintf(out, "  OS:       %s %s (%s)\n", s.Platform, s.PlatformVersion, s.OS)
			fmt.Fprintf(out, "  Kernel:   %s\n", s.KernelVersion)
			fmt.Fprintf(out, "  Uptime:   %s\n", s.Uptime)

			fmt.Fprintln(out, "\nUSB access:")
			fmt.Fprintf(out, "  Root:            %t\n", s.Root)
			fmt.Fprintf(out, "  sysfs devices:   %t\n", s.SysfsUSB)
			fmt.Fprintf(out, "  usbfs writable:  %t\n", s.UsbfsWrite)
			if len(s.Automount) > 0 {
				fmt.Fprintf(out, "  Automount:       %s (volumes re-mount after a scan)\n", strings.Join(s.Automount, ", "))
			}
			if !s.Root || !s.UsbfsWrite {
				fmt.Fprintln(out, "  WARNING: drivers cannot be detached, run with sudo")
			}

			fmt.Fprintln(out, "\nService:")
			fmt.Fprintf(out, "  Status:  %s\n", doc.Service)
			fmt.Fprintf(out, "  Config:  %s\n", service.GetServiceConfigPath())
			if doc.WatcherPid != 0 {
				fmt.Fprintf(out, "  Watcher: pid %d\n", doc.WatcherPid)
			}

			fmt.Fprintln(out, "\nConfiguration:")
			fmt.Fprintf(out, "  File:        %s\n", doc.ConfigFile)
			fmt.Fprintf(out, "  Probe limit: %d\n", a.cfg.ProbeLimit)
			fmt.Fprintf(out, "  Re-attach:   %t\n", a.cfg.Reattach)
			fmt.Fprintf(out, "  Ignored:     %s\n", joinIDs(append([]config.HexID{config.RootHubVendor}, a.cfg.IgnoreVendors...)))
			if doc.USBIDs != "" {
				fmt.Fprintf(out, "  usb.ids:     %s\n", doc.USBIDs)
			} else {
				fmt.Fprintln(out, "  usb.ids:     not found")
			}
			return nil
		},
	}
}

func joinIDs(ids []config.HexID) string {
	if len(ids) == 0 {
		return "none"
	}
	var parts []string
	seen := map[config.HexID]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			parts = append(parts, id.String())
		}
	}
	return strings.Join(parts, ", ")
}
