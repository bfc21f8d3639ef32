package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Limits and defaults.
const (
	DefaultProbeLimit     = 8
	MaxProbeLimit         = 32
	DefaultControlTimeout = time.Second
	DefaultWatchInterval  = 2 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"

	// RootHubVendor is the vendor id Linux uses for its virtual root hubs.
	RootHubVendor HexID = 0x1d6b
)

type Config struct {
	ProbeLimit            int      `json:"probe_limit"`
	UseDeclaredInterfaces bool     `json:"use_declared_interfaces"`
	Reattach              bool     `json:"reattach"`
	IgnoreVendors         []HexID  `json:"ignore_vendors"`
	ControlTimeout        Duration `json:"control_timeout"`
	WatchInterval         Duration `json:"watch_interval"`
	USBIDsPaths           []string `json:"usb_ids_paths,omitempty"`
	LogLevel              string   `json:"log_level"`
	LogFormat             string   `json:"log_format"`
}

var (
	ConfigDir  = "/etc/usbscan"
	ConfigFile = filepath.Join(ConfigDir, "config.json")
	config     *Config
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ProbeLimit:            DefaultProbeLimit,
		UseDeclaredInterfaces: true,
		Reattach:              true,
		IgnoreVendors:         []HexID{},
		ControlTimeout:        Duration{DefaultControlTimeout},
		WatchInterval:         Duration{DefaultWatchInterval},
		LogLevel:              DefaultLogLevel,
		LogFormat:             DefaultLogFormat,
	}
}

// InitConfig loads path, ConfigFile when empty. A missing file leaves the
// defaults in place.
func InitConfig(path string) error {
	if path == "" {
		path = ConfigFile
	}
	ConfigFile = path
	config = Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(data, config); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return errors.Wrapf(config.Validate(), "invalid config %s", path)
}

// GetConfig returns the loaded configuration, or the defaults before
// InitConfig has run.
func GetConfig() *Config {
	if config == nil {
		config = Default()
	}
	return config
}

func SaveConfig() error {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ConfigFile), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	if err := os.WriteFile(ConfigFile, append(data, '\n'), 0644); err != nil {
		return errors.Wrap(err, "write config")
	}
	fmt.Printf("Configuration saved to %s\n", ConfigFile)
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs error
	if c.ProbeLimit < 1 || c.ProbeLimit > MaxProbeLimit {
		errs = multierr.Append(errs, errors.Errorf("probe_limit %d outside 1..%d", c.ProbeLimit, MaxProbeLimit))
	}
	if c.ControlTimeout.Duration <= 0 {
		errs = multierr.Append(errs, errors.Errorf("control_timeout must be positive, got %s", c.ControlTimeout))
	}
	if c.WatchInterval.Duration <= 0 {
		errs = multierr.Append(errs, errors.Errorf("watch_interval must be positive, got %s", c.WatchInterval))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, errors.Errorf("unknown log_level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = multierr.Append(errs, errors.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errs
}

// IgnoredVendorIDs returns IgnoreVendors as plain ids. Root hubs are
// skipped whether or not RootHubVendor is listed.
func (c *Config) IgnoredVendorIDs() []uint16 {
	out := make([]uint16, 0, len(c.IgnoreVendors))
	for _, v := range c.IgnoreVendors {
		out = append(out, uint16(v))
	}
	return out
}

func AddIgnoredVendor(id HexID) error {
	if id == RootHubVendor {
		fmt.Printf("'%s' is always ignored\n", id)
		return nil
	}
	cfg := GetConfig()
	for _, existing := range cfg.IgnoreVendors {
		if existing == id {
			fmt.Printf("'%s' is already ignored\n", id)
			return nil
		}
	}
	cfg.IgnoreVendors = append(cfg.IgnoreVendors, id)
	fmt.Printf("Added '%s' to ignored vendors\n", id)
	return SaveConfig()
}

func RemoveIgnoredVendor(id HexID) error {
	if id == RootHubVendor {
		return errors.Errorf("'%s' root hubs are always ignored", id)
	}
	cfg := GetConfig()
	cfg.IgnoreVendors = removeFromSlice(cfg.IgnoreVendors, id)
	fmt.Printf("Removed '%s' from ignored vendors\n", id)
	return SaveConfig()
}

func CleanDuplicates() error {
	cfg := GetConfig()
	cfg.IgnoreVendors = removeDuplicates(cfg.IgnoreVendors)
	cfg.USBIDsPaths = removeDuplicates(cfg.USBIDsPaths)
	fmt.Println("Removed duplicate entries from config")
	return SaveConfig()
}

func removeDuplicates[T comparable](slice []T) []T {
	seen := make(map[T]bool)
	result := []T{}
	for _, item := range slice {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}

func removeFromSlice[T comparable](slice []T, item T) []T {
	for i, v := range slice {
		if v == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}

// HexID is a 16 bit id written as four hex digits ("1d6b").
type HexID uint16

// ParseHexID accepts "1d6b", "0x1d6b" or "1D6B".
func ParseHexID(s string) (HexID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" || len(s) > 4 {
		return 0, errors.Errorf("invalid hex id %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errors.Errorf("invalid hex id %q", s)
	}
	return HexID(v), nil
}

func (h HexID) String() string {
	return fmt.Sprintf("%04x", uint16(h))
}

func (h HexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *HexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "hex id must be a string")
	}
	v, err := ParseHexID(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Duration is a time.Duration written as "1s", "500ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	d.Duration = v
	return nil
}
