package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Device kinds understood by device.New.
const (
	DeviceKindADB = "adb"
	DeviceKindDir = "dir"
)

// Config holds application configuration.
type Config struct {
	// StorageRoot is the base directory evidence photos are filed under.
	// Defaults to <base>/evidence.
	StorageRoot string `json:"storage_root,omitempty"`

	// LedgerPath is the custody ledger file. Defaults to <base>/ledger.jsonl.
	LedgerPath string `json:"ledger_path,omitempty"`

	// TransferTimeoutSeconds bounds a single device pull.
	TransferTimeoutSeconds int `json:"transfer_timeout_seconds"`

	// StatusPollMillis is how often device status is polled while a transfer is in flight.
	StatusPollMillis int `json:"status_poll_millis"`

	// ReconnectAttempts is the number of extra connect attempts made by the
	// device link layer before surfacing an error. Captures themselves are
	// never retried automatically.
	ReconnectAttempts int `json:"reconnect_attempts"`

	// NamingMaxAttempts bounds the collision retry loop of the naming engine.
	NamingMaxAttempts int `json:"naming_max_attempts"`

	// MinFreeBytes makes the storage root unavailable when free space drops below it.
	// 0 disables the check.
	MinFreeBytes uint64 `json:"min_free_bytes,omitempty"`

	// DeviceKind selects the device link: "adb" or "dir".
	DeviceKind string `json:"device_kind"`

	// ADBPath is the adb binary. Empty means "adb" from PATH.
	ADBPath string `json:"adb_path,omitempty"`

	// DeviceDir is the mounted folder used by the "dir" device link.
	DeviceDir string `json:"device_dir,omitempty"`

	// RemoteDirs lists device folders searched for new photos, in order.
	RemoteDirs []string `json:"remote_dirs,omitempty"`

	// PhotoExtension is appended to generated identifiers.
	PhotoExtension string `json:"photo_extension"`

	// TriggerShutter presses the device shutter before looking for a new photo.
	TriggerShutter bool `json:"trigger_shutter,omitempty"`

	// RemoveRemote deletes the device original once a capture is committed.
	RemoveRemote bool `json:"remove_remote,omitempty"`

	// Operator is recorded on every ledger entry.
	Operator string `json:"operator,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format"`

	// AllowedPaths is an allowlist of directories for ledger export and reports.
	// Paths outside <base>/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open catalog connections.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle catalog connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// ExportsDir is the default export directory. Set by Load, never read from JSON.
	ExportsDir string `json:"-"`
}

// DefaultRemoteDirs are the folders Android cameras usually write to.
var DefaultRemoteDirs = []string{
	"/storage/emulated/0/DCIM/Camera",
	"/storage/emulated/0/DCIM/100ANDRO",
	"/storage/emulated/0/DCIM/100MEDIA",
	"/storage/emulated/0/Pictures/Camera",
	"/sdcard/DCIM/Camera",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TransferTimeoutSeconds: 30,
		StatusPollMillis:       500,
		ReconnectAttempts:      1,
		NamingMaxAttempts:      9999,
		DeviceKind:             DeviceKindADB,
		PhotoExtension:         ".jpg",
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// TransferTimeout returns the configured per-transfer timeout.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.TransferTimeoutSeconds) * time.Second
}

// StatusPollInterval returns the device status polling interval.
func (c *Config) StatusPollInterval() time.Duration {
	return time.Duration(c.StatusPollMillis) * time.Millisecond
}

// Load loads configuration from baseDir/config.json and fills in paths
// derived from baseDir. Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyBaseDir(cfg, baseDir)
	return cfg, nil
}

// LoadWithRepo loads configuration from both global (~/.custody) and repo
// (.custody) directories. Repo config is found by walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	applyBaseDir(cfg, globalDir)
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .custody/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".custody", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func applyBaseDir(cfg *Config, baseDir string) {
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = filepath.Join(baseDir, "evidence")
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(baseDir, "ledger.jsonl")
	}
	cfg.ExportsDir = filepath.Join(baseDir, "exports")
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
// Comments and trailing commas are accepted.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.StorageRoot = pickString(overlay.StorageRoot, base.StorageRoot)
	result.LedgerPath = pickString(overlay.LedgerPath, base.LedgerPath)
	result.DeviceKind = pickString(overlay.DeviceKind, base.DeviceKind)
	result.ADBPath = pickString(overlay.ADBPath, base.ADBPath)
	result.DeviceDir = pickString(overlay.DeviceDir, base.DeviceDir)
	result.PhotoExtension = pickString(overlay.PhotoExtension, base.PhotoExtension)
	result.Operator = pickString(overlay.Operator, base.Operator)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)
	result.ExportsDir = pickString(overlay.ExportsDir, base.ExportsDir)

	result.TransferTimeoutSeconds = pickInt(overlay.TransferTimeoutSeconds, base.TransferTimeoutSeconds)
	result.StatusPollMillis = pickInt(overlay.StatusPollMillis, base.StatusPollMillis)
	result.ReconnectAttempts = pickInt(overlay.ReconnectAttempts, base.ReconnectAttempts)
	result.NamingMaxAttempts = pickInt(overlay.NamingMaxAttempts, base.NamingMaxAttempts)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.MinFreeBytes = overlay.MinFreeBytes
	if result.MinFreeBytes == 0 {
		result.MinFreeBytes = base.MinFreeBytes
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.TriggerShutter = base.TriggerShutter || overlay.TriggerShutter
	result.RemoveRemote = base.RemoveRemote || overlay.RemoveRemote

	// Remote dirs are an ordered search list: overlay replaces base.
	result.RemoteDirs = base.RemoteDirs
	if len(overlay.RemoteDirs) > 0 {
		result.RemoteDirs = overlay.RemoteDirs
	}

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
