package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envSettingsPath  = "UPKK_CORE_SETTINGS"
	SettingsFileName = "settings.yaml"
	appDirName       = "upkk-cs2-browser"
)

// Auto-join bounds. Inputs outside these ranges are corrected by clamping
// and never rejected.
const (
	DefaultMinSlots = 4
	MinSlotsFloor   = 1
	MinSlotsCeil    = 10

	DefaultCheckIntervalSeconds = 7
	CheckIntervalFloor          = 2
	CheckIntervalCeil           = 300
)

const (
	DefaultAPIBaseURL    = "https://api.upkk.com"
	DefaultControlListen = "127.0.0.1:17717"
	DefaultClientVariant = "steam"
	defaultQueryRate     = 2.0
	defaultQueryBurst    = 4
)

// Settings is the persisted user configuration. The control API mutates it
// at runtime; everything else reads a normalized copy.
type Settings struct {
	MinSlots             int    `yaml:"min_slots"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	ClientVariant        string `yaml:"client_variant"`
	DataDir              string `yaml:"data_dir"`

	API     APISettings     `yaml:"api"`
	Bridge  BridgeSettings  `yaml:"bridge"`
	Control ControlSettings `yaml:"control"`
}

type APISettings struct {
	BaseURL string `yaml:"base_url"`
	CAFile  string `yaml:"ca_file"`
}

type BridgeSettings struct {
	Disabled   bool    `yaml:"disabled"`
	QueryRate  float64 `yaml:"query_rate"`
	QueryBurst int     `yaml:"query_burst"`
}

type ControlSettings struct {
	Listen string `yaml:"listen"`
}

// Defaults returns the settings a fresh install runs with. DataDir is left
// empty; ResolveDataDir fills it on demand so tests can redirect it.
func Defaults() Settings {
	return Settings{
		MinSlots:             DefaultMinSlots,
		CheckIntervalSeconds: DefaultCheckIntervalSeconds,
		ClientVariant:        DefaultClientVariant,
		API:                  APISettings{BaseURL: DefaultAPIBaseURL},
		Bridge:               BridgeSettings{QueryRate: defaultQueryRate, QueryBurst: defaultQueryBurst},
		Control:              ControlSettings{Listen: DefaultControlListen},
	}
}

// Normalized returns a copy with defaults applied to unset fields and all
// bounded fields clamped into range.
func (s Settings) Normalized() Settings {
	out := s
	if out.MinSlots == 0 {
		out.MinSlots = DefaultMinSlots
	}
	if out.CheckIntervalSeconds == 0 {
		out.CheckIntervalSeconds = DefaultCheckIntervalSeconds
	}
	out.MinSlots = ClampMinSlots(out.MinSlots)
	out.CheckIntervalSeconds = ClampCheckInterval(out.CheckIntervalSeconds)
	if strings.TrimSpace(out.ClientVariant) == "" {
		out.ClientVariant = DefaultClientVariant
	}
	if strings.TrimSpace(out.API.BaseURL) == "" {
		out.API.BaseURL = DefaultAPIBaseURL
	}
	if out.Bridge.QueryRate <= 0 {
		out.Bridge.QueryRate = defaultQueryRate
	}
	if out.Bridge.QueryBurst <= 0 {
		out.Bridge.QueryBurst = defaultQueryBurst
	}
	if strings.TrimSpace(out.Control.Listen) == "" {
		out.Control.Listen = DefaultControlListen
	}
	return out
}

func ClampMinSlots(n int) int {
	if n < MinSlotsFloor {
		return MinSlotsFloor
	}
	if n > MinSlotsCeil {
		return MinSlotsCeil
	}
	return n
}

func ClampCheckInterval(n int) int {
	if n < CheckIntervalFloor {
		return CheckIntervalFloor
	}
	if n > CheckIntervalCeil {
		return CheckIntervalCeil
	}
	return n
}

// ParseMinSlots ingests the free-form string the UI submits. Non-numeric
// input maps to the default before clamping.
func ParseMinSlots(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = DefaultMinSlots
	}
	return ClampMinSlots(n)
}

// ParseCheckInterval ingests the free-form string the UI submits.
// Non-numeric input maps to the default before clamping.
func ParseCheckInterval(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = DefaultCheckIntervalSeconds
	}
	return ClampCheckInterval(n)
}

// DefaultDir is the per-user configuration directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// DefaultSettingsPath honors the UPKK_CORE_SETTINGS override.
func DefaultSettingsPath() (string, error) {
	if path := os.Getenv(envSettingsPath); path != "" {
		return path, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// ResolveDataDir returns the data directory settings point at, defaulting
// to the settings file's own directory.
func (s Settings) ResolveDataDir(settingsPath string) string {
	if strings.TrimSpace(s.DataDir) != "" {
		return s.DataDir
	}
	return filepath.Dir(settingsPath)
}

// Load reads and normalizes a settings file.
func Load(ctx context.Context, path string) (Settings, error) {
	var s Settings

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return s, fmt.Errorf("open settings %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return s, fmt.Errorf("read settings %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %q: %w", path, err)
	}

	return s.Normalized(), nil
}

// LoadOrDefault reads a settings file, treating a missing file as a fresh
// install rather than an error.
func LoadOrDefault(ctx context.Context, path string) (Settings, error) {
	s, err := Load(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return s, err
}

// Save persists settings atomically.
func Save(ctx context.Context, path string, s Settings) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("ensure settings dir %q: %w", dir, err)
		}
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp settings %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit settings %q: %w", path, err)
	}

	return nil
}
