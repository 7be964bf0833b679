package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"

	UITerminal = "tui"
	UITray     = "tray"
)

type Config struct {
	Hotkey       string      `json:"hotkey"`
	HotkeyDarwin string      `json:"hotkey_darwin"`
	Mode         string      `json:"mode"` // "PushToTalk" or "Toggle"
	UI           string      `json:"ui"`   // "tui" or "tray"
	LogLevel     string      `json:"log_level"`
	MaxLogFiles  int         `json:"max_log_files"`
	MetricsAddr  string      `json:"metrics_addr"` // empty disables /metrics
	Audio        AudioConfig `json:"audio"`

	path string
	// file holds the values read from path. Command-line overrides land on
	// the Config itself and never reach it.
	file *Config
}

type AudioConfig struct {
	Backend        string `json:"backend"`       // "malgo", "portaudio" or "null"; empty picks the first available
	InputDevice    string `json:"input_device"`  // device name; empty selects the default
	OutputDevice   string `json:"output_device"` // device name; empty selects the default
	Slots          int    `json:"slots"`
	SlotCapacity   int    `json:"slot_capacity"` // bytes reserved per slot
	ChunkSize      int    `json:"chunk_size"`    // bytes per capture read
	PlaybackLeadMs int    `json:"playback_lead_ms"`
	FrameRate      int    `json:"frame_rate"` // host ticks per second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hotkey:       "Alt+R",
		HotkeyDarwin: "Ctrl+R",
		Mode:         ModeToggle,
		UI:           UITerminal,
		LogLevel:     "info",
		MaxLogFiles:  3,
		Audio: AudioConfig{
			Slots:          10,
			SlotCapacity:   4 << 20,
			ChunkSize:      1024,
			PlaybackLeadMs: 100,
			FrameRate:      60,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path over the defaults. A missing file is
// not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	file := *cfg
	cfg.file = &file
	return cfg, nil
}

// Validate rejects values the looper cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePushToTalk, ModeToggle:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.UI {
	case UITerminal, UITray:
	default:
		return fmt.Errorf("unknown ui %q", c.UI)
	}
	if c.Audio.Slots < 0 {
		return fmt.Errorf("negative slot count %d", c.Audio.Slots)
	}
	if c.Audio.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %d", c.Audio.FrameRate)
	}
	return nil
}

// Path returns the file the config was loaded from, empty for configs built
// in code.
func (c *Config) Path() string {
	return c.path
}

// Update applies fn to the running config and to the values loaded from
// disk, then writes only the latter back. Configs built in code have no file
// and are only updated in memory.
func (c *Config) Update(fn func(*Config)) error {
	fn(c)
	if c.path == "" || c.file == nil {
		return nil
	}
	fn(c.file)
	return c.file.save(c.path)
}

func (c *Config) save(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "audio-looper", "config.json")
}
