package main

import (
	"fmt"
	"slices"

	"github.com/jessevdk/go-flags"

	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/config"
)

type options struct {
	Config      string `short:"c" long:"config" description:"Path to the config file" value-name:"FILE"`
	UI          string `long:"ui" description:"Front end to run" choice:"tui" choice:"tray"`
	Backend     string `short:"b" long:"backend" description:"Audio backend (malgo, portaudio or null)"`
	Input       string `long:"input" description:"Name of the input device to open" value-name:"NAME"`
	Output      string `long:"output" description:"Name of the output device to open" value-name:"NAME"`
	LogLevel    string `long:"loglevel" description:"Log level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	Metrics     string `long:"metrics" description:"Expose prometheus metrics on this address" value-name:"ADDR"`
	ListDevices bool   `short:"l" long:"list-devices" description:"Print the audio devices and exit"`
	Version     bool   `short:"V" long:"version" description:"Print the version and exit"`
}

// parseOptions parses args. done is true when the parser already printed the
// help text.
func parseOptions(args []string) (opts options, done bool, err error) {
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "audio-looper"
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return opts, true, nil
		}
		return opts, false, err
	}
	return opts, false, nil
}

// loadConfig reads the config file named by the options and applies the
// command line overrides on top of it.
func loadConfig(opts options) (*config.Config, error) {
	path := opts.Config
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	if opts.UI != "" {
		cfg.UI = opts.UI
	}
	if opts.Backend != "" {
		cfg.Audio.Backend = opts.Backend
	}
	if opts.Input != "" {
		cfg.Audio.InputDevice = opts.Input
	}
	if opts.Output != "" {
		cfg.Audio.OutputDevice = opts.Output
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Metrics != "" {
		cfg.MetricsAddr = opts.Metrics
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}

// preferredBackends is the order tried when no backend is configured.
var preferredBackends = []string{"malgo", "portaudio"}

// backendName returns the configured backend, or the first preferred one
// that was compiled in, falling back to the null backend.
func backendName(configured string, available []string) string {
	if configured != "" {
		return configured
	}
	for _, name := range preferredBackends {
		if slices.Contains(available, name) {
			return name
		}
	}
	return audio.NullBackendName
}
