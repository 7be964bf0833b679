package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/app"
	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/catalog"
	"github.com/petems/audio-looper/internal/config"
	"github.com/petems/audio-looper/internal/hotkey"
	"github.com/petems/audio-looper/internal/logging"
	"github.com/petems/audio-looper/internal/metrics"
	"github.com/petems/audio-looper/internal/permissions"
	"github.com/petems/audio-looper/internal/samples"
	"github.com/petems/audio-looper/internal/session"
	"github.com/petems/audio-looper/internal/tray"
	"github.com/petems/audio-looper/internal/tui"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	opts, done, err := parseOptions(os.Args[1:])
	if done {
		return
	}
	if err != nil {
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("audio-looper %s (%s)\n", Version, Commit)
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if opts.ListDevices {
		if err := listDevices(os.Stdout, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// The terminal UI owns the console, so only the tray logs to it.
	logBackend, err := logging.Setup(logging.Options{
		Level:       cfg.LogLevel,
		MaxLogFiles: cfg.MaxLogFiles,
		Console:     cfg.UI == config.UITray,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logBackend.Close()
	log := logBackend.Logger

	log.Info().Str("version", Version).Str("commit", Commit).
		Str("config", cfg.Path()).Msg("Audio looper starting")

	// macOS asks for microphone and accessibility approval. Without them the
	// looper still runs, just without capture or the global hotkey.
	if err := permissions.EnsurePermissions(log); err != nil {
		log.Warn().Err(err).Msg("Permissions not granted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	backend, err := audio.New(backendName(cfg.Audio.Backend, audio.Names()), log)
	if err != nil {
		return err
	}
	defer backend.Close()
	log.Info().Str("backend", backend.Name()).Msg("Audio backend ready")

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	cat := catalog.New(backend, log)
	store := samples.New(cfg.Audio.SlotCapacity)
	sess := session.New(session.Config{
		Backend:      backend,
		Catalog:      cat,
		Store:        store,
		Logger:       log,
		Metrics:      m,
		ChunkSize:    cfg.Audio.ChunkSize,
		PlaybackLead: time.Duration(cfg.Audio.PlaybackLeadMs) * time.Millisecond,
	})

	// The tray becomes the app's status updater once its menu is ready.
	application := app.New(app.Config{
		Session: sess,
		Store:   store,
		Catalog: cat,
		Config:  cfg,
		Logger:  log,
		Metrics: m,
	})
	application.Start()

	// Register global hotkey
	hkManager, err := hotkey.New()
	switch {
	case errors.Is(err, hotkey.ErrUnsupported):
		log.Warn().Msg("Global hotkey not supported on this platform")
	case err != nil:
		log.Error().Err(err).Msg("Failed to initialize hotkeys")
	default:
		defer hkManager.Close()
		if err := hkManager.Register(cfg.PlatformHotkey(), application.OnHotkey); err != nil {
			log.Error().Err(err).Str("hotkey", cfg.PlatformHotkey()).Msg("Failed to register hotkey")
		}
	}

	var runErr error
	if cfg.UI == config.UITray {
		// Start tray UI - MUST run on main thread
		runErr = tray.New(application, cfg, log, Version, Commit).Run(ctx)
	} else {
		runErr = tui.Run(ctx, application, cfg.Audio.FrameRate, logBackend.Lines, log)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	return runErr
}

// listDevices prints every device of the configured backend.
func listDevices(w io.Writer, cfg *config.Config) error {
	backend, err := audio.New(backendName(cfg.Audio.Backend, audio.Names()), zerolog.Nop())
	if err != nil {
		return err
	}
	defer backend.Close()

	cat := catalog.New(backend, zerolog.Nop())
	printDevices(w, backend.Name(), cat)
	return nil
}

func printDevices(w io.Writer, name string, cat *catalog.Catalog) {
	fmt.Fprintf(w, "Backend: %s\n", name)
	for _, dir := range []audio.Direction{audio.Input, audio.Output} {
		devs := cat.Enumerate(dir)
		fmt.Fprintf(w, "\n%s devices (%d):\n", dir, len(devs))
		for i, d := range devs {
			mark := " "
			if d.Default {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %2d  %-32s %s  buffer %s frames\n", mark, i, d.Name,
				d.Format, humanize.Comma(int64(d.BufferFrames)))
		}
	}
}
