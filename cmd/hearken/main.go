// Command hearken runs the hands-free voice assistant: it waits for the wake
// phrase, listens to one utterance, answers out loud, and goes back to
// waiting.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch", 5*time.Second, "config reload polling interval; 0 disables reloading")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearken: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearken: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	logger := newLogger(level, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("hearken starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watchInterval > 0 {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig,
			config.WithInterval(*watchInterval),
			config.WithLogger(logger),
		)
		if err != nil {
			slog.Warn("config reloading disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w.Reload)
		}
	}

	// ── Manual trigger ────────────────────────────────────────────────────────
	if cfg.Wake.ManualTrigger {
		go triggerOnEnter(ctx, os.Stdin, application.Trigger)
		slog.Info("manual trigger enabled, press Enter to talk")
	}

	slog.Info("ready, say the wake phrase or press Ctrl+C to shut down", "phrases", cfg.Wake.Phrases)

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// triggerOnEnter calls trigger for every line read from r until ctx ends or
// r is exhausted.
func triggerOnEnter(ctx context.Context, r io.Reader, trigger func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("manual trigger")
		trigger()
	}
}

// reloadOnHangup calls reload on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, reload func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			slog.Info("SIGHUP received, reloading configuration")
			reload()
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Hearken: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Wake word", cfg.Providers.WakeWord.Name, cfg.Providers.WakeWord.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Capture         : %-19s ║\n", fmt.Sprintf("%d Hz / %d ms", cfg.Audio.SampleRate, cfg.Audio.FrameMs))
	if cfg.Wake.ManualTrigger {
		fmt.Printf("║  Manual trigger  : %-19s ║\n", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the stderr text logger. Its level follows lv, which the
// config watcher updates on reload.
func newLogger(lv *slog.LevelVar, level config.LogLevel) *slog.Logger {
	lv.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
