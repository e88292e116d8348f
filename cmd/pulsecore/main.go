package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/pulsecore/internal/config"
	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/events"
	"codeberg.org/mutker/pulsecore/internal/gpu"
	"codeberg.org/mutker/pulsecore/internal/hardware"
	"codeberg.org/mutker/pulsecore/internal/history"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/pid"
	"codeberg.org/mutker/pulsecore/internal/probe"
	"codeberg.org/mutker/pulsecore/internal/scheduler"
	"codeberg.org/mutker/pulsecore/internal/server"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Str("config_file", cfg.ConfigFile()).Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.PIDDir); err != nil {
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	cancel()

	if err := pid.Remove(cfg.PIDDir); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}

	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("Exiting with error")
		} else {
			logger.Error().Err(err).Msg("Exiting with error")
		}
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	errFactory := errors.New()
	log := logger.Default()

	store, err := history.Open(history.DefaultConfig(cfg.DBPath), log)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close history store")
		}
	}()

	prefs := settings.NewService(store, log)
	if err := prefs.Load(ctx); err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	if cfg.LowPower {
		prefs.SetMode(settings.ModeLowPower)
	}

	// A missing NVIDIA driver only removes the GPU fields from snapshots
	var gpuReader telemetry.GPUReader
	gpuName := ""
	if reader, err := gpu.Open(log); err != nil {
		log.Warn().Err(err).Msg("GPU metrics unavailable")
	} else {
		defer func() {
			if err := reader.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to shut down NVML")
			}
		}()
		gpuReader = reader
		gpuName = reader.Name()
	}

	info := hardware.NewCollector(log).Collect(ctx, gpuName)

	hub := events.NewHub(log)

	sched := scheduler.New(scheduler.Deps{
		Sampler:   telemetry.NewSampler(telemetry.NewHostSource(), gpuReader, log),
		Publisher: hub,
		Pruner:    store,
		Settings:  prefs,
		Log:       log,
	}, scheduler.Config{
		PruneEvery:     cfg.PruneEvery,
		RecentCapacity: cfg.RecentCapacity,
	})

	srv := server.New(server.Deps{
		Settings:  prefs,
		History:   store,
		Pinger:    probe.New(probe.NewExecRunner(), cfg.ProbeTimeout, log),
		Recent:    sched,
		Hardware:  info,
		Events:    hub.ServeWS,
		ExportDir: cfg.ExportDir,
		Log:       log,
	})

	g, gCtx := errgroup.WithContext(ctx)

	cfg.Watch(gCtx, func(next *config.Config) {
		logger.SetLogLevel(logger.ParseLevel(next.LogLevel))
		log.Info().Str("log_level", next.LogLevel).Msg("Config reloaded")
	}, func(err error) {
		log.Warn().Err(err).Msg("Ignoring invalid config reload")
	})

	g.Go(func() error {
		return hub.Run(gCtx)
	})

	g.Go(func() error {
		return sched.Run(gCtx)
	})

	g.Go(func() error {
		return srv.Run(gCtx, cfg.Listen)
	})

	// Every goroutine is done before the deferred store and GPU closes run
	if err := g.Wait(); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}
