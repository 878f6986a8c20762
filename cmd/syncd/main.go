package main

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/draftsync/internal/config"
	"github.com/draftsync/internal/db"
	"github.com/draftsync/internal/events"
	"github.com/draftsync/internal/media"
	"github.com/draftsync/internal/remote"
	"github.com/draftsync/internal/router"
	"github.com/draftsync/internal/service"
	"github.com/draftsync/internal/syncer"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("loading configuration")
	}

	log := newLogger(cfg.LogLevel)

	gdb, err := db.Init(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing content store")
	}

	bus := events.NewBus(log.With().Str("component", "events").Logger())
	tracker := media.NewTracker(gdb, log.With().Str("component", "tracker").Logger())
	resolver := media.NewResolver(tracker)
	revisions := service.NewRevisionService(gdb)
	client := remote.NewClient(cfg.APIBaseURL, cfg.APIToken, log.With().Str("component", "remote").Logger())

	coordinator := syncer.NewCoordinator(syncer.Options{
		Revisions:     revisions,
		Resolver:      resolver,
		Tracker:       tracker,
		Client:        client,
		Bus:           bus,
		Logger:        log.With().Str("component", "syncer").Logger(),
		RetryInterval: cfg.RetryInterval,
	})
	coordinator.Start()
	defer coordinator.Close()

	monitor := syncer.NewMonitor(cfg.APIBaseURL, nil, cfg.ProbeInterval, log.With().Str("component", "reachability").Logger())
	restored, cancelRestored := monitor.Subscribe()
	defer cancelRestored()
	go monitor.Run(ctx)
	go func() {
		for range restored {
			coordinator.OnReachabilityRestored()
		}
	}()

	// Pick up revisions persisted before the last shutdown.
	if err := coordinator.ScheduleSync(); err != nil {
		log.Error().Err(err).Msg("recovering pending revisions")
	}

	r := router.Setup(router.Deps{
		Revisions:      revisions,
		Coordinator:    coordinator,
		Tracker:        tracker,
		AdminTokenHash: cfg.AdminTokenHash,
	})

	log.Info().Str("addr", cfg.ListenAddr).Msg("sync daemon listening")
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("running server")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
