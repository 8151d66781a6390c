package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockedby/channel-relay/internal/api"
	"github.com/blockedby/channel-relay/internal/cloudlink"
	"github.com/blockedby/channel-relay/internal/config"
	"github.com/blockedby/channel-relay/internal/downloader"
	"github.com/blockedby/channel-relay/internal/files"
	"github.com/blockedby/channel-relay/internal/logger"
	"github.com/blockedby/channel-relay/internal/metrics"
	"github.com/blockedby/channel-relay/internal/pull"
	"github.com/blockedby/channel-relay/internal/relay"
	"github.com/blockedby/channel-relay/internal/remote"
	"github.com/blockedby/channel-relay/internal/sink"
	"github.com/blockedby/channel-relay/internal/state"
	"github.com/blockedby/channel-relay/internal/telegram"
)

func main() {
	limit := flag.Int("limit", 10, "max messages per channel per cycle")
	every := flag.Duration("every", 0, "poll interval, 0 runs a single cycle")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Str("mode", cfg.PullMode).Msg("starting channel relay")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Load channel set
	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load channel list")
	}
	if len(channels) == 0 {
		log.Fatal().Msg("channel list is empty")
	}

	// 5. Shared infrastructure
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := state.NewStore(cfg.StateFile, log.Logger)
	fm := files.NewManager(cfg.DownloadDir, log.Logger)
	deliver := sink.NewLog(log.Logger)

	// 6. Select pull strategy
	var puller pull.Puller
	switch cfg.PullMode {
	case "remote":
		agg := remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout, log.Logger)
		puller = pull.NewRemote(agg, store, deliver, fm, m, pull.RemoteConfig{
			SharedRoot: cfg.RemoteRoot,
			MirrorFile: cfg.MirrorFile,
		}, log.Logger)

	default:
		tg, err := telegram.NewClient(cfg.BotToken, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create source platform client")
		}

		var cloud downloader.CloudResolver
		if cfg.CloudEnabled {
			cloud = cloudlink.New(cfg.CloudBaseURL, cfg.CloudToken, cfg.CloudTimeout,
				cfg.CloudMaxBatch, cfg.HealthInterval, log.Logger)
		}
		dl := downloader.New(cloud, tg, fm, m, downloader.Config{
			CloudEnabled:  cfg.CloudEnabled,
			CloudMaxSize:  cfg.CloudMaxSize,
			MaxFileSize:   cfg.MaxFileSize,
			Concurrency:   cfg.Concurrency,
			FallbackLocal: cfg.FallbackLocal,
		}, log.Logger)

		puller = pull.NewLocal(tg, store, deliver, dl, fm, m, pull.LocalConfig{
			RetentionDays: cfg.RetentionDays,
			MirrorFile:    cfg.MirrorFile,
		}, log.Logger)
	}

	var lock *state.Lock
	if cfg.UseLock {
		lock = state.NewLock(cfg.StateFile)
	}
	svc := relay.NewService(puller, cfg.PullMode, lock, m, log.Logger)

	// 7. Operational HTTP surface
	go func() {
		if err := api.Serve(ctx, cfg.HTTPPort, api.NewRouter(reg), log.Logger); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	// 8. Run pull cycles
	runCycle := func() {
		for _, s := range svc.PullAll(ctx, channels, *limit) {
			if s.Err != nil {
				log.Error().Str("channel", s.Channel).Msg(s.Text)
				continue
			}
			log.Info().Str("channel", s.Channel).Msg(s.Text)
		}
	}

	runCycle()
	if *every <= 0 {
		log.Info().Msg("single cycle completed")
		return
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case <-ticker.C:
			runCycle()
		}
	}
}
