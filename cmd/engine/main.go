package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"strikebot-go/internal/bridge"
	"strikebot-go/internal/config"
	"strikebot-go/internal/engine"
	"strikebot-go/internal/feed"
	"strikebot-go/internal/metrics"
	"strikebot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := util.NewLogger("info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ticks := feed.NewFeed(
		cfg.Feed.Provider, cfg.Feed.Symbols,
		util.ComponentLogger(log, "feed"),
		feed.WithRedis(cfg.Feed.RedisAddr, cfg.Feed.RedisPassword, cfg.Feed.RedisDB, cfg.Feed.TickChannel),
	)

	link := bridge.NewClient(cfg.Bridge.URL, util.ComponentLogger(log, "bridge"))
	go func() {
		if err := link.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("bridge link stopped")
			cancel()
		}
	}()

	eng := engine.New(cfg, ticks, link, nil, log)

	// Manual-tier alerts land here. This binary only logs them; an operator
	// frontend would call eng.Approve.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case alert := <-eng.Alerts():
				log.Info().
					Str("id", alert.Signal.ID).
					Str("sym", alert.Signal.Match.Symbol).
					Str("class", string(alert.Signal.Class)).
					Float64("score", alert.Signal.FinalScore).
					Float64("lot", alert.Decision.AdjustedLotSize).
					Msg("signal awaiting manual approval")
			}
		}
	}()

	log.Info().Str("env", cfg.App.Env).Str("tier", cfg.Risk.AccountTier).Msg("strike engine started")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutting down")
}
