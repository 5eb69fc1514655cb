package main

import (
	"context"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/traderlab/papertrade/internal/config"
	"github.com/traderlab/papertrade/internal/engine"
	"github.com/traderlab/papertrade/internal/fill"
	"github.com/traderlab/papertrade/internal/observ"
	"github.com/traderlab/papertrade/internal/quotes"
	"github.com/traderlab/papertrade/internal/server"
	"github.com/traderlab/papertrade/internal/tradelog"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to yaml config (defaults apply when empty)")
		envPath    = flag.String("env", ".env", "dotenv file with vendor API keys")
	)
	flag.Parse()

	// vendor keys come from the environment, never from the config file
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		observ.Log("dotenv_load_failed", map[string]any{"path": *envPath, "error": err.Error()})
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			observ.Log("config_load_failed", map[string]any{"path": *configPath, "error": err.Error()})
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := buildRegistry(ctx, cfg)
	defer registry.Close()

	if err := registry.SetActive(cfg.Sources.Active); err != nil {
		observ.Log("active_source_invalid", map[string]any{
			"source": cfg.Sources.Active,
			"error":  err.Error(),
		})
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.TradeLogPath), 0o755); err != nil {
		observ.Log("data_dir_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	store, err := tradelog.Open(cfg.TradeLogPath)
	if err != nil {
		observ.Log("trade_log_open_failed", map[string]any{"path": cfg.TradeLogPath, "error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	eng, err := engine.New(ctx, engine.Options{
		InitialCash:       cfg.InitialCash,
		Registry:          registry,
		Store:             store,
		RiskConfig:        cfg.Risk,
		Slippage:          buildSlippage(cfg.Slippage),
		AlertRetention:    cfg.AlertRetention,
		PostCheckInterval: time.Duration(cfg.PostCheckIntervalSec) * time.Second,
	})
	if err != nil {
		observ.Log("engine_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			observ.Log("post_check_loop_stopped", map[string]any{"error": err.Error()})
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(eng).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	observ.Log("engine_listening", map[string]any{
		"addr":          cfg.Server.Addr,
		"active_source": cfg.Sources.Active,
		"initial_cash":  cfg.InitialCash,
	})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		observ.Log("server_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func buildRegistry(ctx context.Context, cfg config.Root) *quotes.Registry {
	registry := quotes.NewRegistry(
		quotes.WithFetchTimeout(time.Duration(cfg.Sources.FetchTimeoutSeconds) * time.Second),
	)

	if cfg.Sources.SimEnabled {
		var rng *rand.Rand
		if cfg.Sources.SimSeed != 0 {
			rng = rand.New(rand.NewSource(cfg.Sources.SimSeed))
		}
		registry.Register(quotes.NewSimSource(rng), 0)
	}

	for _, hc := range cfg.Sources.HTTP {
		feed, err := quotes.NewHTTPFeed(quotes.HTTPFeedConfig{
			ID:                 hc.ID,
			Label:              hc.Label,
			Vendor:             hc.Vendor,
			BaseURL:            hc.BaseURL,
			APIKey:             os.Getenv(hc.APIKeyEnv),
			RateLimitPerMinute: hc.RateLimitPerMinute,
			DailyCap:           hc.DailyCap,
			TimeoutSeconds:     hc.TimeoutSeconds,
		})
		if err != nil {
			observ.Log("http_source_skipped", map[string]any{"id": hc.ID, "error": err.Error()})
			continue
		}
		registry.Register(feed, hc.RatePerSec)
	}

	for _, wc := range cfg.Sources.WS {
		feed := quotes.NewWSFeed(quotes.WSFeedConfig{
			ID:           wc.ID,
			Label:        wc.Label,
			Vendor:       wc.Vendor,
			URL:          wc.URL,
			MaxStaleness: time.Duration(wc.MaxStalenessSeconds) * time.Second,
		})
		registry.Register(feed, wc.RatePerSec)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				observ.Log("ws_feed_stopped", map[string]any{"id": feed.ID(), "error": err.Error()})
			}
		}()
	}

	return registry
}

func buildSlippage(cfg config.Slippage) fill.SlippageModel {
	if cfg.Mode == "random" {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return fill.RandomSlippage(cfg.MinBps, cfg.MaxBps, rand.New(rand.NewSource(seed)))
	}
	return fill.FixedSlippage(cfg.FixedBps)
}
