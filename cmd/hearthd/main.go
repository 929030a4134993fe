package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hearth/internal/app"
	"hearth/pkg/banner"
	"hearth/pkg/config"
	"hearth/pkg/logger"
	"hearth/pkg/realtime"
	"hearth/pkg/retention"
	"hearth/pkg/shutdown"
	"hearth/pkg/store"
	"hearth/pkg/transport"
)

// build metadata - set via ldflags during release
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	cfgPath := flag.String("config", "", "path to a YAML config file")
	cachePath := flag.String("cache", "", "pebble cache path (empty = in-memory)")
	apiURL := flag.String("api", "", "base URL of the backing API")
	flag.Parse()

	cfg, sources, err := config.Load(*cfgPath)
	if err != nil {
		logger.Init()
		shutdown.Abort("load config", err)
	}
	// Flags win over file and env.
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}
	if *apiURL != "" {
		cfg.API.BaseURL = *apiURL
	}
	logger.InitWithLevel(cfg.Logging.Level)

	ctx, stop := shutdown.Notify(context.Background())
	defer stop()

	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		shutdown.Abort("open cache", err)
	}
	defer st.Close()

	var opts []transport.Option
	if cfg.API.Backend == "fasthttp" {
		opts = append(opts, transport.WithDoer(transport.NewFastDoer()))
	}
	if cfg.API.ReadRetries > 0 {
		opts = append(opts, transport.WithReadRetries(cfg.API.ReadRetries))
	}
	api := transport.NewClient(cfg.API.BaseURL, opts...)
	if cfg.API.Token != "" {
		api.SetToken(cfg.API.Token)
	}

	client := app.New(st, api)

	pushAttached := false
	switch cfg.Push.Source {
	case "redis":
		client.SetSource(realtime.NewRedisSource(ctx, cfg.Push.Redis.Addr, cfg.Push.Redis.ChannelPrefix))
		pushAttached = true
	case "websocket":
		if cfg.Push.URL != "" {
			client.SetSource(realtime.NewWebsocketSource(ctx, cfg.Push.URL, cfg.API.Token))
			pushAttached = true
		} else {
			logger.Warn("push_disabled_no_url")
		}
	}
	if pushAttached {
		if err := client.StartPush(ctx); err != nil {
			shutdown.Abort("start push", err)
		}
	}

	sweeper := retention.NewSweeper(st, retention.Config{
		Enabled:   cfg.Retention.Enabled,
		Cron:      cfg.Retention.Cron,
		Period:    cfg.Retention.Period.Duration(),
		BatchSize: cfg.Retention.BatchSize,
		DryRun:    cfg.Retention.DryRun,
	})
	stopSweep, err := sweeper.Start(ctx)
	if err != nil {
		shutdown.Abort("start retention", err)
	}
	defer stopSweep()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.Tracker().All())
	})

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin_listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin_server_failed", "error", err)
		}
	}()

	banner.Print(cfg.API.BaseURL, cfg.Push.Source, cfg.Cache.Path, cfg.Metrics.Addr, sources, version)

	<-ctx.Done()
	logger.Info("shutting_down")
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
}
