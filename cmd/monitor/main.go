package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tgwatch/internal/admin"
	"tgwatch/internal/bot"
	"tgwatch/internal/channels"
	"tgwatch/internal/config"
	"tgwatch/internal/message"
	"tgwatch/internal/monitor"
	"tgwatch/internal/preview"
	"tgwatch/internal/scheduler"
	"tgwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	client, err := newHTTPClient(cfg)
	if err != nil {
		log.Error("configure proxy", "error", err)
		os.Exit(1)
	}

	b, err := bot.New(cfg, store, client, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	src := channels.NewSource(cfg.ChannelsFile, store, log)
	mon := monitor.New(src, b, b, log)
	mon.SetParser(message.NewParser(cfg.PriorityDomains, cfg.AnnounceDomain))
	if cfg.PreviewEnabled {
		mon.SetPreviewer(preview.New(client, cfg.PreviewRPS))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mon.Reload(ctx); err != nil {
		log.Error("initial reload", "error", err)
		os.Exit(1)
	}

	if cfg.ChannelsFile != "" {
		go func() {
			err := channels.Watch(ctx, cfg.ChannelsFile, func() {
				if err := mon.Reload(ctx); err != nil {
					log.Error("reload after channels file change", "error", err)
				}
			}, log)
			if err != nil {
				log.Error("watch channels file", "path", cfg.ChannelsFile, "error", err)
			}
		}()
	}

	sched := scheduler.New(mon, client, mon, log)
	sched.SetTickInterval(cfg.FeedPollInterval)
	go sched.Run(ctx)

	if cfg.AdminAddr != "" {
		if cfg.AdminToken == "" {
			log.Warn("admin reload is unauthenticated, bind ADMIN_ADDR to localhost or set ADMIN_TOKEN", "addr", cfg.AdminAddr)
		}
		srv := admin.New(admin.Options{Addr: cfg.AdminAddr, Token: cfg.AdminToken}, mon, mon.Metrics().Handler(), log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("admin server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("starting monitor", "channels", mon.Channels())

	b.Run(ctx, mon)
	mon.Wait()

	log.Info("monitor stopped")
}

// newHTTPClient returns the client shared by the bot API and the fetchers.
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	proxy, err := cfg.Proxy()
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Transport: transport}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
