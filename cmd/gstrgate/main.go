package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gstrgate/gstrgate/internal/account"
	"github.com/gstrgate/gstrgate/internal/api"
	"github.com/gstrgate/gstrgate/internal/browser"
	"github.com/gstrgate/gstrgate/internal/config"
	"github.com/gstrgate/gstrgate/internal/consolidate"
	"github.com/gstrgate/gstrgate/internal/driver"
	"github.com/gstrgate/gstrgate/internal/events"
	"github.com/gstrgate/gstrgate/internal/orchestrator"
	"github.com/gstrgate/gstrgate/internal/portal"
	"github.com/gstrgate/gstrgate/internal/webhook"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	accounts, err := account.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		slog.Error("account store", "error", err)
		os.Exit(1)
	}
	defer accounts.Close()

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			slog.Error("nats", "error", err)
			os.Exit(1)
		}
		publisher = np
		slog.Info("publishing job events", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}
	defer publisher.Close()

	popts := portal.DefaultOptions()
	popts.URL = cfg.PortalURL
	popts.DownloadTimeout = cfg.DownloadTimeout

	o := orchestrator.New(orchestrator.Options{
		Concurrency:     cfg.Concurrency,
		QueueSize:       cfg.QueueSize,
		CaptchaTimeout:  cfg.CaptchaTimeout,
		LoginTimeout:    cfg.LoginTimeout,
		JobTTL:          time.Duration(cfg.JobTTLHours) * time.Hour,
		CleanupInterval: time.Duration(cfg.CleanupIntervalMinutes) * time.Minute,
		DownloadRoot:    cfg.DownloadRoot,
	}, orchestrator.Deps{
		Launcher: &browser.Launcher{
			Headless:       cfg.Headless,
			ExecutablePath: cfg.BrowserPath,
		},
		Portal: func(s driver.Session) orchestrator.Portal {
			return portal.New(s, popts)
		},
		Packager:  consolidate.Packager{},
		Publisher: publisher,
		Notifier:  webhook.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	o.StartCleanup(ctx)

	mux := http.NewServeMux()
	h := api.NewHandler(o, accounts)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.Auth(cfg.APIKeys),
		api.RateLimit(cfg.RateLimitRPS),
	)

	// No WriteTimeout: artifact downloads and SSE streams outlive any fixed bound.
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("gstrgate listening", "addr", cfg.ListenAddr, "concurrency", cfg.Concurrency)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	// Workers release their browser sessions before returning.
	o.Wait()
}
