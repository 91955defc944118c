package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/homereach/leadpilot/internal/api"
	"github.com/homereach/leadpilot/internal/config"
	"github.com/homereach/leadpilot/internal/control"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/monitor"
	"github.com/homereach/leadpilot/internal/pipeline"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/sequence"
	"github.com/homereach/leadpilot/internal/store"
)

func main() {
	log.Println("Starting leadpilot API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database.DSN())
	if err != nil {
		log.Printf("Failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()
	log.Println("Connected to database")

	clk := clock.System()

	mon := monitor.New(monitor.Config{
		ErrorRatePerMinute:  cfg.Alerts.ErrorRatePerMinute,
		CriticalPerHour:     cfg.Alerts.CriticalPerHour,
		BreakerTripsPerHour: cfg.Alerts.BreakerTripsPerHour,
		Cooldown:            cfg.Alerts.Cooldown(),
	}, clk, alertChannels(cfg)...)

	deduper := ingest.NewDeduper(st, clk, cfg.Dedup.Threshold)
	pipe := pipeline.New(st, deduper, nil)
	plane := control.New(clk, nil, mon, st)
	plane.SetOverrideStore(st)
	if err := plane.LoadOverrides(context.Background()); err != nil {
		log.Printf("Failed to load overrides: %v", err)
		os.Exit(1)
	}

	srv := api.NewServer(pipe, plane, mon, api.MetaCredentials{
		AppSecret:   cfg.Meta.AppSecret,
		VerifyToken: cfg.Meta.VerifyToken,
	}, clk)
	srv.SetWebhookSecret(cfg.Webhook.Secret)
	srv.SetFeedback(sequence.NewFeedbackCollector(st, clk), st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Printf("HTTP server failed: %v", err)
		os.Exit(1)
	case sig := <-quit:
		log.Printf("Received %s, shutting down...", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func alertChannels(cfg *config.Config) []monitor.Channel {
	channels := []monitor.Channel{monitor.LogChannel{}}
	if cfg.Alerts.SMTPHost != "" && len(cfg.Alerts.EmailRecipients) > 0 {
		channels = append(channels, monitor.EmailChannel{
			Host:       cfg.Alerts.SMTPHost,
			Port:       cfg.Alerts.SMTPPort,
			From:       cfg.Alerts.SMTPFrom,
			Recipients: cfg.Alerts.EmailRecipients,
		})
	}
	if cfg.Alerts.SlackWebhookURL != "" {
		channels = append(channels, monitor.SlackChannel{WebhookURL: cfg.Alerts.SlackWebhookURL})
	}
	if cfg.Alerts.WebhookURL != "" {
		channels = append(channels, monitor.WebhookChannel{URL: cfg.Alerts.WebhookURL})
	}
	return channels
}
