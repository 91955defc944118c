package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/homereach/leadpilot/internal/analytics"
	"github.com/homereach/leadpilot/internal/collab"
	"github.com/homereach/leadpilot/internal/config"
	"github.com/homereach/leadpilot/internal/control"
	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/monitor"
	"github.com/homereach/leadpilot/internal/optimizer"
	"github.com/homereach/leadpilot/internal/pipeline"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/pkg/distlock"
	"github.com/homereach/leadpilot/internal/sender"
	"github.com/homereach/leadpilot/internal/sequence"
	"github.com/homereach/leadpilot/internal/store"
)

func main() {
	log.Println("Starting leadpilot worker...")

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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unavailable, falling back to PG advisory locks: %v", err)
			redisClient = nil
		}
		pingCancel()
	}

	mon := monitor.New(monitor.Config{
		ErrorRatePerMinute:  cfg.Alerts.ErrorRatePerMinute,
		CriticalPerHour:     cfg.Alerts.CriticalPerHour,
		BreakerTripsPerHour: cfg.Alerts.BreakerTripsPerHour,
		Cooldown:            cfg.Alerts.Cooldown(),
	}, clk, monitor.LogChannel{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
			log.Printf("%s stopped", name)
		}()
	}

	run("monitor", mon.Run)

	// Ingestion pollers
	if cfg.Polling.Enabled {
		deduper := ingest.NewDeduper(st, clk, cfg.Dedup.Threshold)
		pipe := pipeline.New(st, deduper, nil)

		if cfg.Gmail.Enabled {
			src := pipeline.NewGmailSource(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RefreshToken, cfg.Gmail.Labels)
			poller := pipeline.NewPoller(src, pipe, st, mon.Breaker("gmail.poll"), clk,
				cfg.Polling.Interval(), cfg.Polling.FirstRunLookback())
			run("gmail poller", poller.Run)
		}
		if cfg.Meta.Enabled {
			src := pipeline.NewMetaSource(cfg.Meta.AccessToken, cfg.Meta.PageID)
			poller := pipeline.NewPoller(src, pipe, st, mon.Breaker("meta.poll"), clk,
				cfg.Polling.Interval(), cfg.Polling.FirstRunLookback())
			run("meta poller", poller.Run)
		}
		if cfg.ListingFeeds.Enabled {
			src := pipeline.NewFeedSource(cfg.ListingFeeds.URLs)
			poller := pipeline.NewPoller(src, pipe, st, mon.Breaker("feeds.poll"), clk,
				cfg.Polling.Interval(), cfg.Polling.FirstRunLookback())
			run("feed poller", poller.Run)
		}
	}

	// Sequence scheduler
	if cfg.Sequences.Enabled {
		mux := sender.New(sender.SMTPConfig{
			Host: cfg.Alerts.SMTPHost,
			Port: cfg.Alerts.SMTPPort,
			From: cfg.Alerts.SMTPFrom,
		}, sender.GatewayConfig{
			URL:    os.Getenv("MESSAGE_GATEWAY_URL"),
			APIKey: os.Getenv("MESSAGE_GATEWAY_API_KEY"),
		}, nil)

		locks := func(key string) distlock.DistLock {
			return distlock.NewLock(redisClient, st.DB(), key, cfg.Sequences.LockTTL())
		}
		sched := sequence.NewScheduler(st, mux, sequence.NewPersonalizer("HomeReach"), clk, locks,
			cfg.Sequences.TickInterval(), cfg.Sequences.BatchSize)
		run("sequence scheduler", sched.Run)
		run("feedback collector", sequence.NewFeedbackCollector(st, clk).Run)
	}

	// Optimization loop
	if cfg.Optimization.Enabled {
		eng := analytics.NewEngine(st, clk)
		loop := optimizer.NewLoop(st, eng,
			collab.NewRoutingClient(os.Getenv("ROUTING_AGENT_URL"), nil),
			collab.NewScriptClient(os.Getenv("SCRIPT_MANAGER_URL"), nil),
			collab.NewPlannerClient(os.Getenv("SCHEDULE_PLANNER_URL"), nil),
			mon, clk, optimizer.Config{
				CycleInterval:     cfg.Optimization.CycleInterval(),
				TestingDays:       cfg.Optimization.TestingDaysDefault,
				MinImprovementPct: cfg.Optimization.MinImprovementPct,
			})
		// Operator overrides are applied in the API process and read
		// back here through the store.
		loop.SetGate(control.NewStoreGate(st, clk, 30*time.Second))
		if err := loop.Restore(ctx); err != nil {
			if errors.Is(err, domain.ErrIntegrity) {
				log.Printf("State corruption detected at load: %v", err)
				os.Exit(2)
			}
			log.Printf("Restore failed (continuing with empty active set): %v", err)
		}
		run("optimization loop", loop.Run)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	wg.Wait()
	log.Println("Worker stopped")
}
