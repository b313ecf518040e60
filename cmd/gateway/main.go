package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/snagbook/snag/internal/booking"
	"github.com/snagbook/snag/internal/config"
	"github.com/snagbook/snag/internal/gateway"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/supabase"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to gateway config file")
		envFile    = flag.String("env", "", "Optional .env file with Supabase keys")
		realtime   = flag.Bool("realtime", false, "Subscribe to appointment changes over realtime")
		sweepSpec  = flag.String("sweep", "", "Cron spec for the appointment sweeper (empty = nightly)")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("gateway", logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	client, err := supabase.NewResilient(supabase.ResilientConfig{
		Config: supabase.Config{
			URL:        cfg.Supabase.URL,
			AnonKey:    cfg.Supabase.AnonKey,
			ServiceKey: cfg.Supabase.ServiceKey,
		},
		RetryConfig:          supabase.DefaultRetryConfig(),
		CircuitBreakerConfig: supabase.DefaultCircuitBreakerConfig(),
	})
	if err != nil {
		logger.WithError(err).Fatal("create backend client")
	}

	profiles := booking.NewProfileRepository(client)
	businesses := booking.NewBusinessRepository(client)
	catalog := booking.NewServiceRepository(client)
	appointments := booking.NewAppointmentRepository(client)

	notifier := booking.NewLogNotifier(logging.New("notify", logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}))
	bookingSvc := booking.NewService(profiles, businesses, catalog, appointments, notifier, logger)

	sweeper := booking.NewSweeper(appointments, logger)
	if err := sweeper.Start(*sweepSpec); err != nil {
		logger.WithError(err).Fatal("start sweeper")
	}
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *realtime {
		watcher := gateway.NewWatcher(
			supabase.NewRealtimeClient(cfg.Supabase.URL, cfg.Supabase.AnonKey),
			notifier,
			logger,
		)
		if err := watcher.Start(ctx); err != nil {
			// Realtime is an enhancement; the gateway works without it.
			logger.WithError(err).Warn("realtime subscription unavailable")
		} else {
			defer watcher.Stop(context.Background())
		}
	}

	server := gateway.NewServer(gateway.Deps{
		Config:       cfg,
		Logger:       logger,
		Auth:         client.Auth(),
		Profiles:     profiles,
		Businesses:   businesses,
		Catalog:      catalog,
		Appointments: bookingSvc,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
	}
}
