package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/config"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/db"
	orderHttp "github.com/vasiliy-maslov/ecommerce-orders/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/handler/rpc"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/messaging"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/payment"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App.Name, cfg.Log)

	// Prices travel as JSON numbers, as the gateway expects.
	decimal.MarshalJSONWithoutQuotes = true

	log.Info().Msg("Order service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	if err := db.Migrate(dbConn.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus, err := messaging.Connect(cfg.NATS, cfg.App.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer bus.Close()

	repo := order.NewRepository(dbConn.Pool)
	svc := order.NewService(repo, catalog.NewClient(bus), payment.NewClient(bus), m)
	reconciler := order.NewReconciler(repo, m)
	rpcHandler := rpc.NewHandler(svc, reconciler, m)

	subscribeNATS := cfg.Events.Transport == config.TransportNATS
	if err := rpcHandler.Register(ctx, bus, cfg.NATS.QueueGroup, subscribeNATS); err != nil {
		log.Fatal().Err(err).Msg("Failed to register message patterns")
	}

	checks := map[string]orderHttp.HealthCheck{
		"postgres": dbConn.Ping,
		"nats": func(context.Context) error {
			if !bus.Connected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
	router := orderHttp.NewRouter(orderHttp.NewOrderHandler(svc), checks, m.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Events.Transport == config.TransportKafka {
		events := messaging.NewKafkaSubscriber(cfg.Kafka, rpc.RetryableEvent)
		g.Go(func() error {
			defer func() {
				if err := events.Close(); err != nil {
					log.Error().Err(err).Msg("Failed to close kafka reader")
				}
			}()
			return events.Run(gctx, rpcHandler.HandlePaymentSucceeded)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		if err := bus.Drain(); err != nil {
			log.Error().Err(err).Msg("NATS drain failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Order service stopped with error")
		return
	}
	log.Info().Msg("Order service stopped")
}

func setupLogger(service string, cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", service).Logger()
}
