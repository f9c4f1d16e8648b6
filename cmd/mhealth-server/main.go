package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/haniot/mhealth-sub002/internal/config"
	"github.com/haniot/mhealth-sub002/internal/domain/activity"
	"github.com/haniot/mhealth-sub002/internal/domain/device"
	"github.com/haniot/mhealth-sub002/internal/domain/measurement"
	"github.com/haniot/mhealth-sub002/internal/domain/sleep"
	"github.com/haniot/mhealth-sub002/internal/integration"
	"github.com/haniot/mhealth-sub002/internal/integration/outbox"
	"github.com/haniot/mhealth-sub002/internal/platform/bus"
	"github.com/haniot/mhealth-sub002/internal/platform/db"
	"github.com/haniot/mhealth-sub002/internal/platform/metrics"
	"github.com/haniot/mhealth-sub002/internal/platform/middleware"
)

const (
	version     = "1.0.0"
	metricsNS   = "mhealth"
	bodyLimit   = "2M"
	stopTimeout = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mhealth-server",
		Short:        "Health measurement API and event consumer",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(deviceCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API, the bus consumers and the outbox task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// loadConfig reads the configuration and builds the logger. Commands that
// talk to the broker pass strict to require a complete configuration.
func loadConfig(strict bool) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if strict {
		if err := cfg.Validate(); err != nil {
			return nil, logger, err
		}
	}
	return cfg, logger, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoSchema {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

func newBus(cfg *config.Config, logger zerolog.Logger) *bus.EventBus {
	return bus.New(bus.Config{
		URI:            cfg.RabbitMQURI,
		Exchange:       cfg.RabbitMQExchange,
		Queue:          cfg.RabbitMQQueue,
		ReconnectDelay: cfg.RabbitMQReconnectDelay,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)
}

func newOutboxTask(cfg *config.Config, pool *pgxpool.Pool, eb *bus.EventBus, m *metrics.Collector, logger zerolog.Logger) *outbox.Task {
	task := outbox.NewTask(outbox.NewRepoPG(pool), eb, integration.ReviveEvent, logger)
	task.Interval = cfg.OutboxInterval
	task.BatchSize = cfg.OutboxBatchSize
	task.Concurrency = cfg.OutboxConcurrency
	task.SetMetrics(m)
	return task
}

// services holds the domain layer shared by the REST API and the consumers.
type services struct {
	measurements *measurement.Service
	activities   *activity.Service
	sleep        *sleep.Service
	publisher    *integration.EventPublisher
}

func newServices(pool *pgxpool.Pool, eb integration.BusPublisher, m *metrics.Collector, logger zerolog.Logger) *services {
	publisher := integration.NewEventPublisher(eb, outbox.NewRepoPG(pool), logger)
	publisher.SetMetrics(m)

	ms := measurement.NewService(measurement.NewRepoPG(pool), device.NewRepoPG(pool), db.NewTxRunner(pool), logger)
	ms.SetNotifier(publisher)
	ms.SetMetrics(m)

	return &services{
		measurements: ms,
		activities:   activity.NewService(activity.NewRepoPG(pool)),
		sleep:        sleep.NewService(sleep.NewRepoPG(pool)),
		publisher:    publisher,
	}
}

func (s *services) eventHandlers(m *metrics.Collector, logger zerolog.Logger) integration.Handlers {
	return integration.Handlers{
		WeightSync:           integration.NewWeightSyncHandler(s.measurements, s.publisher, m, logger),
		PhysicalActivitySync: integration.NewPhysicalActivitySyncHandler(s.activities, m, logger),
		SleepSync:            integration.NewSleepSyncHandler(s.sleep, m, logger),
		UserDelete:           integration.NewUserDeleteHandler(s.measurements, s.sleep, s.activities, m, logger),
	}
}

// newEcho builds the HTTP server with the middleware chain and the
// operational endpoints. Domain routes are registered by the caller.
func newEcho(cfg *config.Config, m *metrics.Collector, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(m))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"X-Total-Count", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit(bodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	return e
}

func runServer() error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(metricsNS, reg)

	eb := newBus(cfg, logger)
	svc := newServices(pool, eb, m, logger)
	svc.eventHandlers(m, logger).Register(eb)
	eb.Start()

	task := newOutboxTask(cfg, pool, eb, m, logger)
	go task.Run(ctx)

	e := newEcho(cfg, m, logger)
	e.GET("/health/db", db.HealthHandler(pool, db.PoolStatsFunc(pool)))
	e.GET("/health/bus", bus.HealthHandler(eb))
	measurement.NewHandler(svc.measurements).RegisterRoutes(e.Group("/v1"))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	eb.Close(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and retry events that could not be published",
	}

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Run a single outbox scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			eb := newBus(cfg, logger)
			eb.Start()
			defer eb.Close(context.Background())
			if !waitForPublisher(ctx, eb, cfg.PublishTimeout) {
				return fmt.Errorf("message bus not reachable after %s", cfg.PublishTimeout)
			}

			stats, err := newOutboxTask(cfg, pool, eb, nil, logger).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d republished=%d failed=%d skipped=%d\n",
				stats.Scanned, stats.Republished, stats.Failed, stats.Skipped)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the pending outbox rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, _, err := loadConfig(false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			records, err := outbox.NewRepoPG(pool).Find(ctx, nil, limit)
			if err != nil {
				return err
			}
			return printRecords(cmd, records)
		},
	}
	listCmd.Flags().Int("limit", 100, "Maximum number of rows to print")

	cmd.AddCommand(retryCmd, listCmd)
	return cmd
}

type outboxRow struct {
	ID         string    `json:"id"`
	EventName  string    `json:"event_name"`
	RoutingKey string    `json:"routing_key"`
	CreatedAt  time.Time `json:"created_at"`
}

func printRecords(cmd *cobra.Command, records []outbox.Record) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, rec := range records {
		routingKey, _, _, err := rec.Target()
		if err != nil {
			routingKey = ""
		}
		row := outboxRow{ID: rec.ID.String(), EventName: rec.EventName, RoutingKey: routingKey, CreatedAt: rec.CreatedAt}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// waitForPublisher polls until the publisher connection is up or timeout
// elapses.
func waitForPublisher(ctx context.Context, s bus.Status, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.PublisherOpen() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the devices measurements may reference",
	}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a device and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := deviceFromFlags(cmd)
			if err != nil {
				return err
			}
			return withDeviceRepo(cmd, func(ctx context.Context, repo device.Repository) error {
				if err := repo.Create(ctx, d); err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(d)
			})
		},
	}
	registerCmd.Flags().String("name", "", "Device name (required)")
	registerCmd.Flags().String("address", "", "Device MAC address")
	registerCmd.Flags().String("type", "", "Device type, e.g. scale")
	registerCmd.Flags().String("model", "", "Model number")
	registerCmd.Flags().String("manufacturer", "", "Manufacturer")
	registerCmd.Flags().StringSlice("patient", nil, "Patient ids the device belongs to")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print a registered device",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return withDeviceRepo(cmd, func(ctx context.Context, repo device.Repository) error {
				d, err := repo.GetByID(ctx, id)
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(d)
			})
		},
	}
	getCmd.Flags().String("id", "", "Device id")

	cmd.AddCommand(registerCmd, getCmd)
	return cmd
}

func optionalFlag(cmd *cobra.Command, name string) *string {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil
	}
	return &v
}

func deviceFromFlags(cmd *cobra.Command) (*device.Device, error) {
	name, _ := cmd.Flags().GetString("name")
	patients, _ := cmd.Flags().GetStringSlice("patient")
	d := &device.Device{
		Name:         name,
		Address:      optionalFlag(cmd, "address"),
		Type:         optionalFlag(cmd, "type"),
		Model:        optionalFlag(cmd, "model"),
		Manufacturer: optionalFlag(cmd, "manufacturer"),
		PatientIDs:   patients,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func withDeviceRepo(cmd *cobra.Command, fn func(context.Context, device.Repository) error) error {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, device.NewRepoPG(pool))
}
