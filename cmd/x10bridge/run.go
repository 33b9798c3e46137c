package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/x10-bridge/internal/api"
	"github.com/nerrad567/x10-bridge/internal/bridges/x10"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/database"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/x10-bridge/migrations"
)

// run is the bridge process, separated from main for testability. It
// returns nil on a signal-driven shutdown and an error for anything fatal,
// including the monitor stream ending.
func run(ctx context.Context, configFlag string) error {
	log := logging.Default()
	log.Info("starting x10bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(configFlag, log)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	opts := x10.BridgeOptions{
		Config:  cfg.X10,
		Version: version,
		Logger:  log,
	}

	// Dependencies the API health endpoint checks on every request.
	checks := make(map[string]api.HealthChecker)

	// Activity recorder (optional)
	var (
		db       *database.DB
		recorder *x10.ActivityRecorder
	)
	if cfg.Database.Enabled {
		db, recorder, err = openRecorder(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			recorder.Stop()
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		opts.Recorder = recorder
		checks["database"] = db
	} else {
		log.Info("activity recorder disabled")
	}

	// Telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		opts.Telemetry = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT: the initial connection is not retried.
	mqttClient, err := mqtt.Connect(cfg.MQTT, x10.StatusTopic(cfg.X10.StateTopic))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", cfg.MQTT.BrokerAddress(),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	checks["mqtt"] = mqttClient

	heyu := x10.NewHeyu(cfg.X10.HeyuBinary, log)
	log.Info("heyu controller ready", "binary", heyu.Binary(), "mode", cfg.X10.Mode)
	opts.MQTTClient = mqttClient
	opts.Controller = heyu

	bridge, err := x10.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := bridge.Start(gctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer bridge.Stop()

	monitor, err := heyu.Monitor(gctx)
	if err != nil {
		return fmt.Errorf("starting heyu monitor: %w", err)
	}
	g.Go(func() error {
		return bridge.RunMonitor(gctx, monitor)
	})

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  bridge,
			Version: version,
			Checks:  checks,
		}
		if recorder != nil {
			deps.Units = recorder
			deps.DB = db
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := srv.Start(gctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	log.Info("x10bridge running")

	err = g.Wait()
	if err != nil {
		log.Error("bridge terminated", "error", err)
		return err
	}
	log.Info("shutdown signal received, stopping")
	return nil
}

// loadConfig resolves and loads the configuration file.
func loadConfig(configFlag string, log *logging.Logger) (*config.Config, error) {
	path, optional := getConfigPath(configFlag)
	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)
	return cfg, nil
}

// openRecorder opens the database, applies migrations and starts the
// activity recorder.
func openRecorder(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, *x10.ActivityRecorder, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	recorder := x10.NewActivityRecorder(db.DB, log)
	if err := recorder.Start(); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("starting activity recorder: %w", err)
	}
	return db, recorder, nil
}

// announce publishes discovery descriptors once, without starting the
// command or monitor flows.
func announce(configFlag string) error {
	log := logging.Default()

	cfg, err := loadConfig(configFlag, log)
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version)

	// No status topic: a one-shot run must not flip the bridge's availability.
	mqttClient, err := mqtt.Connect(cfg.MQTT, "")
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer mqttClient.Close() //nolint:errcheck // Best effort on exit

	announcer := x10.NewAnnouncer(x10.AnnouncerConfigFrom(cfg.X10), mqttClient, log)
	n, err := announcer.Announce()
	if err != nil {
		return fmt.Errorf("announcing discovery: %w", err)
	}
	log.Info("discovery announced", "descriptors", n)
	return nil
}
