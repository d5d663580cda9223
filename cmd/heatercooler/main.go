// echonet-heatercooler bridges ECHONET Lite home air conditioners to
// HomeKit as heater/cooler accessories.
//
// Besides HomeKit, appliances are exposed over MQTT (state, commands and
// acknowledgements), an HTTP API, and optionally InfluxDB telemetry.
// State history is kept in SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	_ "github.com/nerrad567/echonet-heatercooler/migrations"

	"github.com/nerrad567/echonet-heatercooler/internal/accessory"
	"github.com/nerrad567/echonet-heatercooler/internal/api"
	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/config"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/database"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/influxdb"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/logging"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/mqtt"
	"github.com/nerrad567/echonet-heatercooler/internal/platform"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyPruneInterval is how often expired history rows are removed.
const historyPruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting echonet-heatercooler",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthChecker{"database": db}

	// Background workers that must finish before the database closes.
	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	var adapters []platform.Adapter

	history := accessory.NewHistoryRecorder(db, time.Duration(cfg.Database.HistoryRetention)*24*time.Hour, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		history.Run(workerCtx, historyPruneInterval)
	}()
	adapters = append(adapters, history)

	// MQTT (optional)
	var mqttAdapter *accessory.MQTTAdapter
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttAdapter = accessory.NewMQTTAdapter(mqttClient, mqttClient.Topics(), mqttClient.QoS(), log)
		if startErr := mqttAdapter.Start(workerCtx); startErr != nil {
			return fmt.Errorf("starting MQTT adapter: %w", startErr)
		}
		defer func() {
			stopWorkers()
			mqttAdapter.Wait()
		}()
		adapters = append(adapters, mqttAdapter)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		adapters = append(adapters, accessory.NewTelemetrySink(influxClient))
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// ECHONET Lite socket
	gateway, err := echonet.Listen(echonetConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening ECHONET Lite socket: %w", err)
	}
	defer func() {
		log.Info("closing ECHONET Lite socket")
		if closeErr := gateway.Close(); closeErr != nil {
			log.Error("error closing ECHONET Lite socket", "error", closeErr)
		}
	}()
	gateway.SetLogger(log)
	log.Info("ECHONET Lite socket bound", "address", gateway.LocalAddr().String())
	checks["echonet"] = gateway

	var bridge *accessory.Bridge
	if cfg.HomeKit.Enabled {
		bridge = accessory.NewBridge(accessory.BridgeOptions{
			Name:        cfg.HomeKit.BridgeName,
			Pin:         cfg.HomeKit.Pin,
			StoragePath: cfg.HomeKit.StoragePath,
			Addr:        cfg.HomeKit.ListenAddress,
		}, log)
	} else {
		log.Info("HomeKit disabled")
	}

	plat, err := platform.New(platform.Options{
		Config:   cfg.Platform,
		Gateway:  gateway,
		Store:    accessory.NewStore(db),
		Bridge:   bridge,
		Adapters: adapters,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating platform: %w", err)
	}
	if startErr := plat.Start(ctx); startErr != nil {
		return fmt.Errorf("starting platform: %w", startErr)
	}
	if inertErr := plat.Err(); errors.Is(inertErr, platform.ErrInert) {
		log.Warn("platform is inert, fix the platform section and restart", "error", inertErr)
	}
	defer func() {
		log.Info("stopping platform")
		plat.Stop()
	}()

	// Cached appliances are registered by now; later discoveries reach
	// HomeKit after a restart.
	if bridge != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if serveErr := bridge.Serve(workerCtx); serveErr != nil {
				log.Error("HomeKit bridge stopped", "error", serveErr)
			}
		}()
	}

	var publisher platform.HealthPublisher
	if mqttAdapter != nil {
		publisher = mqttAdapter
	}
	reporter := platform.NewHealthReporter(plat, publisher, version, 0, log)
	reporter.Start(ctx)
	defer reporter.Stop()

	if cfg.API.Enabled {
		server, newErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Platform: plat,
			History:  history,
			Checks:   checks,
			Version:  version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEATERCOOLER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEATERCOOLER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// echonetConfig builds the socket configuration. A listen address without a
// port gets the ECHONET Lite port. An unusable request timeout falls back to
// the client default; the platform reports it separately.
func echonetConfig(cfg *config.Config) echonet.Config {
	listen := cfg.Echonet.ListenAddress
	if _, _, err := net.SplitHostPort(listen); err != nil {
		listen = net.JoinHostPort(listen, strconv.Itoa(echonet.DefaultPort))
	}

	out := echonet.Config{
		ListenAddress:  listen,
		MulticastGroup: cfg.Echonet.MulticastAddress,
		Interface:      cfg.Echonet.Interface,
	}
	if timeout, err := cfg.Platform.RequestTimeoutDuration(); err == nil {
		out.RequestTimeout = timeout
	}
	return out
}
