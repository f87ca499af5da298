// vbusd hosts a virtual device/driver bus.
//
// Components declared in the configuration register drivers and devices
// on the bus at startup. Every uevent the bus emits is journalled to
// SQLite, published to MQTT and counted in InfluxDB when those backends
// are enabled, and streamed to WebSocket clients of the inspection API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/vbus/internal/api"
	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/component"
	"github.com/nerrad567/vbus/internal/hotplug"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
	"github.com/nerrad567/vbus/internal/infrastructure/database"
	"github.com/nerrad567/vbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/vbus/internal/infrastructure/logging"
	"github.com/nerrad567/vbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/vbus/internal/journal"
	"github.com/nerrad567/vbus/internal/notify"
	"github.com/nerrad567/vbus/internal/uevent"
	_ "github.com/nerrad567/vbus/migrations"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// drainTimeout bounds the delivery of events still queued at shutdown.
const drainTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts every configured subsystem and blocks until ctx is cancelled.
// Deferred cleanups run in reverse order: API, components, hotplug, bus,
// sink queues, then the backend clients.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting vbusd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	checks := make(map[string]api.HealthChecker)

	// Journal and audit log
	var (
		repo      journal.Repository
		auditRepo audit.Repository
	)
	if cfg.Database.Enabled {
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
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		repo = journal.NewSQLiteRepository(db.DB)
		auditRepo = audit.NewSQLiteRepository(db.DB)
		checks["database"] = db
		log.Info("event journal ready", "path", db.Path())
	} else {
		log.Info("event journal disabled")
	}

	// MQTT
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var err error
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Notification channel and sink queues. Queues subscribe before the bus
	// exists so component registrations at startup are delivered too.
	channel := uevent.NewChannel(cfg.Bus.BufferSize)
	channel.SetLogger(log.Component("uevent"))

	queues, err := buildQueues(cfg, repo, mqttClient, influxClient, log)
	if err != nil {
		return err
	}
	stopQueues := startQueues(ctx, channel, queues, log)
	defer stopQueues()

	// Bus
	b, err := bus.New(bus.Config{
		Name:     cfg.Bus.Name,
		RootName: cfg.Bus.RootName,
		Version:  cfg.Bus.Version,
		Matcher:  matcherFor(cfg.Bus.Matcher),
		Channel:  channel,
	})
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	b.SetLogger(log.Component("bus"))
	b.SetAutoprobe(cfg.Bus.Autoprobe)
	defer func() {
		log.Info("closing bus")
		b.Close()
	}()
	log.Info("bus registered",
		"bus", b.Name(),
		"root", b.Root().Name(),
		"version", b.Version(),
		"autoprobe", b.Autoprobe(),
	)

	if influxClient != nil {
		go notify.ReportStats(ctx, b, influxClient, cfg.GetStatsInterval())
	}

	// Hotplug
	bridge := hotplug.NewBridge(b)
	bridge.SetLogger(log.Component("hotplug"))
	defer func() {
		log.Info("removing hotplugged devices")
		bridge.Close()
	}()
	if mqttClient != nil && cfg.MQTT.Hotplug {
		if err := bridge.Listen(mqttClient, mqttClient.QoS()); err != nil {
			return fmt.Errorf("subscribing to hotplug requests: %w", err)
		}
		defer func() {
			if stopErr := bridge.Stop(mqttClient); stopErr != nil {
				log.Warn("error unsubscribing hotplug", "error", stopErr)
			}
		}()
		log.Info("hotplug listening", "topic", bridge.Topic())
	}

	// Components
	modules := make([]*component.Module, 0, len(cfg.Components))
	for _, cc := range cfg.Components {
		m := component.FromConfig(cc)
		m.SetLogger(log.Component("component"))
		modules = append(modules, m)
	}
	if err := component.LoadAll(b, modules); err != nil {
		return fmt.Errorf("loading components: %w", err)
	}
	defer func() {
		log.Info("unloading components")
		if unloadErr := component.UnloadAll(modules); unloadErr != nil {
			log.Error("error unloading components", "error", unloadErr)
		}
	}()
	stats := b.Stats()
	log.Info("components loaded",
		"modules", len(modules),
		"devices", stats.Devices,
		"drivers", stats.Drivers,
		"bound", stats.Bound,
	)

	// Inspection API
	if cfg.API.Enabled {
		queueStats := make([]api.QueueStats, 0, len(queues))
		for _, q := range queues {
			queueStats = append(queueStats, q)
		}

		srv, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Bus:      b,
			Channel:  channel,
			Journal:  repo,
			Audit:    auditRepo,
			Hotplug:  bridge,
			Checks:   checks,
			Queues:   queueStats,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("inspection API disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// buildQueues creates one queue per enabled sink.
func buildQueues(cfg *config.Config, repo journal.Repository, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, log *logging.Logger) ([]*uevent.Queue, error) {
	var queues []*uevent.Queue
	add := func(name string, sink uevent.Sink) {
		q := uevent.NewQueue(name, sink, cfg.Bus.QueueSize)
		q.SetLogger(log.Component("uevent"))
		queues = append(queues, q)
	}

	if repo != nil {
		add("journal", notify.NewJournalSink(repo, notify.DefaultJournalTimeout))
	}
	if mqttClient != nil {
		format, err := uevent.ParseFormat(cfg.MQTT.PayloadFormat)
		if err != nil {
			return nil, fmt.Errorf("mqtt payload format: %w", err)
		}
		add("mqtt", notify.NewMQTTSink(mqttClient, format, mqttClient.QoS()))
	}
	if influxClient != nil {
		add("influxdb", notify.NewMetricsSink(influxClient))
	}
	return queues, nil
}

// startQueues subscribes each queue to channel and runs it. Queues outlive
// ctx so that removals emitted during shutdown are still delivered; the
// returned function unsubscribes, stops the queues and drains their backlog.
func startQueues(ctx context.Context, channel *uevent.Channel, queues []*uevent.Queue, log *logging.Logger) func() {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var wg sync.WaitGroup
	unsubscribers := make([]func(), 0, len(queues))
	for _, q := range queues {
		unsubscribers = append(unsubscribers, channel.Subscribe(q.Handle))
		wg.Add(1)
		go func(q *uevent.Queue) {
			defer wg.Done()
			q.Run(runCtx)
		}(q)
		log.Info("uevent sink started", "sink", q.Name())
	}

	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
		cancel()
		wg.Wait()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer drainCancel()
		for _, q := range queues {
			if n := q.Drain(drainCtx); n > 0 {
				log.Info("uevent sink drained", "sink", q.Name(), "events", n)
			}
			if dropped := q.Dropped(); dropped > 0 {
				log.Warn("uevent sink dropped events", "sink", q.Name(), "dropped", dropped)
			}
		}
	}
}

// matcherFor maps the configured matcher name to a bus.Matcher.
func matcherFor(name string) bus.Matcher {
	if name == "exact" {
		return bus.ExactMatch
	}
	return bus.PrefixMatch
}

// healthCheck verifies every enabled backend.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
