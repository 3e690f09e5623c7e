// fpcore coordinates fingerprint readers: discovery, reservations,
// continuous capture, enrollment and attendance identification.
//
// Usage:
//
//	fpcore                                  run the service
//	fpcore -issue-token kiosk-1 -role operator
//	                                        print an API token and exit
//
// The configuration file is read from FPCORE_CONFIG, or configs/config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/api"
	"github.com/nerrad567/fingerprint-core/internal/auth"
	"github.com/nerrad567/fingerprint-core/internal/capture"
	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/device/simreader"
	"github.com/nerrad567/fingerprint-core/internal/enrollment"
	"github.com/nerrad567/fingerprint-core/internal/events"
	"github.com/nerrad567/fingerprint-core/internal/infrastructure/config"
	"github.com/nerrad567/fingerprint-core/internal/infrastructure/database"
	"github.com/nerrad567/fingerprint-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fingerprint-core/internal/infrastructure/logging"
	"github.com/nerrad567/fingerprint-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fingerprint-core/internal/infrastructure/secure"
	"github.com/nerrad567/fingerprint-core/internal/matching"
	"github.com/nerrad567/fingerprint-core/internal/scheduler"
	"github.com/nerrad567/fingerprint-core/internal/subject"
	"github.com/nerrad567/fingerprint-core/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.issueSubject != "" {
		if err := issueToken(getConfigPath(), opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	issueSubject string
	role         string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("fpcore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.issueSubject, "issue-token", "", "print an API token for this subject and exit")
	fs.StringVar(&opts.role, "role", string(auth.RoleOperator), "role of the issued token (operator or admin)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// issueToken signs an access token with the configured secret.
func issueToken(configPath string, opts options, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.GenerateAccessToken(opts.issueSubject, auth.Role(opts.role), cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fpcore", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "service", cfg.Service.ID)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Subjects and identification
	sealer, err := secure.NewSealer(cfg.Security.TemplateKey, cfg.Security.TemplateSalt)
	if err != nil {
		return fmt.Errorf("creating template sealer: %w", err)
	}
	subjects := subject.NewSQLiteRepository(db.DB, sealer)
	engine := matching.NewReferenceEngine()
	gallery := subject.NewGallery(subjects, engine, cfg.Matching.Threshold, cfg.Matching.MaxResults)
	gallery.SetLogger(log.Component("gallery"))
	if refreshErr := gallery.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("loading identification gallery: %w", refreshErr)
	}
	log.Info("identification gallery loaded", "templates", gallery.Len())

	// Readers
	bus, sims := newSimBus(cfg.Readers.Sim)
	registry := device.NewRegistry(bus, compatibility(cfg.Readers))
	registry.SetLogger(log.Component("registry"))
	names, err := registry.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("discovering readers: %w", err)
	}
	log.Info("readers discovered", "readers", names)
	go registry.Watch(ctx, cfg.Readers.RescanInterval)
	if cfg.Readers.Sim.TouchInterval > 0 {
		for _, r := range sims {
			go simreader.AutoTouch(ctx, r, cfg.Readers.Sim.TouchInterval, cfg.Readers.Sim.Fingers)
		}
	}

	// Event sinks
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"), registry)
	go hub.Run(ctx)
	publisher := events.Fanout{hub}
	health := map[string]api.HealthChecker{"database": db}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func(reconnect bool) {
			if reconnect {
				log.Info("MQTT connection restored")
			}
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2
		if subErr := mqttClient.SubscribeSessionDisconnects(qos, registry); subErr != nil {
			return fmt.Errorf("subscribing to session disconnects: %w", subErr)
		}
		mqttPub := events.NewMQTTPublisher(mqttClient, mqtt.TopicPrefix)
		mqttPub.SetLogger(log.Component("events"))
		publisher = append(publisher, mqttPub)
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
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
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Capture loops and enrollment
	// Loops long-poll: a zero timeout waits until a finger or a stop.
	loopCapture := captureConfig(cfg.Capture)
	loopCapture.Timeout = 0
	sched := scheduler.New(registry, publisher, scheduler.Config{
		Capture:              loopCapture,
		PoolSize:             cfg.Scheduler.PoolSize,
		MaxConsecutiveErrors: cfg.Scheduler.MaxConsecutiveErrors,
		ErrorDelay:           cfg.Scheduler.ErrorDelay,
		IdleDelay:            cfg.Scheduler.IdleDelay,
		StopGrace:            cfg.Scheduler.StopGrace,
	})
	sched.SetLogger(log.Component("scheduler"))
	sched.SetIdentification(engine, gallery, gallery)

	store := enrollment.NewStore(registry, engine, enrollment.Config{
		Capture:  captureConfig(cfg.Capture),
		MinScore: cfg.Enrollment.MinScore,
	})
	store.SetLogger(log.Component("enrollment"))

	if influxClient != nil {
		sched.SetMetrics(influxClient)
		store.SetMetrics(influxClient)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := sched.Shutdown(shutdownCtx); stopErr != nil {
			log.Error("error stopping capture loops", "error", stopErr)
		}
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing readers", "error", closeErr)
		}
	}()

	if cfg.Scheduler.StartOnBoot {
		started := sched.StartAll()
		log.Info("capture started on boot", "readers", started)
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Registry:   registry,
		Scheduler:  sched,
		Enrollment: store,
		Subjects:   subjects,
		Gallery:    gallery,
		Engine:     engine,
		Capture:    captureConfig(cfg.Capture),
		Hub:        hub,
		Health:     health,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, capture loops and readers,
	// InfluxDB, MQTT, database.
	return nil
}

const shutdownTimeout = 10 * time.Second

// getConfigPath returns FPCORE_CONFIG when set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("FPCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newSimBus builds the simulated readers named in cfg.
func newSimBus(cfg config.SimConfig) (*simreader.Bus, []*simreader.Reader) {
	readers := make([]*simreader.Reader, 0, len(cfg.Readers))
	for _, rc := range cfg.Readers {
		tech := device.Technology(rc.Technology)
		if tech == "" {
			tech = device.TechnologyOptical
		}
		readers = append(readers, simreader.New(
			device.Description{
				Name:       rc.Name,
				Vendor:     rc.Vendor,
				Product:    rc.Product,
				Serial:     rc.Serial,
				Technology: tech,
			},
			device.Capabilities{CanCapture: true, CanExtract: true, Resolutions: []int{capture.DefaultResolution}},
		))
	}
	return simreader.NewBus(readers...), readers
}

// compatibility turns the reader allow-lists into a device.Compatibility.
// Empty lists fall back to the supported reader families.
func compatibility(cfg config.ReadersConfig) device.Compatibility {
	compat := device.DefaultCompatibility()
	if len(cfg.AllowedVendors) > 0 {
		compat.Vendors = cfg.AllowedVendors
	}
	if len(cfg.AllowedTechnologies) > 0 {
		compat.Technologies = make([]device.Technology, 0, len(cfg.AllowedTechnologies))
		for _, t := range cfg.AllowedTechnologies {
			compat.Technologies = append(compat.Technologies, device.Technology(t))
		}
	}
	return compat
}

func captureConfig(cfg config.CaptureConfig) capture.Config {
	return capture.Config{
		Format:             device.Format(cfg.Format),
		Processing:         device.Processing(cfg.Processing),
		Resolution:         cfg.Resolution,
		Timeout:            cfg.Timeout,
		BusyDelay:          cfg.BusyDelay,
		BusyEscalatedDelay: cfg.BusyEscalatedDelay,
		EscalateEvery:      cfg.EscalateEvery,
		CancelGrace:        cfg.CancelGrace,
	}
}
