package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crowdscope/config"
	"crowdscope/internal/api/handlers"
	"crowdscope/internal/api/middleware"
	"crowdscope/internal/artifacts"
	"crowdscope/internal/cleanup"
	"crowdscope/internal/core/processor"
	"crowdscope/internal/db"
	"crowdscope/internal/db/repository"
	"crowdscope/internal/density"
	"crowdscope/internal/integrations/homeassistant"
	"crowdscope/internal/integrations/mqtt"
	"crowdscope/internal/integrations/opencv"
	"crowdscope/internal/logger"
	"crowdscope/internal/server/sse"
	"crowdscope/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

// Personenzahl in Home Assistant nach so langer Stille auf 0 setzen
const haResetIdle = 5 * time.Minute

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use logrus fatal even before full initialization if config fails
		log.Fatalf("Failed to load configuration: %v", err)
	}

	closeLog, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	defer closeLog()

	timezone.Initialize(cfg.Server.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Info("Server stopped.")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Persistenz ---
	var repo repository.Repository
	if cfg.DB.Enabled {
		log.Info("Initializing database...")
		database, err := db.Initialize(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close(database)
		repo = repository.NewGormRepository(database)
		log.Info("Database initialization complete.")
	} else {
		log.Info("Database disabled, analyses will not be saved")
	}

	store, err := newArtifactStore(cfg.Artifacts)
	if err != nil {
		return err
	}

	// --- Erkennung ---
	ensemble, err := opencv.NewEnsembleFromConfig(cfg.Detector)
	if err != nil {
		return fmt.Errorf("failed to initialize person detector: %w", err)
	}
	defer ensemble.Close()

	estimator, err := density.New(cfg.Density.Formula)
	if err != nil {
		return err
	}

	opts := processor.Options{
		Detector:  ensemble,
		Estimator: estimator,
		Store:     store,
		RecordOpts: repository.RecordOptions{
			AlertsEnabled: cfg.Alerts.Enabled,
			AlertMinLevel: density.Level(cfg.Alerts.MinLevel),
		},
	}
	if repo != nil {
		opts.Recorder = repo
	}
	if cfg.Heatmap.Enabled {
		renderer, err := opencv.NewHeatmapRenderer(cfg.Heatmap)
		if err != nil {
			return fmt.Errorf("invalid heatmap configuration: %w", err)
		}
		opts.Renderer = renderer
	}

	imageProcessor, err := processor.NewImageProcessor(opts)
	if err != nil {
		return err
	}

	// --- Verteilung ---
	hub := sse.NewHub()
	go hub.Run(ctx)
	imageProcessor.AddPublisher(hub)

	workerPool := processor.NewWorkerPool(imageProcessor, cfg.Processing.Workers)
	defer workerPool.Shutdown()

	if cfg.MQTT.Enabled {
		mqttClient := mqtt.NewClient(cfg.MQTT)
		if cfg.MQTT.SubscribeFrames {
			mqttClient.RegisterHandler(mqtt.NewFrameHandler(ctx, mqttClient.TopicPrefix(), workerPool))
		}
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to initialize MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer mqttClient.Stop()
			imageProcessor.AddPublisher(mqttClient)

			if cfg.MQTT.HomeAssistant.Enabled {
				discovery := homeassistant.NewDiscoveryManager(mqttClient, cfg.MQTT.HomeAssistant.DiscoveryPrefix, mqttClient.TopicPrefix())
				haPublisher := homeassistant.NewPublisher(mqttClient, discovery, haResetIdle)
				haPublisher.StartResetTimers(ctx)
				imageProcessor.AddPublisher(haPublisher)
			}
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// --- Aufräumen ---
	var cleanupRepo cleanup.Repository
	if repo != nil {
		cleanupRepo = repo
	}
	cleanupService := cleanup.NewService(cleanupRepo, store, cfg.Cleanup.RetentionDays,
		time.Duration(cfg.Cleanup.IntervalHours)*time.Hour)
	cleanupService.StartBackgroundCleanup()
	defer cleanupService.StopBackgroundCleanup()

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders(handlers.HeaderCameraID, handlers.HeaderLocationZone, middleware.RequestIDHeader)
	router.Use(cors.New(corsConfig))

	handlers.NewAPIHandler(cfg, workerPool, repo, ensemble.Passes()).RegisterRoutes(router)
	handlers.NewSystemHandler(store, cfg.Artifacts.URLPrefix, workerPool, ensemble, repo).RegisterRoutes(router)
	handlers.NewEventHandler(hub).RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newArtifactStore(cfg config.ArtifactsConfig) (artifacts.Store, error) {
	switch cfg.Backend {
	case "memory":
		log.Infof("Keeping up to %d heatmaps in memory", cfg.MaxItems)
		return artifacts.NewMemoryStore(cfg.MaxItems, cfg.URLPrefix), nil
	default:
		store, err := artifacts.NewFSStore(cfg.Dir, cfg.URLPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
		}
		log.Infof("Serving heatmaps from %s under %s", cfg.Dir, cfg.URLPrefix)
		return store, nil
	}
}
