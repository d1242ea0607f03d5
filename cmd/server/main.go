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

	"attendance-go/config"
	"attendance-go/internal/api/handlers"
	"attendance-go/internal/attendance"
	"attendance-go/internal/camera"
	"attendance-go/internal/cleanup"
	"attendance-go/internal/db"
	"attendance-go/internal/gallery"
	"attendance-go/internal/logger"
	"attendance-go/internal/mqtt"
	"attendance-go/internal/recognize"
	"attendance-go/internal/sse"
	"attendance-go/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/config/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	timezone.Initialize(cfg.Server.Timezone)

	log.Info("Initializing database...")
	database, err := db.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Info("Database initialization complete.")

	galleryStore, err := gallery.NewStore(cfg.Gallery.Dir, database)
	if err != nil {
		log.Fatalf("Failed to initialize gallery store: %v", err)
	}

	// The recognition backend loads its model once; a single shared client
	// is reused for every probe.
	recognizer := recognize.NewClient(cfg.Recognizer)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if !recognizer.IsAvailable(ctx) {
			log.Warnf("Recognition backend at %s is not reachable yet; probes will fail until it is", cfg.Recognizer.URL)
		}
		cancel()
	}

	ledger := attendance.NewLedger(database)

	hub := sse.NewHub()
	go hub.Run()

	mqttClient, err := mqtt.NewClient(cfg.MQTT)
	if err != nil {
		log.Warnf("Failed to initialize MQTT client: %v. Continuing without MQTT.", err)
		mqttClient = nil
	}
	if mqttClient != nil {
		go func() {
			if err := mqttClient.Start(); err != nil {
				log.Errorf("MQTT client error: %v", err)
			}
		}()
		defer mqttClient.Stop()
	}

	// Camera is long-lived process state: opened once, released on
	// shutdown.
	var cameraSource *camera.Source
	if cfg.Camera.Enabled {
		cameraSource, err = camera.Open(cfg.Camera)
		if err != nil {
			log.Warnf("Failed to open camera: %v. Continuing with upload-only attendance.", err)
		} else {
			go cameraSource.Run()
			defer cameraSource.Close()
		}
	} else {
		log.Info("Camera is disabled in config.")
	}

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	go cleanup.NewService(database, cfg.Cleanup).Start(cleanupCtx)

	service := attendance.NewService(cfg, database, recognizer, galleryStore, ledger, hub, mqttClient)

	router := gin.Default()
	router.Use(cors.Default())

	apiHandler := handlers.NewAPIHandler(cfg, service, ledger, galleryStore, cameraSource, hub)
	apiHandler.RegisterRoutes(router)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped.")
}
