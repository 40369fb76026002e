// Command potree-server serves region filtering of Potree point clouds over
// HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/potree-clip/internal/api"
	"github.com/banshee-data/potree-clip/internal/config"
	"github.com/banshee-data/potree-clip/internal/db"
	"github.com/banshee-data/potree-clip/internal/events"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultSettingsPath, "Path to the settings file (.json, .yaml or .yml)")
	listen      = flag.String("listen", "", "Listen address, overriding the settings file")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// loadSettings reads the settings file, falling back to defaults when the
// file does not exist.
func loadSettings(path string) (*config.Settings, error) {
	settings, err := config.Load(path)
	if errors.Is(err, config.ErrSettingsMissing) {
		log.Printf("no settings at %s, using defaults", path)
		return &config.Settings{}, nil
	}
	return settings, err
}

// newPublisher connects to the configured MQTT broker, if any.
func newPublisher(s *config.Settings) (events.Publisher, error) {
	broker := s.GetMQTTBroker()
	if broker == "" {
		return events.NoopPublisher{}, nil
	}
	pub, err := events.Connect(broker, s.GetMQTTClientID(), s.GetMQTTTopic())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	log.Printf("publishing job events to %s under %s", broker, s.GetMQTTTopic())
	return pub, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if *listen != "" {
		settings.Listen = listen
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}
	if err := os.MkdirAll(settings.GetOutputDirectory(), 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	jobDB, err := db.NewDB(settings.GetDatabasePath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer jobDB.Close()

	publisher, err := newPublisher(settings)
	if err != nil {
		log.Fatalf("failed to start event publisher: %v", err)
	}
	defer publisher.Close()

	registry := jobs.NewRegistry(
		jobs.WithTTL(settings.GetJobTTL()),
		jobs.WithStore(jobDB),
	)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// prune expired jobs until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx)
		log.Print("registry routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(settings, registry,
			api.WithDatabase(jobDB),
			api.WithPublisher(publisher),
		).ServeMux()

		server := &http.Server{
			Addr:              settings.Addr(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("potree-server %s listening on %s", version.Version, settings.Addr())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			log.Printf("job shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
