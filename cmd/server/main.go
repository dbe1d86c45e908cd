// Package main is the entry point for the MCDS-View server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcds-view/server/internal/api"
	"github.com/mcds-view/server/internal/cache"
	"github.com/mcds-view/server/internal/config"
	"github.com/mcds-view/server/internal/service"
	"github.com/mcds-view/server/internal/snapstore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	reindex := flag.Bool("reindex", false, "Rescan the output directories before serving")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts, err := cfg.SnapshotOptions()
	if err != nil {
		log.Fatalf("Invalid query configuration: %v", err)
	}

	log.Printf("Starting MCDS-View server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		ResponseSizeMB:    cfg.Cache.ResponseSizeMB,
		ResponseTTL:       time.Duration(cfg.Cache.ResponseTTLMinutes) * time.Minute,
		SnapshotCacheSize: cfg.Cache.SnapshotCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize snapshot index (shared across all datasets)
	index, err := snapstore.NewStore(cfg.Index.Path)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot index: %v", err)
	}
	defer index.Close()

	// Initialize dataset registry
	datasetIDs := make([]string, 0, len(cfg.Data.Datasets))
	for _, ds := range cfg.Data.Datasets {
		datasetIDs = append(datasetIDs, ds.Name)
	}
	registry := api.NewDatasetRegistry(datasetIDs)

	log.Printf("Initializing %d dataset(s)", len(datasetIDs))

	for _, ds := range cfg.Data.Datasets {
		svc := service.NewSnapshotService(service.SnapshotServiceConfig{
			DatasetID: ds.Name,
			Dir:       ds.Path,
			Options:   opts,
			Cache:     cacheManager,
			Index:     index,
		})
		registry.Register(ds.Name, svc)

		if *reindex {
			n, err := svc.Reindex()
			if err != nil {
				log.Fatalf("  [%s] Failed to index %s: %v", ds.Name, ds.Path, err)
			}
			log.Printf("  [%s] Indexed %d snapshot(s) from %s", ds.Name, n, ds.Path)
		} else {
			n, err := index.Count(ds.Name)
			if err != nil {
				log.Fatalf("  [%s] Failed to read index: %v", ds.Name, err)
			}
			log.Printf("  [%s] Serving %d indexed snapshot(s) from %s", ds.Name, n, ds.Path)
		}
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
