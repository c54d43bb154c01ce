package main

import (
	"context"
	"log"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"

	"github.com/fieldforce/tripd/internal/cache"
	"github.com/fieldforce/tripd/internal/clients/backend"
	"github.com/fieldforce/tripd/internal/config"
	"github.com/fieldforce/tripd/internal/geofence"
	"github.com/fieldforce/tripd/internal/sdk"
	"github.com/fieldforce/tripd/internal/trip"
	"github.com/fieldforce/tripd/internal/wakelock"
)

func main() {
	// Background goroutines and teardown log through the context, so it
	// needs a logger attached before anything else sees it.
	ctx := logging.EnsureLogger(context.Background())

	// Load configuration using Prefab's config system
	appConfig := loadConfig()

	// Initialize cache
	cacheInstance := cache.New()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Cache.CleanupInterval)

	// Initialize the vendor location adapter
	driver := sdk.NewHTTPDriver(appConfig.SDK.BaseURL, appConfig.SDK.FixURL, appConfig.SDK.DeviceID)
	adapter := sdk.NewAdapter(driver)
	if err := adapter.Initialize(ctx, appConfig.SDK.PublishableKey, sdk.Options{
		Verbosity:       sdk.Verbosity(appConfig.SDK.Verbosity),
		CacheTTL:        appConfig.SDK.CacheTTL,
		MaxCacheAge:     appConfig.SDK.MaxCacheAge,
		Timeout:         appConfig.SDK.Timeout,
		DesiredAccuracy: sdk.Accuracy(appConfig.SDK.DesiredAccuracy),
	}); err != nil {
		log.Fatalf("Failed to initialize location adapter: %v", err)
	}

	if appConfig.Backend.UserID == "" {
		log.Fatal("Backend user id is required in configuration")
	}
	if err := adapter.SetUserID(appConfig.Backend.UserID); err != nil {
		log.Printf("Failed to set vendor user id: %v", err)
	}

	// Initialize the backend sync client
	backendClient := backend.NewClient(appConfig.Backend.BaseURL)

	// Wake locks and geofence notifications
	wakeManager := wakelock.NewManager(wakelock.NewUnsupportedPlatform())
	dispatcher := geofence.NewDispatcher(geofence.LogNotifier{})

	controller := trip.NewController(trip.Config{
		UserID:         appConfig.Backend.UserID,
		SampleInterval: appConfig.Trip.SampleInterval,
		AckTimeout:     appConfig.Trip.AckTimeout,
		RefreshTTL:     appConfig.Trip.RefreshTTL,
	}, adapter, backendClient, wakeManager, dispatcher, cacheInstance)

	log.Printf("Trip engine starting (user: %s)", appConfig.Backend.UserID)

	handlers := newHandlers(controller)

	// Create Prefab server. Server configuration (port, etc.) is loaded
	// from prefab.yaml/env vars.
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/engine/v1/trip", handlers.trip),
		prefab.WithHTTPHandlerFunc("/engine/v1/trip/start", handlers.startTrip),
		prefab.WithHTTPHandlerFunc("/engine/v1/trip/destination", handlers.changeDestination),
		prefab.WithHTTPHandlerFunc("/engine/v1/trip/complete", handlers.completeTrip),
		prefab.WithHTTPHandlerFunc("/engine/v1/trip/new", handlers.startNewJourney),
		prefab.WithHTTPHandlerFunc("/engine/v1/trip/track.geojson", handlers.trackGeoJSON),
		prefab.WithHTTPHandlerFunc("/engine/v1/location/refresh", handlers.refreshLocation),
		prefab.WithHTTPHandlerFunc("/engine/v1/visibility", handlers.visibility),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		controller.Teardown(ctx)
		log.Fatalf("Server failed: %v", err)
	}

	controller.Teardown(ctx)
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix
func loadConfig() *config.Config {
	appConfig := &config.Config{}

	if err := prefab.Config.Unmarshal("sdk", &appConfig.SDK); err != nil {
		log.Fatalf("Failed to unmarshal sdk section: %v", err)
	}
	if err := prefab.Config.Unmarshal("backend", &appConfig.Backend); err != nil {
		log.Fatalf("Failed to unmarshal backend section: %v", err)
	}
	if err := prefab.Config.Unmarshal("trip", &appConfig.Trip); err != nil {
		log.Fatalf("Failed to unmarshal trip section: %v", err)
	}
	if err := prefab.Config.Unmarshal("cache", &appConfig.Cache); err != nil {
		log.Fatalf("Failed to unmarshal cache section: %v", err)
	}

	appConfig.Merge(config.DefaultConfig())
	return appConfig
}
