package trip

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/fieldforce/tripd/internal/cache"
	"github.com/fieldforce/tripd/internal/clients/backend"
	"github.com/fieldforce/tripd/internal/geofence"
	"github.com/fieldforce/tripd/internal/lib/geo"
	"github.com/fieldforce/tripd/internal/sampler"
	"github.com/fieldforce/tripd/internal/sdk"
	"github.com/fieldforce/tripd/internal/wakelock"
)

// BackendClient is the REST surface the controller syncs the trip record
// against.
type BackendClient interface {
	StartTrip(ctx context.Context, params backend.StartTripParams) (backend.StartTripResult, error)
	UpdateTrip(ctx context.Context, journeyID, destinationGeofenceExternalID, status string) error
	FinishTrip(ctx context.Context, journeyID string) error
	GetTrip(ctx context.Context, journeyID string) (backend.TripSnapshot, error)
	GetRoute(ctx context.Context, journeyID string) (backend.Route, error)
}

// SDKClient is the slice of the location adapter the controller needs. The
// vendor trip lifecycle is decoupled from the backend one: every trip
// operation here is best-effort.
type SDKClient interface {
	GetCurrentLocation(ctx context.Context) (sdk.Location, error)
	TrackOnce(ctx context.Context) (sdk.TrackResult, error)
	StartTrip(ctx context.Context, opts sdk.TripOptions) (string, error)
	UpdateTrip(ctx context.Context, opts sdk.TripOptions) error
	CompleteTrip(ctx context.Context) error
}

// Config holds controller tunables.
type Config struct {
	// UserID identifies the field agent on the backend.
	UserID string
	// SampleInterval spaces the sampling loop. Defaults to 8 seconds.
	SampleInterval time.Duration
	// AckTimeout is the soft window the controller waits for vendor trip
	// acknowledgments: start, destination change and completion. Defaults
	// to 8 seconds; a late ack is ignored, not cancelled.
	AckTimeout time.Duration
	// RefreshTTL is how long cached route/trip snapshots stay fresh.
	// Defaults to 30 seconds.
	RefreshTTL time.Duration
}

func (c Config) ackTimeout() time.Duration {
	if c.AckTimeout > 0 {
		return c.AckTimeout
	}
	return 8 * time.Second
}

func (c Config) refreshTTL() time.Duration {
	if c.RefreshTTL > 0 {
		return c.RefreshTTL
	}
	return 30 * time.Second
}

// Controller is the trip lifecycle state machine: Idle, Active, Completed.
// It is the single writer of the Trip aggregate; the sampler and the
// dispatcher reach it only through the controller's callbacks.
type Controller struct {
	cfg        Config
	sdkClient  SDKClient
	backend    BackendClient
	wake       *wakelock.Manager
	dispatcher *geofence.Dispatcher
	cache      *cache.Cache
	sampler    *sampler.Sampler
	geoUtils   geo.GeoUtils

	// opMu serializes lifecycle operations; mu guards the state fields
	// below and is never held across sampler or network calls.
	opMu sync.Mutex
	mu   sync.Mutex

	trip      *Trip
	current   *sdk.Location
	route     *RouteEstimate
	travelled float64
	lastError string
}

// NewController wires the engine together.
func NewController(cfg Config, sdkClient SDKClient, backendClient BackendClient,
	wake *wakelock.Manager, dispatcher *geofence.Dispatcher, c *cache.Cache) *Controller {

	controller := &Controller{
		cfg:        cfg,
		sdkClient:  sdkClient,
		backend:    backendClient,
		wake:       wake,
		dispatcher: dispatcher,
		cache:      c,
		geoUtils:   geo.NewGeoUtils(),
	}

	controller.sampler = sampler.New(sdkClient, cfg.SampleInterval, sampler.Callbacks{
		OnLocationUpdate: controller.onLocationUpdate,
		OnPolylineUpdate: controller.onPolylineUpdate,
		OnError:          controller.onSampleError,
	})

	return controller
}

// Status reports the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	if c.trip == nil {
		return StatusIdle
	}
	return c.trip.Status
}

// SetCurrentLocation records a UI-supplied last-known location.
func (c *Controller) SetCurrentLocation(location sdk.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &location
}

// RefreshCurrentLocation reads a fresh fix through the adapter.
func (c *Controller) RefreshCurrentLocation(ctx context.Context) (sdk.Location, error) {
	location, err := c.sdkClient.GetCurrentLocation(ctx)
	if err != nil {
		c.setLastError(sdk.UserMessage(err))
		return sdk.Location{}, err
	}

	c.mu.Lock()
	c.current = &location
	c.mu.Unlock()
	return location, nil
}

// StartTrip transitions Idle to Active. It requires a destination and a
// last-known current location; without both it fails with a
// PreconditionError and stays Idle. The vendor trip start is best-effort
// with a soft acknowledgment window; the backend start is authoritative
// and a failure there keeps the controller Idle.
func (c *Controller) StartTrip(ctx context.Context, dealer Dealer) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.statusLocked() {
	case StatusActive:
		c.mu.Unlock()
		return &PreconditionError{Reason: "a trip is already active"}
	case StatusCompleted:
		// A new trip only begins from Idle; StartNewJourney clears the
		// finished one first.
		c.mu.Unlock()
		return &PreconditionError{Reason: "finished journey must be cleared first"}
	}
	if dealer.ID == "" {
		c.mu.Unlock()
		return &PreconditionError{Reason: "no destination selected"}
	}
	if c.current == nil {
		c.mu.Unlock()
		return &PreconditionError{Reason: "current location unknown"}
	}
	current := *c.current
	c.mu.Unlock()

	if _, err := c.wake.Acquire(ctx); err != nil {
		// The lock is ancillary; tracking continues without it.
		logging.Warnw(ctx, "Wake lock acquire failed", "error", err)
	}

	externalID := uuid.NewString()

	// Soft window on the vendor acknowledgment only; a late ack is ignored.
	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.ackTimeout())
	sdkTripID, err := c.sdkClient.StartTrip(ackCtx, sdk.TripOptions{
		ExternalID:                    externalID,
		DestinationGeofenceExternalID: dealer.ID,
		Mode:                          "car",
	})
	cancel()
	if err != nil {
		logging.Warnw(ctx, "Vendor trip start failed, falling back to backend-only tracking", "error", err)
		sdkTripID = ""
	}

	result, err := c.backend.StartTrip(ctx, backend.StartTripParams{
		UserID:     c.cfg.UserID,
		DealerID:   dealer.ID,
		Latitude:   current.Latitude,
		Longitude:  current.Longitude,
		SDKTripID:  sdkTripID,
		ExternalID: externalID,
	})
	if err != nil {
		c.wake.Release()
		c.setLastError("Could not start the journey. Please try again.")
		return err
	}

	// Canonical journey id, fixed for the lifetime of the trip: the vendor
	// trip id when present, else the backend-assigned id, else the locally
	// generated externalId.
	journeyID := sdkTripID
	if journeyID == "" {
		journeyID = result.JourneyID
	}
	if journeyID == "" {
		journeyID = externalID
	}

	backendTripID := result.DBJourneyID
	if backendTripID == "" {
		backendTripID = result.JourneyID
	}

	c.mu.Lock()
	c.trip = &Trip{
		JourneyID:     journeyID,
		ExternalID:    externalID,
		Dealer:        dealer,
		Status:        StatusActive,
		SDKTripID:     sdkTripID,
		BackendTripID: backendTripID,
		StartedAt:     time.Now(),
	}
	c.route = nil
	c.travelled = 0
	c.lastError = ""
	c.mu.Unlock()

	c.sampler.Start(context.WithoutCancel(ctx))

	logging.Infow(ctx, "Trip started",
		"journey_id", journeyID,
		"dealer_id", dealer.ID,
		"sdk_trip", sdkTripID != "")
	return nil
}

// ChangeDestination swaps the destination mid-trip. On success the Trip's
// dealer is replaced and the forward route estimate resets; the polyline's
// historical points are preserved (a new leg begins on the same journey).
func (c *Controller) ChangeDestination(ctx context.Context, dealer Dealer) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.statusLocked() != StatusActive {
		c.mu.Unlock()
		return &PreconditionError{Reason: "no active trip"}
	}
	if dealer.ID == "" {
		c.mu.Unlock()
		return &PreconditionError{Reason: "no destination selected"}
	}
	journeyID := c.trip.JourneyID
	externalID := c.trip.ExternalID
	c.mu.Unlock()

	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.ackTimeout())
	if err := c.sdkClient.UpdateTrip(ackCtx, sdk.TripOptions{
		ExternalID:                    externalID,
		DestinationGeofenceExternalID: dealer.ID,
	}); err != nil {
		logging.Warnw(ctx, "Vendor trip update failed", "error", err)
	}
	cancel()

	if err := c.backend.UpdateTrip(ctx, journeyID, dealer.ID, "started"); err != nil {
		c.setLastError("Could not change the destination. Please try again.")
		return err
	}

	c.mu.Lock()
	c.trip.Dealer = dealer
	c.route = nil
	c.mu.Unlock()

	c.cache.Delete("route:" + journeyID)

	logging.Infow(ctx, "Destination changed", "journey_id", journeyID, "dealer_id", dealer.ID)
	return nil
}

// CompleteTrip transitions Active to Completed. The wake lock is released
// first so the screen can sleep even if the backend call is slow, then the
// sampler stops, then the backend finish runs. A backend failure keeps the
// controller Active; the vendor-side completion is best-effort afterwards.
func (c *Controller) CompleteTrip(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.statusLocked() != StatusActive {
		c.mu.Unlock()
		return &PreconditionError{Reason: "no active trip"}
	}
	journeyID := c.trip.JourneyID
	c.mu.Unlock()

	c.wake.Release()
	c.sampler.Stop()

	if err := c.backend.FinishTrip(ctx, journeyID); err != nil {
		c.setLastError("Could not finish the journey. Please try again.")
		return err
	}

	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.ackTimeout())
	if err := c.sdkClient.CompleteTrip(ackCtx); err != nil {
		logging.Warnw(ctx, "Vendor trip completion failed", "error", err)
	}
	cancel()

	c.mu.Lock()
	c.trip.Status = StatusCompleted
	c.lastError = ""
	c.mu.Unlock()

	logging.Infow(ctx, "Trip completed", "journey_id", journeyID)
	return nil
}

// StartNewJourney clears all trip state from Completed and returns the
// controller to Idle, ready for a new destination selection.
func (c *Controller) StartNewJourney() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.statusLocked() != StatusCompleted {
		c.mu.Unlock()
		return &PreconditionError{Reason: "no completed trip to clear"}
	}
	c.trip = nil
	c.route = nil
	c.travelled = 0
	c.lastError = ""
	c.mu.Unlock()

	// One journey at a time; everything cached belongs to the finished one.
	c.cache.Clear()
	return nil
}

// Teardown is the best-effort cleanup for page unload or shutdown: release
// the wake lock, then stop the sampler. Idempotent; it may race a
// user-initiated complete.
func (c *Controller) Teardown(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.wake.Release()
	c.sampler.Stop()
	logging.Infow(ctx, "Engine torn down")
}

// Snapshot returns the UI-facing view of engine state.
func (c *Controller) Snapshot() Snapshot {
	export := c.sampler.Export()

	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		Status:          c.statusLocked(),
		Polyline:        export.Polyline,
		Points:          export.Points,
		TravelledMeters: c.travelled,
		LastError:       c.lastError,
		CacheStats:      c.cache.Stats(),
	}
	if c.trip != nil {
		tripCopy := *c.trip
		// A fresh engine instance (or a not-yet-applied refresh) has no
		// figures in memory; fall back to the cached copies.
		if tripCopy.Status == StatusActive && tripCopy.DistanceMeters == 0 && tripCopy.DurationMinutes == 0 {
			var cached backend.TripSnapshot
			if found, err := c.cache.GetTripSnapshot(tripCopy.JourneyID, &cached); err == nil && found {
				tripCopy.DistanceMeters = cached.DistanceMeters
				tripCopy.DurationMinutes = cached.DurationMinutes
			}
		}
		snapshot.Trip = &tripCopy
	}
	if c.current != nil {
		locationCopy := *c.current
		snapshot.CurrentLocation = &locationCopy
	}
	switch {
	case c.route != nil:
		routeCopy := *c.route
		routeCopy.Points = make([]geo.Point, len(c.route.Points))
		copy(routeCopy.Points, c.route.Points)
		snapshot.Route = &routeCopy
	case c.trip != nil && c.trip.Status == StatusActive:
		var cached backend.Route
		if found, err := c.cache.GetRoute(c.trip.JourneyID, &cached); err == nil && found {
			snapshot.Route = &RouteEstimate{
				DistanceMeters:  cached.DistanceMeters,
				DurationMinutes: cached.DurationMinutes,
				Points:          cached.Points,
			}
		}
	}
	return snapshot
}

// onLocationUpdate is the sampler's per-sample callback: update the live
// location, hand the event delta to the dispatcher, and kick off the
// non-blocking backend refreshes.
func (c *Controller) onLocationUpdate(ctx context.Context, location sdk.Location, user sdk.User, events []sdk.Event) {
	c.mu.Lock()
	c.current = &location
	var journeyID string
	active := c.statusLocked() == StatusActive
	if active {
		journeyID = c.trip.JourneyID
	}
	c.mu.Unlock()

	c.dispatcher.Dispatch(ctx, events)

	if active {
		refreshCtx := context.WithoutCancel(ctx)
		go c.refreshRoute(refreshCtx, journeyID)
		go c.refreshTripSnapshot(refreshCtx, journeyID)
	}
}

// onPolylineUpdate recomputes the locally travelled distance. It is the
// fallback figure shown while the backend's computed values lag.
func (c *Controller) onPolylineUpdate(ctx context.Context, polyline geo.Polyline, points []geo.Point) {
	travelled, err := c.geoUtils.PathLength(points)
	if err != nil {
		logging.Warnw(ctx, "Travelled distance computation failed", "error", err)
		return
	}

	c.mu.Lock()
	c.travelled = travelled
	c.mu.Unlock()
}

// onSampleError surfaces a classified, human-readable message. The loop
// itself continues; temporary signal loss must not abort tracking.
func (c *Controller) onSampleError(ctx context.Context, err error) {
	logging.Warnw(ctx, "Track sample failed", "error", err)
	c.setLastError(sdk.UserMessage(err))
}

// refreshRoute fetches the backend's computed route. Failures are silent
// (logged only): this is a best-effort refresh, retried with a short
// bounded backoff.
func (c *Controller) refreshRoute(ctx context.Context, journeyID string) {
	if !c.cache.IsStale("route:" + journeyID) {
		return
	}

	var route backend.Route
	operation := func() error {
		var err error
		route, err = c.backend.GetRoute(ctx, journeyID)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		logging.Warnw(ctx, "Route refresh failed", "journey_id", journeyID, "error", err)
		return
	}

	// Apply and cache only if this journey is still the active one; a
	// stale refresh must not resurrect state for a finished or replaced
	// trip.
	c.mu.Lock()
	current := c.trip != nil && c.trip.JourneyID == journeyID && c.trip.Status == StatusActive
	if current {
		c.route = &RouteEstimate{
			DistanceMeters:  route.DistanceMeters,
			DurationMinutes: route.DurationMinutes,
			Points:          route.Points,
		}
	}
	c.mu.Unlock()
	if !current {
		return
	}

	if err := c.cache.SetRoute(journeyID, route, c.cfg.refreshTTL()); err != nil {
		logging.Warnw(ctx, "Route cache write failed", "error", err)
	}
}

// refreshTripSnapshot fetches the backend's cached trip figures for
// reconciliation. Same best-effort semantics as refreshRoute.
func (c *Controller) refreshTripSnapshot(ctx context.Context, journeyID string) {
	if !c.cache.IsStale("trip_snapshot:" + journeyID) {
		return
	}

	var snapshot backend.TripSnapshot
	operation := func() error {
		var err error
		snapshot, err = c.backend.GetTrip(ctx, journeyID)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		logging.Warnw(ctx, "Trip snapshot refresh failed", "journey_id", journeyID, "error", err)
		return
	}

	c.mu.Lock()
	current := c.trip != nil && c.trip.JourneyID == journeyID && c.trip.Status == StatusActive
	if current {
		c.trip.DistanceMeters = snapshot.DistanceMeters
		c.trip.DurationMinutes = snapshot.DurationMinutes
	}
	c.mu.Unlock()
	if !current {
		return
	}

	if err := c.cache.SetTripSnapshot(journeyID, snapshot, c.cfg.refreshTTL()); err != nil {
		logging.Warnw(ctx, "Trip snapshot cache write failed", "error", err)
	}
}

// setLastError records the most recent user-facing diagnostic.
func (c *Controller) setLastError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = message
}

// HandleVisibilityChange forwards app visibility transitions to the wake
// lock manager, which re-acquires only while a trip is active.
func (c *Controller) HandleVisibilityChange(ctx context.Context, visible bool) {
	c.wake.HandleVisibilityChange(ctx, visible, c.Status() == StatusActive)
}
