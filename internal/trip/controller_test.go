package trip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforce/tripd/internal/cache"
	"github.com/fieldforce/tripd/internal/clients/backend"
	"github.com/fieldforce/tripd/internal/geofence"
	"github.com/fieldforce/tripd/internal/sdk"
	"github.com/fieldforce/tripd/internal/wakelock"
)

// fakeSDK is a scriptable SDKClient.
type fakeSDK struct {
	mu           sync.Mutex
	location     sdk.Location
	locationErr  error
	trackResult  sdk.TrackResult
	trackErr     error
	tripID       string
	startErr     error
	updateErr    error
	completeErr  error
	startCalls   int
	updateCalls  int
	completeCall int
}

func (f *fakeSDK) GetCurrentLocation(ctx context.Context) (sdk.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, f.locationErr
}

func (f *fakeSDK) TrackOnce(ctx context.Context) (sdk.TrackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return sdk.TrackResult{}, f.trackErr
	}
	return f.trackResult, nil
}

func (f *fakeSDK) StartTrip(ctx context.Context, opts sdk.TripOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.tripID, f.startErr
}

func (f *fakeSDK) UpdateTrip(ctx context.Context, opts sdk.TripOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateErr
}

func (f *fakeSDK) CompleteTrip(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCall++
	return f.completeErr
}

// fakeBackend is a scriptable BackendClient that records calls.
type fakeBackend struct {
	mu            sync.Mutex
	startResult   backend.StartTripResult
	startErr      error
	updateErr     error
	finishErr     error
	tripSnapshot  backend.TripSnapshot
	tripErr       error
	route         backend.Route
	routeErr      error
	startParams   []backend.StartTripParams
	updateJourney []string
	updateDealer  []string
	finishJourney []string
}

func (f *fakeBackend) StartTrip(ctx context.Context, params backend.StartTripParams) (backend.StartTripResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startParams = append(f.startParams, params)
	if f.startErr != nil {
		return backend.StartTripResult{}, f.startErr
	}
	return f.startResult, nil
}

func (f *fakeBackend) UpdateTrip(ctx context.Context, journeyID, destinationGeofenceExternalID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateJourney = append(f.updateJourney, journeyID)
	f.updateDealer = append(f.updateDealer, destinationGeofenceExternalID)
	return f.updateErr
}

func (f *fakeBackend) FinishTrip(ctx context.Context, journeyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishJourney = append(f.finishJourney, journeyID)
	return f.finishErr
}

func (f *fakeBackend) GetTrip(ctx context.Context, journeyID string) (backend.TripSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tripSnapshot, f.tripErr
}

func (f *fakeBackend) GetRoute(ctx context.Context, journeyID string) (backend.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.route, f.routeErr
}

// heldPlatform is a wake-lock platform that always grants.
type heldPlatform struct {
	mu       sync.Mutex
	acquires int
	releases int
}

type heldHandle struct {
	platform *heldPlatform
}

func (h *heldHandle) Release() error {
	h.platform.mu.Lock()
	defer h.platform.mu.Unlock()
	h.platform.releases++
	return nil
}

func (h *heldHandle) OnRelease(func()) {}

func (p *heldPlatform) Acquire(ctx context.Context) (wakelock.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	return &heldHandle{platform: p}, nil
}

func (p *heldPlatform) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

// testContext carries a logger, which the logging helpers require.
func testContext() context.Context {
	return logging.EnsureLogger(context.Background())
}

type testRig struct {
	controller *Controller
	sdk        *fakeSDK
	backend    *fakeBackend
	platform   *heldPlatform
	wake       *wakelock.Manager
	cache      *cache.Cache
}

func newTestRig() *testRig {
	fakeSDKClient := &fakeSDK{
		location: sdk.Location{Latitude: 19.0760, Longitude: 72.8777},
		trackResult: sdk.TrackResult{
			Location: sdk.Location{Latitude: 19.0761, Longitude: 72.8778},
			User:     sdk.User{ID: "agent-7"},
		},
	}
	fakeBackendClient := &fakeBackend{
		startResult: backend.StartTripResult{JourneyID: "J1", DBJourneyID: "db-1"},
	}
	platform := &heldPlatform{}
	wake := wakelock.NewManager(platform)
	cacheInstance := cache.New()

	controller := NewController(Config{
		UserID:         "agent-7",
		SampleInterval: time.Hour,
		AckTimeout:     100 * time.Millisecond,
	}, fakeSDKClient, fakeBackendClient, wake, geofence.NewDispatcher(), cacheInstance)

	return &testRig{
		controller: controller,
		sdk:        fakeSDKClient,
		backend:    fakeBackendClient,
		platform:   platform,
		wake:       wake,
		cache:      cacheInstance,
	}
}

func (r *testRig) startActiveTrip(t *testing.T, dealer Dealer) {
	t.Helper()
	r.controller.SetCurrentLocation(sdk.Location{Latitude: 19.0760, Longitude: 72.8777})
	require.NoError(t, r.controller.StartTrip(testContext(), dealer))
	require.Equal(t, StatusActive, r.controller.Status())
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

var primeMotors = Dealer{ID: "dealer-42", Name: "Prime Motors"}

func TestStartTrip_VendorIDWins(t *testing.T) {
	rig := newTestRig()
	rig.sdk.tripID = "trip-abc"

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Trip)
	assert.Equal(t, "trip-abc", snapshot.Trip.JourneyID)
	assert.Equal(t, "trip-abc", snapshot.Trip.SDKTripID)
	assert.Equal(t, "db-1", snapshot.Trip.BackendTripID)
	assert.Equal(t, primeMotors, snapshot.Trip.Dealer)

	// The vendor id travels to the backend
	require.Len(t, rig.backend.startParams, 1)
	assert.Equal(t, "trip-abc", rig.backend.startParams[0].SDKTripID)
	assert.Equal(t, "dealer-42", rig.backend.startParams[0].DealerID)
}

func TestStartTrip_VendorRejectionFallsBackToBackendID(t *testing.T) {
	rig := newTestRig()
	rig.sdk.startErr = errors.New("trips not on this plan")

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Trip)
	assert.Equal(t, "J1", snapshot.Trip.JourneyID)
	assert.Empty(t, snapshot.Trip.SDKTripID)

	// Backend still got the start, with a blank vendor id
	require.Len(t, rig.backend.startParams, 1)
	assert.Empty(t, rig.backend.startParams[0].SDKTripID)
}

func TestStartTrip_AllIDsAbsentUsesExternalID(t *testing.T) {
	rig := newTestRig()
	rig.sdk.startErr = errors.New("unavailable")
	rig.backend.startResult = backend.StartTripResult{}

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Trip)
	assert.NotEmpty(t, snapshot.Trip.JourneyID)
	assert.Equal(t, snapshot.Trip.ExternalID, snapshot.Trip.JourneyID)
}

func TestStartTrip_Preconditions(t *testing.T) {
	rig := newTestRig()
	ctx := testContext()

	// No current location yet
	err := rig.controller.StartTrip(ctx, primeMotors)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))

	// No destination
	rig.controller.SetCurrentLocation(sdk.Location{Latitude: 19, Longitude: 72})
	err = rig.controller.StartTrip(ctx, Dealer{})
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))

	// Already active
	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(ctx)
	err = rig.controller.StartTrip(ctx, primeMotors)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
}

func TestStartTrip_CompletedRequiresNewJourney(t *testing.T) {
	rig := newTestRig()
	rig.startActiveTrip(t, primeMotors)
	require.NoError(t, rig.controller.CompleteTrip(testContext()))
	finished := rig.controller.Snapshot().Trip

	// No direct Completed to Active transition; the finished journey must
	// be cleared first
	err := rig.controller.StartTrip(testContext(), Dealer{ID: "dealer-99"})
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, StatusCompleted, rig.controller.Status())
	assert.Equal(t, finished.JourneyID, rig.controller.Snapshot().Trip.JourneyID)

	require.NoError(t, rig.controller.StartNewJourney())
	rig.startActiveTrip(t, Dealer{ID: "dealer-99"})
	defer rig.controller.Teardown(testContext())
}

func TestStartTrip_BackendFailureStaysIdle(t *testing.T) {
	rig := newTestRig()
	rig.backend.startErr = &backend.SyncError{StatusCode: 500, Message: "boom"}

	rig.controller.SetCurrentLocation(sdk.Location{Latitude: 19, Longitude: 72})
	err := rig.controller.StartTrip(testContext(), primeMotors)
	require.Error(t, err)
	assert.True(t, backend.IsSyncError(err))

	assert.Equal(t, StatusIdle, rig.controller.Status())
	assert.False(t, rig.wake.Held(), "wake lock released after a failed start")

	snapshot := rig.controller.Snapshot()
	assert.Nil(t, snapshot.Trip)
	assert.NotEmpty(t, snapshot.LastError)
}

func TestStartTrip_AccumulatesPolyline(t *testing.T) {
	rig := newTestRig()

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	// The immediate sample lands one point and the travelled figure updates
	waitFor(t, func() bool { return len(rig.controller.Snapshot().Points) == 1 })

	snapshot := rig.controller.Snapshot()
	assert.Equal(t, 19.0761, snapshot.Points[0].Latitude)
	require.NotNil(t, snapshot.CurrentLocation)
	assert.Equal(t, 19.0761, snapshot.CurrentLocation.Latitude)
}

func TestChangeDestination_PreservesPolyline(t *testing.T) {
	rig := newTestRig()
	rig.sdk.tripID = "trip-abc"

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())
	waitFor(t, func() bool { return len(rig.controller.Snapshot().Points) == 1 })

	nextDealer := Dealer{ID: "dealer-99", Name: "Skyline Autos"}
	require.NoError(t, rig.controller.ChangeDestination(testContext(), nextDealer))

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Trip)
	assert.Equal(t, nextDealer, snapshot.Trip.Dealer)
	assert.Equal(t, "trip-abc", snapshot.Trip.JourneyID, "journey id survives destination changes")
	assert.Nil(t, snapshot.Route, "forward route estimate resets")
	assert.Len(t, snapshot.Points, 1, "travelled polyline is preserved")

	// Backend patched under the same journey id
	require.Len(t, rig.backend.updateJourney, 1)
	assert.Equal(t, "trip-abc", rig.backend.updateJourney[0])
	assert.Equal(t, "dealer-99", rig.backend.updateDealer[0])
}

func TestChangeDestination_BackendFailureKeepsDealer(t *testing.T) {
	rig := newTestRig()
	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	rig.backend.mu.Lock()
	rig.backend.updateErr = &backend.SyncError{StatusCode: 500, Message: "boom"}
	rig.backend.mu.Unlock()

	err := rig.controller.ChangeDestination(testContext(), Dealer{ID: "dealer-99"})
	require.Error(t, err)

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Trip)
	assert.Equal(t, primeMotors, snapshot.Trip.Dealer, "failed change keeps the old destination")
	assert.NotEmpty(t, snapshot.LastError)
}

func TestChangeDestination_RequiresActiveTrip(t *testing.T) {
	rig := newTestRig()

	err := rig.controller.ChangeDestination(testContext(), primeMotors)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
}

func TestCompleteTrip_HappyPath(t *testing.T) {
	rig := newTestRig()
	rig.sdk.tripID = "trip-abc"

	rig.startActiveTrip(t, primeMotors)
	require.True(t, rig.wake.Held())

	require.NoError(t, rig.controller.CompleteTrip(testContext()))

	assert.Equal(t, StatusCompleted, rig.controller.Status())
	assert.False(t, rig.wake.Held())
	require.Len(t, rig.backend.finishJourney, 1)
	assert.Equal(t, "trip-abc", rig.backend.finishJourney[0])

	rig.sdk.mu.Lock()
	assert.Equal(t, 1, rig.sdk.completeCall)
	rig.sdk.mu.Unlock()
}

func TestCompleteTrip_BackendFailureStaysActive(t *testing.T) {
	rig := newTestRig()
	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	rig.backend.mu.Lock()
	rig.backend.finishErr = &backend.SyncError{StatusCode: 503, Message: "down"}
	rig.backend.mu.Unlock()

	err := rig.controller.CompleteTrip(testContext())
	require.Error(t, err)

	assert.Equal(t, StatusActive, rig.controller.Status(), "failed finish leaves the trip active for retry")
	assert.NotEmpty(t, rig.controller.Snapshot().LastError)
}

func TestCompleteTrip_VendorFailureIsNonFatal(t *testing.T) {
	rig := newTestRig()
	rig.sdk.completeErr = errors.New("vendor down")

	rig.startActiveTrip(t, primeMotors)

	require.NoError(t, rig.controller.CompleteTrip(testContext()))
	assert.Equal(t, StatusCompleted, rig.controller.Status())
}

func TestCompleteTrip_RequiresActiveTrip(t *testing.T) {
	rig := newTestRig()

	err := rig.controller.CompleteTrip(testContext())
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
}

func TestStartNewJourney_ClearsState(t *testing.T) {
	rig := newTestRig()
	rig.startActiveTrip(t, primeMotors)
	require.NoError(t, rig.controller.CompleteTrip(testContext()))

	require.NoError(t, rig.controller.StartNewJourney())

	assert.Equal(t, StatusIdle, rig.controller.Status())
	snapshot := rig.controller.Snapshot()
	assert.Nil(t, snapshot.Trip)
	assert.Nil(t, snapshot.Route)
	assert.Zero(t, snapshot.TravelledMeters)
	assert.Empty(t, snapshot.LastError)
	assert.Zero(t, rig.cache.Stats().TotalEntries, "cached figures belong to the cleared journey")
}

func TestStartNewJourney_RequiresCompleted(t *testing.T) {
	rig := newTestRig()

	err := rig.controller.StartNewJourney()
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())
	err = rig.controller.StartNewJourney()
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
}

func TestFullLifecycle_BackToBackJourneys(t *testing.T) {
	rig := newTestRig()
	ctx := testContext()

	rig.startActiveTrip(t, primeMotors)
	require.NoError(t, rig.controller.CompleteTrip(ctx))
	require.NoError(t, rig.controller.StartNewJourney())

	// Second journey starts clean
	rig.startActiveTrip(t, Dealer{ID: "dealer-99"})
	defer rig.controller.Teardown(ctx)
	require.Len(t, rig.backend.startParams, 2)
}

func TestSampleError_SurfacesUserMessage(t *testing.T) {
	rig := newTestRig()
	rig.sdk.mu.Lock()
	rig.sdk.trackErr = sdk.NewError(sdk.CodeLocationUnavailable, "no signal")
	rig.sdk.mu.Unlock()

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	waitFor(t, func() bool { return rig.controller.Snapshot().LastError != "" })
	assert.Contains(t, rig.controller.Snapshot().LastError, "location")
	assert.Equal(t, StatusActive, rig.controller.Status(), "sampling errors never abort the trip")
}

func TestRefreshes_ApplyBackendFigures(t *testing.T) {
	rig := newTestRig()
	rig.backend.mu.Lock()
	rig.backend.tripSnapshot = backend.TripSnapshot{DistanceMeters: 5400, DurationMinutes: 22}
	rig.backend.route = backend.Route{DistanceMeters: 9000, DurationMinutes: 35}
	rig.backend.mu.Unlock()

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	waitFor(t, func() bool {
		snapshot := rig.controller.Snapshot()
		return snapshot.Trip != nil && snapshot.Trip.DistanceMeters == 5400 && snapshot.Route != nil
	})

	snapshot := rig.controller.Snapshot()
	assert.Equal(t, 22.0, snapshot.Trip.DurationMinutes)
	assert.Equal(t, 9000.0, snapshot.Route.DistanceMeters)
	assert.Positive(t, snapshot.CacheStats.TotalEntries)
}

func TestSnapshot_FallsBackToCachedFigures(t *testing.T) {
	rig := newTestRig()
	rig.sdk.tripID = "trip-abc"

	// A previous engine instance left figures behind; live refreshes fail
	require.NoError(t, rig.cache.SetRoute("trip-abc", backend.Route{
		DistanceMeters:  9000,
		DurationMinutes: 35,
	}, time.Minute))
	require.NoError(t, rig.cache.SetTripSnapshot("trip-abc", backend.TripSnapshot{
		DistanceMeters:  5400,
		DurationMinutes: 22,
	}, time.Minute))
	rig.backend.routeErr = errors.New("route endpoint down")
	rig.backend.tripErr = errors.New("trip endpoint down")

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Route)
	assert.Equal(t, 9000.0, snapshot.Route.DistanceMeters)
	require.NotNil(t, snapshot.Trip)
	assert.Equal(t, 5400.0, snapshot.Trip.DistanceMeters)
	assert.Equal(t, 22.0, snapshot.Trip.DurationMinutes)
}

func TestRefreshCurrentLocation(t *testing.T) {
	rig := newTestRig()

	location, err := rig.controller.RefreshCurrentLocation(testContext())
	require.NoError(t, err)
	assert.Equal(t, 19.0760, location.Latitude)

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.CurrentLocation)
	assert.Equal(t, 19.0760, snapshot.CurrentLocation.Latitude)
}

func TestRefreshCurrentLocation_Error(t *testing.T) {
	rig := newTestRig()
	rig.sdk.locationErr = sdk.NewError(sdk.CodeTimeout, "slow fix")

	_, err := rig.controller.RefreshCurrentLocation(testContext())
	require.Error(t, err)
	assert.NotEmpty(t, rig.controller.Snapshot().LastError)
}

func TestTeardown_Idempotent(t *testing.T) {
	rig := newTestRig()
	rig.startActiveTrip(t, primeMotors)

	rig.controller.Teardown(testContext())
	assert.NotPanics(t, func() { rig.controller.Teardown(testContext()) })
	assert.False(t, rig.wake.Held())
}

func TestHandleVisibilityChange_ReacquiresOnlyMidTrip(t *testing.T) {
	rig := newTestRig()
	ctx := testContext()

	// Idle: visibility changes never touch the platform
	rig.controller.HandleVisibilityChange(ctx, true)
	assert.False(t, rig.wake.Held())

	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(ctx)
	rig.wake.Release()

	rig.controller.HandleVisibilityChange(ctx, true)
	assert.True(t, rig.wake.Held())
}

func TestSnapshot_DefensiveCopies(t *testing.T) {
	rig := newTestRig()
	rig.startActiveTrip(t, primeMotors)
	defer rig.controller.Teardown(testContext())

	snapshot := rig.controller.Snapshot()
	require.NotNil(t, snapshot.Trip)
	snapshot.Trip.JourneyID = "tampered"

	assert.NotEqual(t, "tampered", rig.controller.Snapshot().Trip.JourneyID)
}
