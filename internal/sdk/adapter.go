package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
)

// Adapter hides the driver's callback style behind context-aware methods
// and provides a single error-classification surface for the engine.
type Adapter struct {
	driver Driver

	mu          sync.Mutex
	initialized bool
	opts        Options
}

// NewAdapter creates an adapter around the given driver. Initialize must be
// called before any other method.
func NewAdapter(driver Driver) *Adapter {
	return &Adapter{driver: driver}
}

// Initialize prepares the driver. Idempotent: a second call is a no-op with
// a logged warning, not an error.
func (a *Adapter) Initialize(ctx context.Context, key string, opts Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		logging.Warnw(ctx, "SDK adapter already initialized, ignoring repeat call")
		return nil
	}

	if key == "" {
		return NewError(CodeConfigurationError, "missing publishable key")
	}

	opts = opts.withDefaults()
	if err := a.driver.Initialize(key, opts); err != nil {
		return Classify(err, CodeConfigurationError, "driver initialization failed")
	}

	a.opts = opts
	a.initialized = true
	return nil
}

// requireInitialized gates every post-initialization call.
func (a *Adapter) requireInitialized() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return NewError(CodeNotInitialized, "adapter used before initialize")
	}
	return nil
}

// timeout returns the configured per-call timeout.
func (a *Adapter) timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opts.Timeout > 0 {
		return a.opts.Timeout
	}
	return 30 * time.Second
}

// GetCurrentLocation resolves a single fix.
func (a *Adapter) GetCurrentLocation(ctx context.Context) (Location, error) {
	if err := a.requireInitialized(); err != nil {
		return Location{}, err
	}

	type outcome struct {
		location Location
		err      error
	}
	done := make(chan outcome, 1)
	a.driver.GetLocation(func(location Location, err error) {
		done <- outcome{location: location, err: err}
	})

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	select {
	case out := <-done:
		if out.err != nil {
			return Location{}, Classify(out.err, CodeLocationUnavailable, "could not resolve a fix")
		}
		return out.location, nil
	case <-ctx.Done():
		return Location{}, Classify(ctx.Err(), CodeTimeout, "location read timed out")
	}
}

// TrackOnce resolves a fix plus the user and any new boundary events. The
// events slice may be empty.
func (a *Adapter) TrackOnce(ctx context.Context) (TrackResult, error) {
	if err := a.requireInitialized(); err != nil {
		return TrackResult{}, err
	}

	done := make(chan TrackResult, 1)
	fail := make(chan error, 1)
	a.driver.TrackOnce(func(location Location, user User, events []Event, err error) {
		if err != nil {
			fail <- err
			return
		}
		done <- TrackResult{Location: location, User: user, Events: events}
	})

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	select {
	case result := <-done:
		return result, nil
	case err := <-fail:
		return TrackResult{}, Classify(err, CodeLocationUnavailable, "track sample failed")
	case <-ctx.Done():
		return TrackResult{}, Classify(ctx.Err(), CodeTimeout, "track sample timed out")
	}
}

// StartTrip begins vendor-side trip tracking and returns the vendor trip
// id. Failure is expected on driver builds lacking trip support; callers
// must treat it as non-fatal and fall back to backend-only tracking.
func (a *Adapter) StartTrip(ctx context.Context, opts TripOptions) (string, error) {
	if err := a.requireInitialized(); err != nil {
		return "", err
	}

	type outcome struct {
		tripID string
		err    error
	}
	done := make(chan outcome, 1)
	a.driver.StartTrip(opts, func(tripID string, err error) {
		done <- outcome{tripID: tripID, err: err}
	})

	select {
	case out := <-done:
		if out.err != nil {
			return "", Classify(out.err, CodeServiceUnavailable, "vendor trip start failed")
		}
		return out.tripID, nil
	case <-ctx.Done():
		// A late acknowledgment, if it arrives, is simply ignored.
		return "", Classify(ctx.Err(), CodeTimeout, "vendor trip start not acknowledged")
	}
}

// UpdateTrip changes the destination of the vendor-side trip. Best-effort.
func (a *Adapter) UpdateTrip(ctx context.Context, opts TripOptions) error {
	if err := a.requireInitialized(); err != nil {
		return err
	}

	done := make(chan error, 1)
	a.driver.UpdateTrip(opts, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			return Classify(err, CodeServiceUnavailable, "vendor trip update failed")
		}
		return nil
	case <-ctx.Done():
		return Classify(ctx.Err(), CodeTimeout, "vendor trip update not acknowledged")
	}
}

// CompleteTrip finishes the vendor-side trip. Best-effort.
func (a *Adapter) CompleteTrip(ctx context.Context) error {
	if err := a.requireInitialized(); err != nil {
		return err
	}

	done := make(chan error, 1)
	a.driver.CompleteTrip(func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			return Classify(err, CodeServiceUnavailable, "vendor trip completion failed")
		}
		return nil
	case <-ctx.Done():
		return Classify(ctx.Err(), CodeTimeout, "vendor trip completion not acknowledged")
	}
}

// SetUserID associates subsequent samples with the caller's identity for
// the vendor's own analytics. Synchronous.
func (a *Adapter) SetUserID(id string) error {
	if err := a.requireInitialized(); err != nil {
		return err
	}
	if err := a.driver.SetUserID(id); err != nil {
		return Classify(err, CodeServiceUnavailable, "could not set user id")
	}
	return nil
}

// RequestPermissions asks the platform for location permission.
// Best-effort: the absence of the capability is the caller's UX concern,
// not an adapter error.
func (a *Adapter) RequestPermissions(ctx context.Context, background bool) error {
	if err := a.requireInitialized(); err != nil {
		return err
	}

	type outcome struct {
		granted bool
		err     error
	}
	done := make(chan outcome, 1)
	a.driver.RequestPermissions(background, func(granted bool, err error) {
		done <- outcome{granted: granted, err: err}
	})

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	select {
	case out := <-done:
		if out.err != nil {
			return Classify(out.err, CodePermissionDenied, "permission request failed")
		}
		if !out.granted {
			return NewError(CodePermissionDenied, "location permission withheld")
		}
		return nil
	case <-ctx.Done():
		return Classify(ctx.Err(), CodeTimeout, "permission request timed out")
	}
}
