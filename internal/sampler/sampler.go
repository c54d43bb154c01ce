package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/fieldforce/tripd/internal/lib/geo"
	"github.com/fieldforce/tripd/internal/sdk"
)

// DefaultInterval is the spacing between scheduled samples.
const DefaultInterval = 8 * time.Second

// LocationSource produces one track sample per call. The SDK adapter
// satisfies this; tests supply fakes.
type LocationSource interface {
	TrackOnce(ctx context.Context) (sdk.TrackResult, error)
}

// Callbacks receive sampler output. They run with the sampler's internal
// lock held and must not call back into the sampler. A panic in any
// callback is recovered and logged, never propagated to the scheduler.
type Callbacks struct {
	// OnLocationUpdate fires first on every successful sample.
	OnLocationUpdate func(ctx context.Context, location sdk.Location, user sdk.User, events []sdk.Event)
	// OnPolylineUpdate fires after OnLocationUpdate with defensive copies
	// of the accumulated path.
	OnPolylineUpdate func(ctx context.Context, polyline geo.Polyline, points []geo.Point)
	// OnError fires on a failed sample. The loop continues regardless.
	OnError func(ctx context.Context, err error)
}

// Snapshot is a defensive copy of the sampler's accumulated state.
type Snapshot struct {
	Polyline geo.Polyline `json:"polyline"`
	Points   []geo.Point  `json:"points"`
}

// Sampler drives the fixed-interval sampling loop and owns the travelled
// polyline. The timer and the in-flight sample are independent: a slow
// sample never delays the next scheduled tick, and a stale late-resolving
// sample never overwrites state produced by a more recent one (samples are
// tagged with a monotonic sequence and out-of-order resolutions are
// dropped).
type Sampler struct {
	source    LocationSource
	interval  time.Duration
	callbacks Callbacks

	// issued tags each sample in scheduling order.
	issued atomic.Uint64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	applied  uint64
	points   []geo.Point
}

// New creates a sampler. A non-positive interval falls back to
// DefaultInterval.
func New(source LocationSource, interval time.Duration, callbacks Callbacks) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		source:    source,
		interval:  interval,
		callbacks: callbacks,
	}
}

// Start clears prior points, performs one immediate sample, then schedules
// recurring samples. Calling Start while already running is a no-op and
// does not reset accumulated points.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logging.Warnw(ctx, "Sampler already running, ignoring start")
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.points = nil
	s.applied = 0
	stop := s.stopChan
	s.mu.Unlock()

	go s.run(ctx, stop)
}

// Stop cancels the recurring schedule. An in-flight sample is allowed to
// resolve but its callbacks are suppressed once Stop returns.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

// Running reports whether the schedule is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Export returns a snapshot of the accumulated path. Both fields are
// defensive copies; mutating them cannot reach sampler state.
func (s *Sampler) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// run is the scheduling loop. Each tick launches an independent sample so
// a slow resolution cannot delay the schedule.
func (s *Sampler) run(ctx context.Context, stop chan struct{}) {
	go s.sample(ctx, stop, s.issued.Add(1))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			go s.sample(ctx, stop, s.issued.Add(1))
		}
	}
}

// sample performs one track-once read and folds the result into state.
// Results belonging to a stopped schedule or superseded by a newer sample
// are discarded without invoking callbacks.
func (s *Sampler) sample(ctx context.Context, stop chan struct{}, seq uint64) {
	result, err := s.source.TrackOnce(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.stopChan != stop {
		return
	}

	if err != nil {
		if s.callbacks.OnError != nil {
			s.invoke(ctx, func() { s.callbacks.OnError(ctx, err) })
		}
		return
	}

	if seq < s.applied {
		// A newer sample already resolved; this one is stale.
		return
	}
	s.applied = seq

	s.points = append(s.points, geo.Point{
		Latitude:  result.Location.Latitude,
		Longitude: result.Location.Longitude,
	})

	snapshot := s.snapshotLocked()
	if s.callbacks.OnLocationUpdate != nil {
		s.invoke(ctx, func() {
			s.callbacks.OnLocationUpdate(ctx, result.Location, result.User, result.Events)
		})
	}
	if s.callbacks.OnPolylineUpdate != nil {
		s.invoke(ctx, func() {
			s.callbacks.OnPolylineUpdate(ctx, snapshot.Polyline, snapshot.Points)
		})
	}
}

// snapshotLocked copies the accumulated path. Callers hold s.mu.
func (s *Sampler) snapshotLocked() Snapshot {
	points := make([]geo.Point, len(s.points))
	copy(points, s.points)

	polylinePoints := make([]geo.Point, len(s.points))
	copy(polylinePoints, s.points)

	return Snapshot{
		Polyline: geo.Polyline{Points: polylinePoints},
		Points:   points,
	}
}

// invoke runs a callback, containing any panic so one bad handler cannot
// kill the loop.
func (s *Sampler) invoke(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw(ctx, "Sampler callback panicked", "error", r)
		}
	}()
	fn()
}
