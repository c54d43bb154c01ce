package sdk

import "time"

// Verbosity controls how chatty the underlying driver is.
type Verbosity string

const (
	VerbosityNone  Verbosity = "none"
	VerbosityError Verbosity = "error"
	VerbosityInfo  Verbosity = "info"
	VerbosityDebug Verbosity = "debug"
)

// Accuracy selects the positioning tier requested from the driver.
type Accuracy string

const (
	AccuracyLow    Accuracy = "low"
	AccuracyMedium Accuracy = "medium"
	AccuracyHigh   Accuracy = "high"
)

// Options configures the adapter at initialization time. The zero value of
// each field means "use the default".
type Options struct {
	// Verbosity defaults to error-only logging.
	Verbosity Verbosity `yaml:"verbosity"`
	// CacheTTL enables reuse of a recent cached fix. Zero disables reuse.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// MaxCacheAge caps how old a cached fix may be. Zero means uncapped.
	MaxCacheAge time.Duration `yaml:"max_cache_age"`
	// Timeout bounds a single location read. Defaults to 30 seconds.
	Timeout time.Duration `yaml:"timeout"`
	// DesiredAccuracy defaults to high.
	DesiredAccuracy Accuracy `yaml:"desired_accuracy"`
}

// withDefaults fills unset options with the documented defaults.
func (o Options) withDefaults() Options {
	if o.Verbosity == "" {
		o.Verbosity = VerbosityError
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.DesiredAccuracy == "" {
		o.DesiredAccuracy = AccuracyHigh
	}
	return o
}

// Location is a single fix produced by the driver. Immutable once created.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// User identifies the tracked user as known to the vendor.
type User struct {
	ID string `json:"id"`
}

// EventKind enumerates the boundary-crossing events the vendor reports.
type EventKind string

const (
	EventEnteredGeofence EventKind = "entered_geofence"
	EventExitedGeofence  EventKind = "exited_geofence"
	EventEnteredPlace    EventKind = "entered_place"
	EventExitedPlace     EventKind = "exited_place"
)

// Geofence describes the virtual boundary an event refers to.
type Geofence struct {
	Description string `json:"description"`
	ExternalID  string `json:"externalId,omitempty"`
}

// Place describes the named venue an event refers to.
type Place struct {
	Name string `json:"name"`
}

// Event is one boundary crossing reported alongside a track sample.
// Transient: consumed by the dispatcher and not retained.
type Event struct {
	Kind       EventKind `json:"type"`
	Geofence   *Geofence `json:"geofence,omitempty"`
	Place      *Place    `json:"place,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// TrackResult is the outcome of a single track-once sample.
type TrackResult struct {
	Location Location
	User     User
	Events   []Event
}

// TripOptions parameterizes vendor-side trip tracking.
type TripOptions struct {
	ExternalID                    string
	DestinationGeofenceTag        string
	DestinationGeofenceExternalID string
	Mode                          string
}
