package trip

import (
	"time"

	"github.com/fieldforce/tripd/internal/cache"
	"github.com/fieldforce/tripd/internal/lib/geo"
	"github.com/fieldforce/tripd/internal/sdk"
)

// Status is the lifecycle state of the trip aggregate.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Dealer is the destination of a journey. ID doubles as the destination
// geofence external id on the backend.
type Dealer struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Trip is the central aggregate for one journey. JourneyID is the canonical
// correlation key: once chosen at start it never changes, even if the
// vendor trip id becomes available later.
type Trip struct {
	JourneyID       string    `json:"journey_id"`
	ExternalID      string    `json:"external_id"`
	Dealer          Dealer    `json:"dealer"`
	Status          Status    `json:"status"`
	DistanceMeters  float64   `json:"distance_meters"`
	DurationMinutes float64   `json:"duration_minutes"`
	SDKTripID       string    `json:"sdk_trip_id,omitempty"`
	BackendTripID   string    `json:"backend_trip_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}

// RouteEstimate is the forward-looking route to the current destination.
// It resets when the destination changes; the travelled polyline does not.
type RouteEstimate struct {
	DistanceMeters  float64     `json:"distance_meters"`
	DurationMinutes float64     `json:"duration_minutes"`
	Points          []geo.Point `json:"points"`
}

// Snapshot is the UI-facing view of engine state. Every field is a
// defensive copy; mutating a snapshot cannot reach engine state.
type Snapshot struct {
	Status          Status         `json:"status"`
	Trip            *Trip          `json:"trip,omitempty"`
	CurrentLocation *sdk.Location  `json:"current_location,omitempty"`
	Route           *RouteEstimate `json:"route,omitempty"`
	Polyline        geo.Polyline   `json:"polyline"`
	Points          []geo.Point    `json:"points"`
	TravelledMeters float64        `json:"travelled_meters"`
	LastError       string         `json:"last_error,omitempty"`
	CacheStats      cache.Stats    `json:"cache_stats"`
}
