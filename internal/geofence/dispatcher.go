package geofence

import (
	"context"
	"fmt"

	"github.com/dpup/prefab/logging"

	"github.com/fieldforce/tripd/internal/sdk"
)

// NotificationKind distinguishes boundary alerts from place alerts.
type NotificationKind string

const (
	KindGeofence NotificationKind = "geofence"
	KindPlace    NotificationKind = "place"
)

// Notification is one user-facing alert produced from a boundary event.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Confidence float64          `json:"confidence,omitempty"`
}

// Notifier delivers a notification (toast, OS notification, webhook).
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Dispatcher classifies raw enter/exit events into notifications and fans
// them out to the registered notifiers. It trusts its input slice to be the
// authoritative new-events delta for a sample: no cross-call deduplication
// beyond what the vendor already filters.
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher delivering to the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// Dispatch classifies and delivers every event in the slice. Safe to call
// with a nil or empty slice (no-op).
func (d *Dispatcher) Dispatch(ctx context.Context, events []sdk.Event) {
	for _, event := range events {
		notification, ok := classify(event)
		if !ok {
			logging.Warnw(ctx, "Skipping unrecognized event", "kind", string(event.Kind))
			continue
		}
		for _, notifier := range d.notifiers {
			d.deliver(ctx, notifier, notification)
		}
	}
}

// deliver invokes one notifier, containing any panic so one bad handler
// cannot take down the sampling loop above us.
func (d *Dispatcher) deliver(ctx context.Context, notifier Notifier, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw(ctx, "Notifier panicked", "error", r)
		}
	}()
	notifier.Notify(ctx, n)
}

// classify turns a raw event into a notification. Geofence kinds use the
// geofence description, place kinds the place name, each with a fallback.
func classify(event sdk.Event) (Notification, bool) {
	switch event.Kind {
	case sdk.EventEnteredGeofence:
		return Notification{
			Kind:       KindGeofence,
			Title:      "Geofence alert",
			Body:       fmt.Sprintf("Entered %s", geofenceName(event)),
			Confidence: event.Confidence,
		}, true
	case sdk.EventExitedGeofence:
		return Notification{
			Kind:       KindGeofence,
			Title:      "Geofence alert",
			Body:       fmt.Sprintf("Exited %s", geofenceName(event)),
			Confidence: event.Confidence,
		}, true
	case sdk.EventEnteredPlace:
		return Notification{
			Kind:       KindPlace,
			Title:      "Place alert",
			Body:       fmt.Sprintf("Arrived at %s", placeName(event)),
			Confidence: event.Confidence,
		}, true
	case sdk.EventExitedPlace:
		return Notification{
			Kind:       KindPlace,
			Title:      "Place alert",
			Body:       fmt.Sprintf("Left %s", placeName(event)),
			Confidence: event.Confidence,
		}, true
	default:
		return Notification{}, false
	}
}

func geofenceName(event sdk.Event) string {
	if event.Geofence != nil && event.Geofence.Description != "" {
		return event.Geofence.Description
	}
	return "Unknown location"
}

func placeName(event sdk.Event) string {
	if event.Place != nil && event.Place.Name != "" {
		return event.Place.Name
	}
	return "Unknown place"
}

// LogNotifier writes notifications to the structured log. It is the default
// delivery path; OS toast or webhook notifiers register alongside it.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, n Notification) {
	logging.Infow(ctx, "Notification",
		"kind", string(n.Kind),
		"title", n.Title,
		"body", n.Body)
}
