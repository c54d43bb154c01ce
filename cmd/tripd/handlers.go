package main

import (
	"encoding/json"
	"net/http"

	"github.com/fieldforce/tripd/internal/clients/backend"
	"github.com/fieldforce/tripd/internal/lib/geo"
	"github.com/fieldforce/tripd/internal/trip"
)

// handlers exposes the trip engine over plain JSON endpoints.
type handlers struct {
	controller *trip.Controller
}

func newHandlers(controller *trip.Controller) *handlers {
	return &handlers{controller: controller}
}

// trip serves GET /engine/v1/trip with the full engine snapshot.
func (h *handlers) trip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// startTrip serves POST /engine/v1/trip/start.
func (h *handlers) startTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var dealer trip.Dealer
	if err := json.NewDecoder(r.Body).Decode(&dealer); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.controller.StartTrip(r.Context(), dealer); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// changeDestination serves POST /engine/v1/trip/destination.
func (h *handlers) changeDestination(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var dealer trip.Dealer
	if err := json.NewDecoder(r.Body).Decode(&dealer); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.controller.ChangeDestination(r.Context(), dealer); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// completeTrip serves POST /engine/v1/trip/complete.
func (h *handlers) completeTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.CompleteTrip(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// startNewJourney serves POST /engine/v1/trip/new.
func (h *handlers) startNewJourney(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.StartNewJourney(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// trackGeoJSON serves GET /engine/v1/trip/track.geojson with the travelled
// path as a GeoJSON LineString feature collection.
func (h *handlers) trackGeoJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.controller.Snapshot()

	properties := map[string]interface{}{
		"status":           string(snapshot.Status),
		"travelled_meters": snapshot.TravelledMeters,
	}
	if snapshot.Trip != nil {
		properties["journey_id"] = snapshot.Trip.JourneyID
	}

	body, err := geo.TrackJSON(snapshot.Points, properties)
	if err != nil {
		writeError(w, http.StatusNotFound, "no track available yet")
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// refreshLocation serves POST /engine/v1/location/refresh: reads a fresh
// fix through the adapter so a trip can start with a known location.
func (h *handlers) refreshLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	location, err := h.controller.RefreshCurrentLocation(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, location)
}

// visibility serves POST /engine/v1/visibility: app foreground/background
// transitions, used to re-acquire a revoked wake lock mid-trip.
func (h *handlers) visibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Visible bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	h.controller.HandleVisibilityChange(r.Context(), body.Visible)
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps controller failures onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case trip.IsPrecondition(err):
		writeError(w, http.StatusConflict, err.Error())
	case backend.IsSyncError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
