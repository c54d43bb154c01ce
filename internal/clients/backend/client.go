package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldforce/tripd/internal/lib/geo"
)

// HTTPDoer abstracts the HTTP client for testing
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the CRM backend's trip surface: start, patch and finish
// a trip record, and fetch the backend's computed route and trip snapshot.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	geoUtils   geo.GeoUtils
}

// NewClient creates a backend sync client
func NewClient(baseURL string) *Client {
	return NewClientWithHTTPDoer(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom HTTP client
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: doer,
		geoUtils:   geo.NewGeoUtils(),
	}
}

// StartTripParams is the start request. SDKTripID is empty when the vendor
// SDK could not create a trip; the backend then correlates on ExternalID.
type StartTripParams struct {
	UserID     string
	DealerID   string
	Latitude   float64
	Longitude  float64
	SDKTripID  string
	ExternalID string
}

// StartTripResult carries the backend-assigned identifiers. Either field
// may be empty; the controller picks the canonical journey id.
type StartTripResult struct {
	JourneyID   string
	DBJourneyID string
}

// TripSnapshot is the backend's computed view of a trip in progress.
type TripSnapshot struct {
	DistanceMeters  float64 `json:"distance"`
	DurationMinutes float64 `json:"duration"`
}

// Route is the backend's computed route to the destination.
type Route struct {
	DistanceMeters  float64     `json:"distance"`
	DurationMinutes float64     `json:"duration"`
	Points          []geo.Point `json:"points"`
}

// StartTrip creates the backend trip record.
func (c *Client) StartTrip(ctx context.Context, params StartTripParams) (StartTripResult, error) {
	// sdkTripId is null, not "", when the vendor id is absent.
	var sdkTripID *string
	if params.SDKTripID != "" {
		sdkTripID = &params.SDKTripID
	}

	body := map[string]interface{}{
		"userId":     params.UserID,
		"dealerId":   params.DealerID,
		"lat":        params.Latitude,
		"lng":        params.Longitude,
		"sdkTripId":  sdkTripID,
		"externalId": params.ExternalID,
	}

	var response startTripResponse
	if err := c.call(ctx, "POST", "/trips/start", body, &response); err != nil {
		return StartTripResult{}, err
	}

	return StartTripResult{
		JourneyID:   response.Data.JourneyID,
		DBJourneyID: response.Data.DBJourneyID,
	}, nil
}

// UpdateTrip patches the trip's destination.
func (c *Client) UpdateTrip(ctx context.Context, journeyID, destinationGeofenceExternalID, status string) error {
	body := map[string]interface{}{
		"destinationGeofenceExternalId": destinationGeofenceExternalID,
		"status":                        status,
	}
	return c.call(ctx, "PATCH", "/trips/"+journeyID, body, nil)
}

// FinishTrip marks the trip record finished.
func (c *Client) FinishTrip(ctx context.Context, journeyID string) error {
	return c.call(ctx, "POST", "/trips/finish/"+journeyID, nil, nil)
}

// GetTrip fetches the backend's cached trip snapshot.
func (c *Client) GetTrip(ctx context.Context, journeyID string) (TripSnapshot, error) {
	var response getTripResponse
	if err := c.call(ctx, "GET", "/trips/"+journeyID, nil, &response); err != nil {
		return TripSnapshot{}, err
	}

	return TripSnapshot{
		DistanceMeters:  response.Data.SDKTrip.Distance,
		DurationMinutes: response.Data.SDKTrip.Duration,
	}, nil
}

// GetRoute fetches the computed route. Geometry arrives either as GeoJSON
// [lng, lat] coordinate pairs (swapped here to the polyline's lat/lng
// convention) or as an encoded polyline string.
func (c *Client) GetRoute(ctx context.Context, journeyID string) (Route, error) {
	var response getRouteResponse
	if err := c.call(ctx, "GET", "/trips/"+journeyID+"/route", nil, &response); err != nil {
		return Route{}, err
	}

	route := Route{
		DistanceMeters:  response.Data.Distance.Value,
		DurationMinutes: response.Data.Duration.Value,
	}

	switch {
	case len(response.Data.Geometry.Coordinates) > 0:
		route.Points = make([]geo.Point, len(response.Data.Geometry.Coordinates))
		for i, pair := range response.Data.Geometry.Coordinates {
			if len(pair) < 2 {
				return Route{}, &SyncError{Message: "malformed geometry coordinate pair"}
			}
			// GeoJSON order is [lng, lat].
			route.Points[i] = geo.Point{Latitude: pair[1], Longitude: pair[0]}
		}
	case response.Data.Geometry.EncodedPolyline != "":
		points, err := c.geoUtils.DecodePolyline(response.Data.Geometry.EncodedPolyline)
		if err != nil {
			return Route{}, &SyncError{Message: "malformed route geometry", Err: err}
		}
		route.Points = points
	}

	return route, nil
}

// call executes one backend request and decodes the enveloped response.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return &SyncError{Message: "failed to marshal request", Err: err}
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &SyncError{Message: "failed to create request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SyncError{Message: "failed to execute request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return &SyncError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("backend error: %s", string(respBody)),
		}
	}

	// Every backend response carries a success envelope; decode it even
	// when the caller wants no payload.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SyncError{Message: "failed to read response", Err: err}
	}

	var envelope successEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &SyncError{Message: "malformed response", Err: err}
	}
	if !envelope.Success {
		return &SyncError{StatusCode: resp.StatusCode, Message: "backend reported failure"}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &SyncError{Message: "malformed response payload", Err: err}
		}
	}
	return nil
}

// successEnvelope is the backend's common response wrapper
type successEnvelope struct {
	Success bool `json:"success"`
}

// startTripResponse is the /trips/start payload
type startTripResponse struct {
	Success bool `json:"success"`
	Data    struct {
		JourneyID   string `json:"journeyId"`
		DBJourneyID string `json:"dbJourneyId"`
	} `json:"data"`
}

// getTripResponse is the GET /trips/{id} payload
type getTripResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SDKTrip struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"radarTrip"`
	} `json:"data"`
}

// getRouteResponse is the GET /trips/{id}/route payload
type getRouteResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Distance struct {
			Value float64 `json:"value"`
		} `json:"distance"`
		Duration struct {
			Value float64 `json:"value"`
		} `json:"duration"`
		Geometry struct {
			Coordinates     [][]float64 `json:"coordinates"`
			EncodedPolyline string      `json:"encodedPolyline"`
		} `json:"geometry"`
	} `json:"data"`
}
