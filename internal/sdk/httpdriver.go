package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPDoer abstracts the HTTP client for testing
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPDriver implements Driver against the vendor's REST surface. The
// device fix itself comes from a local companion endpoint (the device
// bridge), and is then posted to the vendor track endpoint which answers
// with the user and any new boundary events.
//
// The driver honors the Driver contract's callback style: each operation
// runs on its own goroutine and reports through the callback exactly once.
type HTTPDriver struct {
	baseURL    string
	fixURL     string
	deviceID   string
	httpClient HTTPDoer

	mu          sync.Mutex
	key         string
	opts        Options
	userID      string
	cachedFix   *Location
	cachedFixAt time.Time
}

// NewHTTPDriver creates a driver for the vendor API at baseURL, reading
// device fixes from fixURL.
func NewHTTPDriver(baseURL, fixURL, deviceID string) *HTTPDriver {
	return NewHTTPDriverWithDoer(baseURL, fixURL, deviceID, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewHTTPDriverWithDoer creates a driver with a custom HTTP client
func NewHTTPDriverWithDoer(baseURL, fixURL, deviceID string, doer HTTPDoer) *HTTPDriver {
	return &HTTPDriver{
		baseURL:    baseURL,
		fixURL:     fixURL,
		deviceID:   deviceID,
		httpClient: doer,
	}
}

// Initialize stores the publishable key and options.
func (d *HTTPDriver) Initialize(key string, opts Options) error {
	if key == "" {
		return NewError(CodeConfigurationError, "missing publishable key")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.key = key
	d.opts = opts
	return nil
}

// SetUserID associates subsequent samples with the given identity.
func (d *HTTPDriver) SetUserID(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userID = id
	return nil
}

// GetLocation resolves a single fix from the device bridge.
func (d *HTTPDriver) GetLocation(callback func(Location, error)) {
	go func() {
		location, err := d.readFix()
		callback(location, err)
	}()
}

// TrackOnce resolves a fix and submits it to the vendor track endpoint.
func (d *HTTPDriver) TrackOnce(callback func(Location, User, []Event, error)) {
	go func() {
		location, err := d.readFix()
		if err != nil {
			callback(Location{}, User{}, nil, err)
			return
		}

		user, events, err := d.submitTrack(location)
		if err != nil {
			callback(Location{}, User{}, nil, err)
			return
		}
		callback(location, user, events, nil)
	}()
}

// StartTrip begins vendor-side trip tracking.
func (d *HTTPDriver) StartTrip(opts TripOptions, callback func(string, error)) {
	go func() {
		body := map[string]interface{}{
			"externalId": opts.ExternalID,
			"mode":       opts.Mode,
		}
		if opts.DestinationGeofenceTag != "" {
			body["destinationGeofenceTag"] = opts.DestinationGeofenceTag
		}
		if opts.DestinationGeofenceExternalID != "" {
			body["destinationGeofenceExternalId"] = opts.DestinationGeofenceExternalID
		}

		var response vendorTripResponse
		if err := d.call("POST", "/v1/trips", body, &response); err != nil {
			callback("", err)
			return
		}
		callback(response.Trip.ID, nil)
	}()
}

// UpdateTrip changes the destination of the vendor-side trip.
func (d *HTTPDriver) UpdateTrip(opts TripOptions, callback func(error)) {
	go func() {
		body := map[string]interface{}{
			"destinationGeofenceExternalId": opts.DestinationGeofenceExternalID,
		}
		callback(d.call("PATCH", "/v1/trips/"+opts.ExternalID, body, nil))
	}()
}

// CompleteTrip finishes the vendor-side trip.
func (d *HTTPDriver) CompleteTrip(callback func(error)) {
	go func() {
		callback(d.call("POST", "/v1/trips/complete", nil, nil))
	}()
}

// RequestPermissions is not answerable from a headless driver; the device
// bridge owns the permission prompt. Report not-granted without error so
// callers can fall back to their own UX.
func (d *HTTPDriver) RequestPermissions(background bool, callback func(bool, error)) {
	go func() {
		callback(false, nil)
	}()
}

// readFix fetches the device fix, reusing a cached one when the configured
// cache window allows.
func (d *HTTPDriver) readFix() (Location, error) {
	d.mu.Lock()
	opts := d.opts
	cached := d.cachedFix
	cachedAt := d.cachedFixAt
	d.mu.Unlock()

	if cached != nil && opts.CacheTTL > 0 {
		age := time.Since(cachedAt)
		if age <= opts.CacheTTL && (opts.MaxCacheAge <= 0 || age <= opts.MaxCacheAge) {
			return *cached, nil
		}
	}

	req, err := http.NewRequest("GET", d.fixURL, nil)
	if err != nil {
		return Location{}, &Error{Code: CodeLocationUnavailable, Message: "failed to create fix request", Err: err}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Location{}, &Error{Code: CodeLocationUnavailable, Message: "device bridge unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return Location{}, &Error{
			Code:    CodeLocationUnavailable,
			Message: fmt.Sprintf("device bridge error %d: %s", resp.StatusCode, string(body)),
		}
	}

	var fix deviceFix
	if err := json.NewDecoder(resp.Body).Decode(&fix); err != nil {
		return Location{}, &Error{Code: CodeLocationUnavailable, Message: "failed to decode fix", Err: err}
	}

	location := Location{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Timestamp: fix.Timestamp,
	}
	if location.Timestamp.IsZero() {
		location.Timestamp = time.Now()
	}

	d.mu.Lock()
	d.cachedFix = &location
	d.cachedFixAt = time.Now()
	d.mu.Unlock()

	return location, nil
}

// submitTrack posts a fix to the vendor track endpoint.
func (d *HTTPDriver) submitTrack(location Location) (User, []Event, error) {
	d.mu.Lock()
	userID := d.userID
	accuracy := d.opts.DesiredAccuracy
	d.mu.Unlock()

	body := map[string]interface{}{
		"deviceId":        d.deviceID,
		"userId":          userID,
		"latitude":        location.Latitude,
		"longitude":       location.Longitude,
		"accuracy":        location.Accuracy,
		"desiredAccuracy": string(accuracy),
	}

	var response vendorTrackResponse
	if err := d.call("POST", "/v1/track", body, &response); err != nil {
		return User{}, nil, err
	}

	return User{ID: response.User.ID}, response.Events, nil
}

// call executes one vendor API request and decodes the response into out.
func (d *HTTPDriver) call(method, path string, body interface{}, out interface{}) error {
	d.mu.Lock()
	key := d.key
	d.mu.Unlock()

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return &Error{Code: CodeServiceUnavailable, Message: "failed to marshal request", Err: err}
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, d.baseURL+path, reader)
	if err != nil {
		return &Error{Code: CodeServiceUnavailable, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Authorization", key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &Error{Code: CodeServiceUnavailable, Message: "failed to execute request", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return &Error{Code: CodeConfigurationError, Message: "invalid publishable key"}
	case resp.StatusCode == 402 || resp.StatusCode == 429:
		return &Error{Code: CodeServiceUnavailable, Message: "vendor rejected call (quota or billing)"}
	case resp.StatusCode == 404:
		// Trip endpoints are absent on plans without trip support.
		return &Error{Code: CodeServiceUnavailable, Message: "endpoint not available on this plan"}
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		return &Error{
			Code:    CodeServiceUnavailable,
			Message: fmt.Sprintf("vendor API error %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Code: CodeServiceUnavailable, Message: "failed to decode response", Err: err}
		}
	}
	return nil
}

// deviceFix is the device bridge's fix payload
type deviceFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// vendorTrackResponse is the vendor track endpoint payload
type vendorTrackResponse struct {
	User   vendorUser `json:"user"`
	Events []Event    `json:"events"`
}

// vendorUser identifies the tracked user in vendor responses
type vendorUser struct {
	ID string `json:"_id"`
}

// vendorTripResponse is the vendor trip creation payload
type vendorTripResponse struct {
	Trip vendorTrip `json:"trip"`
}

// vendorTrip carries the vendor-assigned trip identifier
type vendorTrip struct {
	ID string `json:"_id"`
}
