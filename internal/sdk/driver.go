package sdk

// Driver is the raw, callback-style contract of the vendor location SDK.
// Every asynchronous operation reports its outcome through the supplied
// callback exactly once. The adapter is the only caller; it bridges these
// callbacks into context-aware synchronous methods.
type Driver interface {
	// Initialize prepares the driver with the publishable key and options.
	Initialize(key string, opts Options) error

	// GetLocation resolves a single fix.
	GetLocation(callback func(Location, error))

	// TrackOnce resolves a fix plus the user and any new boundary events.
	TrackOnce(callback func(Location, User, []Event, error))

	// StartTrip begins vendor-side trip tracking and reports the vendor
	// trip id. Drivers without trip support report an error; callers treat
	// that as non-fatal.
	StartTrip(opts TripOptions, callback func(tripID string, err error))

	// UpdateTrip changes the destination of the vendor-side trip.
	UpdateTrip(opts TripOptions, callback func(error))

	// CompleteTrip finishes the vendor-side trip.
	CompleteTrip(callback func(error))

	// SetUserID associates subsequent samples with the given identity.
	SetUserID(id string) error

	// RequestPermissions asks the platform for (background) location
	// permission. Best-effort; not every platform can answer.
	RequestPermissions(background bool, callback func(granted bool, err error))
}
