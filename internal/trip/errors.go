package trip

import "errors"

// PreconditionError reports a lifecycle transition attempted before its
// requirements were met (e.g. starting a trip with no destination or no
// known current location).
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	var preconditionErr *PreconditionError
	return errors.As(err, &preconditionErr)
}
