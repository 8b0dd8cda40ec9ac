package marketplace

import (
	"errors"
	"fmt"
)

// UpstreamError carries the marketplace's own HTTP status and response
// body so callers can propagate them unchanged.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("marketplace: upstream status %d", e.Status)
	}
	return fmt.Sprintf("marketplace: upstream status %d: %s", e.Status, e.Body)
}

// UpstreamStatus extracts the upstream HTTP status from err, if any.
func UpstreamStatus(err error) (int, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status, true
	}
	return 0, false
}
