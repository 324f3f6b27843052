package engine

import (
	"fmt"
	"strings"
)

// ValidationError aborts a job before any work starts: bad seed URL, empty
// URL list, invalid options.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// The fetchers surface raw driver errors, so classification is by substring
// and status text rather than typed errors.

var rateLimitMarkers = []string{
	"429",
	"too many requests",
}

var connectivityMarkers = []string{
	"connection refused",
	"connection aborted",
	"connection reset",
	"err_connection_refused",
	"err_connection_aborted",
	"err_proxy_connection_failed",
	"no route to host",
}

// isRateLimited reports whether an error looks like the remote host pushing
// back (HTTP 429 or equivalent).
func isRateLimited(err error) bool {
	return containsAny(err, rateLimitMarkers)
}

// isConnectivity reports whether an error looks like a dead connection path,
// typically a broken proxy.
func isConnectivity(err error) bool {
	return containsAny(err, connectivityMarkers)
}

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
