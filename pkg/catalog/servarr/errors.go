package servarr

import "fmt"

// APIError is a non-2xx response from the media manager.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("servarr api error [status=%d, endpoint=%s]: %s", e.StatusCode, e.Endpoint, e.Message)
}

// Transient reports whether a retry has a chance of succeeding.
// Rate limits and server-side failures are transient; client errors
// such as 404 or bad credentials are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// RequestError is a transport-level failure before any response arrived.
type RequestError struct {
	Endpoint string
	Cause    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("servarr request failed [endpoint=%s]: %v", e.Endpoint, e.Cause)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Transient is always true for transport failures.
func (e *RequestError) Transient() bool {
	return true
}
