package attendance

import (
	"errors"
	"fmt"
	"net/http"

	"attendance-backend/lib/scrapers/pesu"
)

// ConfigurationError means the branch mapping is missing or invalid.
// Never retried.
type ConfigurationError struct {
	cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.cause)
}

func (e *ConfigurationError) Unwrap() error {
	return e.cause
}

// ScrapeError covers failures after a successful login: no data for
// any candidate batch id, or an unexpected fetch/parse failure.
type ScrapeError struct {
	cause  error
	NoData bool
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("failed to scrape attendance data: %s", e.cause)
}

func (e *ScrapeError) Unwrap() error {
	return e.cause
}

// StatusForError maps the scrape error taxonomy onto http statuses:
// configuration failures are the operator's fault (500), login
// failures the caller's (401) unless the network itself failed, and an
// empty result is a 404.
func StatusForError(err error) int {
	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return http.StatusInternalServerError
	}
	var authErr *pesu.AuthenticationError
	if errors.As(err, &authErr) {
		if authErr.Network {
			return http.StatusInternalServerError
		}
		return http.StatusUnauthorized
	}
	var scrapeErr *ScrapeError
	if errors.As(err, &scrapeErr) && scrapeErr.NoData {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
