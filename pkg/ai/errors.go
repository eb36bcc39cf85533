package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError is a non-2xx response from the vendor API.
type APIError struct {
	StatusCode int
	Status     string // e.g. "PERMISSION_DENIED"
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// ErrorKind is the semantic category of a vendor failure, used to drive
// retry decisions.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindStoreExpired
	KindStoreNotFound
	KindQuotaExceeded
)

// Classify maps a vendor error onto its semantic category. The service
// answers 403 for expired stores (retention policy) and 404 for missing
// ones; quota exhaustion shows up as 429 or a "quota" message.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}
	switch apiErr.StatusCode {
	case 403:
		return KindStoreExpired
	case 404:
		return KindStoreNotFound
	case 429:
		return KindQuotaExceeded
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "quota") {
		return KindQuotaExceeded
	}
	return KindUnknown
}

// ErrSearchTimeout replaces raw transport timeouts with a message fit to
// show a user.
var ErrSearchTimeout = errors.New("the search request timed out, please try again")

// translateSearchError converts network timeouts into ErrSearchTimeout and
// passes everything else through.
func translateSearchError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrSearchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrSearchTimeout
	}
	return err
}
