package license

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected license states.
var (
	ErrLicenseNotFound = errors.New("no active license found")
	ErrLicenseExpired  = errors.New("license has expired")
	ErrClientIDMissing = errors.New("client id is required")
)

// User-facing validation messages. Validation never reveals which domain
// fallback step failed.
const (
	MessageNoLicense        = "No active license found"
	MessageExpired          = "License has expired"
	MessageValid            = "License is valid"
	MessageRejected         = "License was rejected by the license authority"
	MessageValidationFailed = "License validation failed"
)

// ConfigurationError reports a missing setting that an operation requires.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("license configuration missing: %s is not set", e.Setting)
}

// MalformedResponseError reports an authority response that cannot be used.
// Field names the missing JSON field when that is the cause.
type MalformedResponseError struct {
	Field string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	if e.Field != "" && e.Err == nil {
		return fmt.Sprintf("malformed license authority response: missing required field %q", e.Field)
	}
	if e.Field != "" {
		return fmt.Sprintf("malformed license authority response: invalid field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed license authority response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx authority response unrelated to domain mismatch.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("license authority returned status %d: %s", e.StatusCode, e.Body)
}

// DomainRejectedError is an HTTP 403 from the validation endpoint. It means
// the candidate domain was wrong, not that the license is invalid.
type DomainRejectedError struct {
	Domain string
	Body   string
}

func (e *DomainRejectedError) Error() string {
	return fmt.Sprintf("license authority rejected domain %q: %s", e.Domain, e.Body)
}

// StorageError wraps a credential store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("license store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// classifyLicenseError maps an error to a low-cardinality label for metrics
// and span attributes.
func classifyLicenseError(err error) string {
	if err == nil {
		return "none"
	}

	var (
		cfgErr       *ConfigurationError
		malformedErr *MalformedResponseError
		remoteErr    *RemoteError
		domainErr    *DomainRejectedError
		storageErr   *StorageError
	)
	switch {
	case errors.Is(err, ErrLicenseNotFound):
		return "not_found"
	case errors.Is(err, ErrLicenseExpired):
		return "expired"
	case errors.Is(err, ErrClientIDMissing):
		return "invalid_request"
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &malformedErr):
		return "malformed_response"
	case errors.As(err, &domainErr):
		return "domain_rejected"
	case errors.As(err, &remoteErr):
		return "remote"
	case errors.As(err, &storageErr):
		return "storage"
	default:
		return "network"
	}
}
