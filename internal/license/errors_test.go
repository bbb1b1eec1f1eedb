package license

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLicenseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "none"},
		{name: "not found", err: ErrLicenseNotFound, want: "not_found"},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", ErrLicenseNotFound), want: "not_found"},
		{name: "expired", err: ErrLicenseExpired, want: "expired"},
		{name: "client id", err: ErrClientIDMissing, want: "invalid_request"},
		{name: "configuration", err: &ConfigurationError{Setting: "x"}, want: "configuration"},
		{name: "malformed", err: &MalformedResponseError{Field: "mutual_key"}, want: "malformed_response"},
		{name: "domain", err: &DomainRejectedError{Domain: "a"}, want: "domain_rejected"},
		{name: "remote", err: &RemoteError{StatusCode: 502}, want: "remote"},
		{name: "storage", err: &StorageError{Op: "active", Err: errors.New("locked")}, want: "storage"},
		{name: "anything else", err: errors.New("dial tcp: refused"), want: "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyLicenseError(tt.err))
		})
	}
}

func TestMalformedResponseError_Message(t *testing.T) {
	assert.Equal(t,
		`malformed license authority response: missing required field "mutual_key"`,
		(&MalformedResponseError{Field: "mutual_key"}).Error())

	inner := errors.New("bad time")
	err := &MalformedResponseError{Field: "valid_till", Err: inner}
	assert.Contains(t, err.Error(), `invalid field "valid_till"`)
	assert.ErrorIs(t, err, inner)
}
