package license

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensed/internal/shared/testutil"
)

// =============================================================================
// Acquire
// =============================================================================

func TestAuthorityClient_Acquire(t *testing.T) {
	validTill := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	req := AcquireRequest{ClientID: testClientID, ApplicationID: testAppID, BaseURL: "https://app.example.com"}

	t.Run("well formed issuance", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)
		scriptIssuance(fa, issuance(validTill, usersSubscription(1, 10)))

		resp, err := NewAuthorityClient(fa.URL(), nil).Acquire(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, testKey, resp.LicenseKey)
		assert.Equal(t, testMutualKey, resp.MutualKey)
		assert.True(t, resp.ValidTillTime().Equal(validTill))
		assert.JSONEq(t, `{"properties":{"Users":{"minimum":1,"maximum":10}}}`, string(resp.SubscriptionData))

		calls := fa.Calls(testutil.AcquirePath)
		require.Len(t, calls, 1)
		assert.Equal(t, testClientID, calls[0].Field("client_id"))
		assert.Equal(t, testAppID, calls[0].Field("app_id"))
		assert.Equal(t, "https://app.example.com", calls[0].Field("base_url"))
	})

	tests := []struct {
		name  string
		edit  func(body map[string]interface{})
		field string
	}{
		{name: "missing mutual key", edit: func(b map[string]interface{}) { delete(b, "mutual_key") }, field: "mutual_key"},
		{name: "empty license key", edit: func(b map[string]interface{}) { b["license_key"] = "" }, field: "license_key"},
		{name: "missing checksum", edit: func(b map[string]interface{}) { delete(b, "checksum") }, field: "checksum"},
		{name: "null subscription data", edit: func(b map[string]interface{}) { b["subscription_data"] = nil }, field: "subscription_data"},
		{name: "unparseable expiry", edit: func(b map[string]interface{}) { b["valid_till"] = "next year" }, field: "valid_till"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := testutil.NewFakeAuthority(t)
			body := issuance(validTill, usersSubscription(1, 10))
			tt.edit(body)
			scriptIssuance(fa, body)

			_, err := NewAuthorityClient(fa.URL(), nil).Acquire(context.Background(), req)
			var malformed *MalformedResponseError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, tt.field, malformed.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("body is not json", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)
		fa.OnAcquire(func(testutil.AuthorityCall) testutil.Reply {
			return testutil.Reply{Status: http.StatusOK, Body: "<html>oops</html>"}
		})

		_, err := NewAuthorityClient(fa.URL(), nil).Acquire(context.Background(), req)
		var malformed *MalformedResponseError
		assert.True(t, errors.As(err, &malformed))
	})

	t.Run("non 2xx is a remote error", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)
		fa.OnAcquire(func(testutil.AuthorityCall) testutil.Reply {
			return testutil.Reply{Status: http.StatusBadRequest, Body: "unknown client"}
		})

		_, err := NewAuthorityClient(fa.URL(), nil).Acquire(context.Background(), req)
		var remote *RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
		assert.Equal(t, "unknown client", remote.Body)
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := NewAuthorityClient("  ", nil).Acquire(context.Background(), req)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})
}

// =============================================================================
// Validate
// =============================================================================

func TestAuthorityClient_Validate(t *testing.T) {
	req := ValidateRequest{
		ClientID:      testClientID,
		ApplicationID: testAppID,
		LicenseKey:    testKey,
		Checksum:      "abc",
		Domain:        "https://shop.example.com/",
	}

	t.Run("sends origin and referer for the candidate", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)

		resp, err := NewAuthorityClient(fa.URL()+"/", nil).Validate(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, resp.IsValid())

		calls := fa.Calls(testutil.ValidatePath)
		require.Len(t, calls, 1)
		assert.Equal(t, "https://shop.example.com", calls[0].Origin)
		assert.Equal(t, "https://shop.example.com", calls[0].Referer)
		assert.Equal(t, "https://shop.example.com/", calls[0].Field("domain"))
		assert.Equal(t, "abc", calls[0].Field("checksum"))
	})

	t.Run("403 is a domain rejection", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)
		fa.OnValidate(func(testutil.AuthorityCall) testutil.Reply {
			return testutil.Reply{Status: http.StatusForbidden, Body: "wrong domain"}
		})

		_, err := NewAuthorityClient(fa.URL(), nil).Validate(context.Background(), req)
		var rejected *DomainRejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Equal(t, req.Domain, rejected.Domain)
	})

	t.Run("500 is a remote error", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)
		fa.OnValidate(func(testutil.AuthorityCall) testutil.Reply {
			return testutil.Reply{Status: http.StatusInternalServerError, Body: "boom"}
		})

		_, err := NewAuthorityClient(fa.URL(), nil).Validate(context.Background(), req)
		var remote *RemoteError
		require.True(t, errors.As(err, &remote))
		var rejected *DomainRejectedError
		assert.False(t, errors.As(err, &rejected))
	})

	t.Run("unreachable authority", func(t *testing.T) {
		fa := testutil.NewFakeAuthority(t)
		url := fa.URL()
		fa.Server.Close()

		_, err := NewAuthorityClient(url, nil).Validate(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "network", classifyLicenseError(err))
	})
}

func TestValidateResponse_IsValid(t *testing.T) {
	yes, no := true, false

	tests := []struct {
		name string
		resp ValidateResponse
		want bool
	}{
		{name: "valid flag", resp: ValidateResponse{Valid: &yes}, want: true},
		{name: "valid status", resp: ValidateResponse{Status: "valid"}, want: true},
		{name: "status is case insensitive", resp: ValidateResponse{Status: "VALID"}, want: true},
		{name: "false flag with valid status", resp: ValidateResponse{Valid: &no, Status: "valid"}, want: true},
		{name: "false flag", resp: ValidateResponse{Valid: &no}, want: false},
		{name: "other status", resp: ValidateResponse{Status: "revoked"}, want: false},
		{name: "empty", resp: ValidateResponse{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.IsValid())
		})
	}
}
