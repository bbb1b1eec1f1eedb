package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	acquirePath  = "/api/acquire-license"
	validatePath = "/api/validate-license"

	// maxResponseBytes bounds how much of an authority response is read.
	maxResponseBytes = 1 << 20

	defaultUserAgent = "licensed/1.0"
)

// AcquireRequest is the acquisition payload.
type AcquireRequest struct {
	ClientID      string `json:"client_id"`
	ApplicationID string `json:"app_id"`
	BaseURL       string `json:"base_url"`
}

// AcquireResponse is the authority's issuance payload.
type AcquireResponse struct {
	LicenseKey       string          `json:"license_key" validate:"required"`
	SubscriptionType string          `json:"subscription_type" validate:"required"`
	ValidTill        string          `json:"valid_till" validate:"required"`
	Checksum         string          `json:"checksum" validate:"required"`
	MutualKey        string          `json:"mutual_key" validate:"required"`
	SubscriptionData json.RawMessage `json:"subscription_data"`
	Message          string          `json:"message"`

	validTill time.Time
}

// ValidTillTime returns the parsed expiry.
func (r *AcquireResponse) ValidTillTime() time.Time {
	return r.validTill
}

// ValidateRequest is the per-candidate validation payload.
type ValidateRequest struct {
	ClientID      string `json:"client_id"`
	ApplicationID string `json:"app_id"`
	LicenseKey    string `json:"license_key"`
	Checksum      string `json:"checksum"`
	Domain        string `json:"domain"`
}

// ValidateResponse is the authority's verdict.
type ValidateResponse struct {
	Valid   *bool  `json:"valid,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// IsValid accepts either a boolean valid flag or a "valid" status string.
func (r *ValidateResponse) IsValid() bool {
	if r.Valid != nil && *r.Valid {
		return true
	}
	return strings.EqualFold(r.Status, "valid")
}

// AuthorityClient talks to the remote license authority over HTTP.
type AuthorityClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	validate   *validator.Validate
}

// NewAuthorityClient creates a client for baseURL. A nil httpClient gets a
// 30s timeout.
func NewAuthorityClient(baseURL string, httpClient *http.Client) *AuthorityClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &AuthorityClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		userAgent:  defaultUserAgent,
		validate:   v,
	}
}

// Configured reports whether an authority URL is set. Without one the
// engine runs in local-only mode.
func (c *AuthorityClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// BaseURL returns the authority base URL.
func (c *AuthorityClient) BaseURL() string {
	return c.baseURL
}

// Acquire requests a new license.
func (c *AuthorityClient) Acquire(ctx context.Context, req AcquireRequest) (*AcquireResponse, error) {
	if !c.Configured() {
		return nil, &ConfigurationError{Setting: "license authority URL"}
	}

	status, body, err := c.post(ctx, acquirePath, req, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &RemoteError{StatusCode: status, Body: string(body)}
	}

	var resp AcquireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if err := c.validate.Struct(&resp); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &MalformedResponseError{Field: verrs[0].Field()}
		}
		return nil, &MalformedResponseError{Err: err}
	}
	if raw := bytes.TrimSpace(resp.SubscriptionData); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &MalformedResponseError{Field: "subscription_data"}
	}

	validTill, err := time.Parse(time.RFC3339Nano, resp.ValidTill)
	if err != nil {
		return nil, &MalformedResponseError{Field: "valid_till", Err: err}
	}
	resp.validTill = validTill

	return &resp, nil
}

// Validate asks the authority to verify a license for one candidate domain.
// A 403 is reported as *DomainRejectedError.
func (c *AuthorityClient) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	if !c.Configured() {
		return nil, &ConfigurationError{Setting: "license authority URL"}
	}

	origin := "https://" + StripProtocol(req.Domain)
	headers := map[string]string{
		"Origin":  origin,
		"Referer": origin,
	}

	status, body, err := c.post(ctx, validatePath, req, headers)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		return nil, &DomainRejectedError{Domain: req.Domain, Body: string(body)}
	}
	if status < 200 || status > 299 {
		return nil, &RemoteError{StatusCode: status, Body: string(body)}
	}

	var resp ValidateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return &resp, nil
}

func (c *AuthorityClient) post(ctx context.Context, path string, payload interface{}, headers map[string]string) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("license authority request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
