package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"licensed/internal/license"
	"licensed/internal/shared/testutil"
)

// MockLicenseService implements the LicenseService interface for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) AcquireLicense(ctx context.Context, clientID, baseURL, applicationID string) license.AcquireResult {
	args := m.Called(ctx, clientID, baseURL, applicationID)
	return args.Get(0).(license.AcquireResult)
}

func (m *MockLicenseService) ValidateLicense(ctx context.Context, clientID, domain string) *license.ValidationResult {
	args := m.Called(ctx, clientID, domain)
	return args.Get(0).(*license.ValidationResult)
}

func (m *MockLicenseService) GetCurrentLicense(ctx context.Context, clientID string) (*license.Record, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.Record), args.Error(1)
}

func (m *MockLicenseService) GetLicenseStatus(ctx context.Context, clientID string) license.LicenseStatus {
	args := m.Called(ctx, clientID)
	return args.Get(0).(license.LicenseStatus)
}

func (m *MockLicenseService) GetUserLimits(ctx context.Context, clientID string) (*license.UserLimits, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.UserLimits), args.Error(1)
}

func (m *MockLicenseService) CheckUserLimit(ctx context.Context, clientID string, currentCount int) license.UserLimitCheck {
	args := m.Called(ctx, clientID, currentCount)
	return args.Get(0).(license.UserLimitCheck)
}

func (m *MockLicenseService) CacheStats() license.CacheStats {
	args := m.Called()
	return args.Get(0).(license.CacheStats)
}

func newTestRouter(t *testing.T, service LicenseService, acquireLimit func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	logger, _ := testutil.NewLogger()
	r := chi.NewRouter()
	r.Mount("/api/license", NewLicenseHandler(service, acquireLimit, logger).Routes())
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

// =============================================================================
// POST /acquire
// =============================================================================

func TestLicenseHandler_Acquire(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockLicenseService)
		expectedStatus int
		expectedBody   func(*testing.T, map[string]interface{})
	}{
		{
			name: "success",
			body: `{"client_id":" c1 ","base_url":"https://app.example.com","app_id":"app"}`,
			setupMock: func(m *MockLicenseService) {
				m.On("AcquireLicense", mock.Anything, "c1", "https://app.example.com", "app").
					Return(license.AcquireResult{
						Success: true,
						Message: "License acquired successfully",
						License: &license.Record{ClientID: "c1", MutualKey: "sealed"},
					})
			},
			expectedStatus: http.StatusCreated,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["success"])
				lic := body["license"].(map[string]interface{})
				assert.Equal(t, "c1", lic["client_id"])
				assert.NotContains(t, lic, "mutual_key")
			},
		},
		{
			name: "authority failure",
			body: `{"client_id":"c1","base_url":"https://app.example.com"}`,
			setupMock: func(m *MockLicenseService) {
				m.On("AcquireLicense", mock.Anything, "c1", "https://app.example.com", "").
					Return(license.AcquireResult{Message: "license authority returned status 500: down"})
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, false, body["success"])
				assert.Contains(t, body["message"], "500")
			},
		},
		{
			name:           "missing fields",
			body:           `{"client_id":"  "}`,
			setupMock:      func(m *MockLicenseService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "VALIDATION_ERROR", body["error_code"])
				assert.Len(t, body["errors"], 2)
			},
		},
		{
			name:           "malformed json",
			body:           `{"client_id":`,
			setupMock:      func(m *MockLicenseService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "INVALID_REQUEST", body["error_code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockLicenseService)
			tt.setupMock(service)

			w, body := doRequest(t, newTestRouter(t, service, nil), http.MethodPost, "/api/license/acquire", []byte(tt.body))

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.expectedBody(t, body)
			service.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_AcquireIsRateLimited(t *testing.T) {
	service := new(MockLicenseService)
	limited := 0
	limiter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	service.On("CacheStats").Return(license.CacheStats{})
	router := newTestRouter(t, service, limiter)

	w, _ := doRequest(t, router, http.MethodPost, "/api/license/acquire", []byte(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/api/license/cache/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, limited)
	service.AssertNotCalled(t, "AcquireLicense", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// GET /validate
// =============================================================================

func TestLicenseHandler_Validate(t *testing.T) {
	checkedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("explicit domain", func(t *testing.T) {
		service := new(MockLicenseService)
		service.On("ValidateLicense", mock.Anything, "c1", "shop.example.com").
			Return(&license.ValidationResult{Valid: true, Message: license.MessageValid, CheckedAt: checkedAt})

		w, body := doRequest(t, newTestRouter(t, service, nil), http.MethodGet,
			"/api/license/validate?client_id=c1&domain=shop.example.com", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, license.MessageValid, body["message"])
		service.AssertExpectations(t)
	})

	t.Run("domain from request host", func(t *testing.T) {
		service := new(MockLicenseService)
		service.On("ValidateLicense", mock.Anything, "c1", "example.com").
			Return(&license.ValidationResult{Message: license.MessageNoLicense})

		w, body := doRequest(t, newTestRouter(t, service, nil), http.MethodGet, "/api/license/validate?client_id=c1", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["valid"])
		service.AssertExpectations(t)
	})

	t.Run("client id required", func(t *testing.T) {
		service := new(MockLicenseService)

		w, body := doRequest(t, newTestRouter(t, service, nil), http.MethodGet, "/api/license/validate", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "/errors/validation", body["type"])
		service.AssertNotCalled(t, "ValidateLicense", mock.Anything, mock.Anything, mock.Anything)
	})
}

// =============================================================================
// Per-client routes
// =============================================================================

func TestLicenseHandler_GetLicense(t *testing.T) {
	tests := []struct {
		name           string
		setupMock      func(*MockLicenseService)
		expectedStatus int
		expectedType   string
	}{
		{
			name: "found",
			setupMock: func(m *MockLicenseService) {
				m.On("GetCurrentLicense", mock.Anything, "c1").
					Return(&license.Record{ClientID: "c1", LicenseKey: "KEY", SubscriptionData: "sealed"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "no license",
			setupMock: func(m *MockLicenseService) {
				m.On("GetCurrentLicense", mock.Anything, "c1").Return(nil, nil)
			},
			expectedStatus: http.StatusNotFound,
			expectedType:   "/errors/license/not-found",
		},
		{
			name: "store failure",
			setupMock: func(m *MockLicenseService) {
				m.On("GetCurrentLicense", mock.Anything, "c1").
					Return(nil, &license.StorageError{Op: "load", Err: errors.New("disk")})
			},
			expectedStatus: http.StatusInternalServerError,
			expectedType:   "/errors/internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockLicenseService)
			tt.setupMock(service)

			w, body := doRequest(t, newTestRouter(t, service, nil), http.MethodGet, "/api/license/c1", nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, body["type"])
			} else {
				assert.Equal(t, "KEY", body["license_key"])
				assert.NotContains(t, body, "subscription_data")
			}
			service.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_StatusAndLimits(t *testing.T) {
	service := new(MockLicenseService)
	lo, hi := 1, 10
	limits := &license.UserLimits{Minimum: &lo, Maximum: &hi}
	service.On("GetLicenseStatus", mock.Anything, "c1").
		Return(license.LicenseStatus{HasLicense: true, IsValid: true, DaysRemaining: 12, Message: "License is active, expires in 12 days"})
	service.On("GetUserLimits", mock.Anything, "c1").Return(limits, nil)
	service.On("CheckUserLimit", mock.Anything, "c1", 11).
		Return(license.UserLimitCheck{Allowed: false, Message: "User limit exceeded", Limits: limits})
	router := newTestRouter(t, service, nil)

	w, body := doRequest(t, router, http.MethodGet, "/api/license/c1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(12), body["days_remaining"])

	w, body = doRequest(t, router, http.MethodGet, "/api/license/c1/limits", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"minimum": float64(1), "maximum": float64(10)}, body["limits"])

	w, body = doRequest(t, router, http.MethodGet, "/api/license/c1/check-limit?count=11", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["allowed"])

	for _, bad := range []string{"", "abc", "-1"} {
		w, body = doRequest(t, router, http.MethodGet, "/api/license/c1/check-limit?count="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.True(t, strings.Contains(w.Body.String(), "count"), bad)
	}

	service.AssertExpectations(t)
}

func TestLicenseHandler_CacheStats(t *testing.T) {
	service := new(MockLicenseService)
	service.On("CacheStats").Return(license.CacheStats{Entries: 3, Hits: 9, Misses: 1, HitRatio: 0.9})

	w, body := doRequest(t, newTestRouter(t, service, nil), http.MethodGet, "/api/license/cache/stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["entries"])
	assert.Equal(t, 0.9, body["hit_ratio"])
	service.AssertExpectations(t)
}
