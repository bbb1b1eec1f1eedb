package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
)

// ClientIDHeader names the client whose license a gated request runs under.
const ClientIDHeader = "X-Client-ID"

const licenseResultKey contextKey = "license-result"

// LicenseValidator is the part of the license manager the gate needs.
type LicenseValidator interface {
	ValidateLicense(ctx context.Context, clientID, domain string) *license.ValidationResult
}

// LicenseGate denies requests whose client does not hold a valid license.
type LicenseGate struct {
	validator       LicenseValidator
	logger          *slog.Logger
	errorHandler    *apierrors.ErrorHandler
	defaultClientID string
	excludePaths    []string
	excludePrefixes []string
}

// NewLicenseGate creates a gate. defaultClientID is used when a request does
// not send X-Client-ID; empty means the header is required.
func NewLicenseGate(validator LicenseValidator, defaultClientID string, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		validator:       validator,
		logger:          infrastructure.WithComponent(logger, "license_gate"),
		errorHandler:    apierrors.NewErrorHandler(logger, false),
		defaultClientID: defaultClientID,
		excludePaths:    []string{"/api/health", "/metrics"},
	}
}

// AddExcludePath adds a path to be excluded from license validation
func (g *LicenseGate) AddExcludePath(path string) {
	g.excludePaths = append(g.excludePaths, path)
}

// AddExcludePrefix adds a path prefix to be excluded from license validation
func (g *LicenseGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

// Handler returns the middleware handler function.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := otel.Tracer("licensed/http").Start(r.Context(), "license_gate.validate",
			trace.WithAttributes(attribute.String("http.path", r.URL.Path)))
		defer span.End()

		clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if clientID == "" {
			clientID = g.defaultClientID
		}
		if clientID == "" {
			g.logger.WarnContext(ctx, "gated request without client id",
				slog.String("path", r.URL.Path))
			g.reject(w, r, apierrors.ErrUnauthorized)
			return
		}

		domain := RequestDomain(r)
		result := g.validator.ValidateLicense(ctx, clientID, domain)
		span.SetAttributes(
			attribute.String("license.client_id", clientID),
			attribute.String("license.domain", domain),
			attribute.Bool("license.valid", result.Valid),
		)

		if !result.Valid {
			g.logger.WarnContext(ctx, "license gate denied request",
				slog.String("client_id", clientID),
				slog.String("domain", domain),
				slog.String("path", r.URL.Path),
				slog.String("reason", result.Message))
			g.reject(w, r, apierrors.New(http.StatusForbidden, "INVALID_LICENSE", result.Message))
			return
		}

		ctx = context.WithValue(ctx, licenseResultKey, result)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *LicenseGate) reject(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	g.errorHandler.HandleError(w, r, apiErr)
}

func (g *LicenseGate) shouldExcludePath(path string) bool {
	for _, excluded := range g.excludePaths {
		if path == excluded {
			return true
		}
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// LicenseFromContext returns the validation result the gate accepted.
func LicenseFromContext(ctx context.Context) (*license.ValidationResult, bool) {
	result, ok := ctx.Value(licenseResultKey).(*license.ValidationResult)
	return result, ok
}

// RequestDomain is the host the caller is serving from: the Origin header's
// host when present, otherwise the request Host without a port.
func RequestDomain(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
