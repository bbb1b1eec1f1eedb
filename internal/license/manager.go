package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL       = 30 * time.Second
	DefaultCacheMaxSize   = 1000
	DefaultRequestTimeout = 30 * time.Second

	messageAcquired = "License acquired successfully"
)

// Config controls the license engine.
type Config struct {
	// AuthorityURL is the license authority base URL. Empty selects
	// local-only validation.
	AuthorityURL         string
	DefaultApplicationID string
	CacheTTL             time.Duration
	CacheMaxSize         int
	RequestTimeout       time.Duration
	Domains              DomainPolicy
	// LocalTamperCheck compares the stored checksum with the recomputed
	// one before any remote call. Off by default.
	LocalTamperCheck bool
}

// DefaultConfig returns engine defaults with no authority configured.
func DefaultConfig() Config {
	return Config{
		CacheTTL:       DefaultCacheTTL,
		CacheMaxSize:   DefaultCacheMaxSize,
		RequestTimeout: DefaultRequestTimeout,
		Domains:        DefaultDomainPolicy(),
	}
}

// Manager acquires, stores and validates licenses.
type Manager struct {
	cfg        Config
	store      CredentialStore
	cipher     *Cipher
	authority  *AuthorityClient
	cache      *ValidationCache
	inflight   singleflight.Group
	now        Clock
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *LicenseMetrics
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock injects the clock used for expiry and cache age.
func WithClock(now Clock) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithHTTPClient overrides the client used to reach the authority.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithLogger sets the logger. By default the context logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics attaches OpenTelemetry instruments.
func WithMetrics(metrics *LicenseMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager builds a Manager. Call Close to stop the cache sweeper.
func NewManager(cfg Config, store CredentialStore, cipher *Cipher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("license: credential store is required")
	}
	if cipher == nil {
		return nil, errors.New("license: cipher is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		cipher: cipher,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	m.authority = NewAuthorityClient(cfg.AuthorityURL, m.httpClient)
	m.cache = NewValidationCache(cfg.CacheTTL, cfg.CacheMaxSize, m.now)

	ctx := context.Background()
	if !m.authority.Configured() {
		m.logWarn(ctx, "configure", "No license authority configured, validation runs in local-only mode")
	}
	if cipher.UsingDefaultSecret() {
		m.logWarn(ctx, "configure", "Using default encryption secret for stored credentials")
	}

	return m, nil
}

// Close stops background work.
func (m *Manager) Close() {
	m.cache.Stop()
}

// CacheStats returns validation cache counters.
func (m *Manager) CacheStats() CacheStats {
	return m.cache.Stats()
}

// AuthorityConfigured reports whether remote validation is enabled.
func (m *Manager) AuthorityConfigured() bool {
	return m.authority.Configured()
}

// Ping checks the credential store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// AcquireLicense obtains a license from the authority and stores it as the
// only active license for (applicationID, clientID). An empty applicationID
// uses the configured default. It never returns an error; failures are
// reported in the result.
func (m *Manager) AcquireLicense(ctx context.Context, clientID, baseURL, applicationID string) AcquireResult {
	if applicationID == "" {
		applicationID = m.cfg.DefaultApplicationID
	}

	var (
		rec     *Record
		message string
	)
	err := m.TraceAcquisition(ctx, clientID, applicationID, func(ctx context.Context) error {
		var err error
		rec, message, err = m.performAcquisition(ctx, clientID, baseURL, applicationID)
		return err
	})
	if err != nil {
		m.logError(ctx, "acquire", "License acquisition failed", err,
			slog.String("client_id", clientID),
			slog.String("application_id", applicationID),
		)
		return AcquireResult{Success: false, Message: err.Error()}
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "acquire", "License acquired", rec,
		slog.Time("valid_till", rec.ValidTill),
		slog.String("subscription_type", rec.SubscriptionType),
	)
	return AcquireResult{Success: true, Message: message, License: rec}
}

func (m *Manager) performAcquisition(ctx context.Context, clientID, baseURL, applicationID string) (*Record, string, error) {
	if clientID == "" {
		return nil, "", ErrClientIDMissing
	}
	if applicationID == "" {
		return nil, "", &ConfigurationError{Setting: "default application id"}
	}
	if !m.authority.Configured() {
		return nil, "", &ConfigurationError{Setting: "license authority URL"}
	}

	resp, err := m.authority.Acquire(ctx, AcquireRequest{
		ClientID:      clientID,
		ApplicationID: applicationID,
		BaseURL:       baseURL,
	})
	m.recordRemoteRequest(ctx, "acquire", err)
	if err != nil {
		return nil, "", err
	}

	mutualKey, err := m.cipher.Encrypt(resp.MutualKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt mutual key: %w", err)
	}
	subscription, err := m.cipher.Encrypt(string(resp.SubscriptionData))
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt subscription data: %w", err)
	}

	rec := &Record{
		ID:               uuid.NewString(),
		ApplicationID:    applicationID,
		ClientID:         clientID,
		LicenseKey:       resp.LicenseKey,
		SubscriptionType: resp.SubscriptionType,
		ValidTill:        resp.ValidTillTime().UTC(),
		MutualKey:        mutualKey,
		Checksum:         resp.Checksum,
		SubscriptionData: subscription,
		BaseURL:          baseURL,
		IsActive:         true,
	}
	if err := m.store.Replace(ctx, rec); err != nil {
		return nil, "", err
	}

	// Results cached under the old license are stale now.
	m.cache.InvalidateClient(clientID)

	message := resp.Message
	if message == "" {
		message = messageAcquired
	}
	return rec, message, nil
}

// ValidateLicense reports whether clientID holds a valid license for
// domain. Results are cached per (clientID, domain) and concurrent calls
// for the same pair share one underlying check. Any result other than
// Valid == true must be treated as a deny.
func (m *Manager) ValidateLicense(ctx context.Context, clientID, domain string) *ValidationResult {
	if cached, ok := m.cache.Get(clientID, domain); ok {
		m.recordCacheLookup(ctx, true)
		return &cached
	}
	m.recordCacheLookup(ctx, false)

	// The shared check must not be cancelled by whichever caller started it.
	checkCtx := context.WithoutCancel(ctx)

	// Keying the flight by generation keeps callers arriving after a
	// re-acquisition from joining a check against the replaced license.
	generation := m.cache.Generation(clientID)
	flightKey := fmt.Sprintf("%s#%d", cacheKey(clientID, domain), generation)

	v, _, shared := m.inflight.Do(flightKey, func() (interface{}, error) {
		if cached, ok := m.cache.peek(clientID, domain); ok {
			return &cached, nil
		}
		panicked := false
		result := m.TraceValidation(checkCtx, clientID, domain, func(ctx context.Context) *ValidationResult {
			return m.safeValidation(ctx, clientID, domain, &panicked)
		})
		if !panicked {
			m.cache.SetIfCurrent(clientID, domain, generation, *result)
		}
		return result, nil
	})
	if shared {
		m.recordDeduped(ctx)
	}

	return v.(*ValidationResult)
}

// safeValidation runs performValidation and turns a panic into a failed
// result so it never reaches the callers sharing the flight.
func (m *Manager) safeValidation(ctx context.Context, clientID, domain string, panicked *bool) (result *ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			*panicked = true
			m.logError(ctx, "validate", "Validation panicked", fmt.Errorf("panic: %v", r),
				slog.String("client_id", clientID),
				slog.String("domain", domain),
			)
			result = &ValidationResult{Message: MessageValidationFailed, CheckedAt: m.now()}
		}
	}()
	return m.performValidation(ctx, clientID, domain)
}

func (m *Manager) performValidation(ctx context.Context, clientID, domain string) *ValidationResult {
	now := m.now()
	result := &ValidationResult{CheckedAt: now}

	rec, err := m.store.Active(ctx, clientID)
	if errors.Is(err, ErrLicenseNotFound) {
		result.Message = MessageNoLicense
		m.logInfo(ctx, "validate", MessageNoLicense, slog.String("client_id", clientID))
		return result
	}
	if err != nil {
		result.Message = MessageValidationFailed
		m.logError(ctx, "validate", "Failed to load license", err, slog.String("client_id", clientID))
		return result
	}

	if rec.ExpiredAt(now) {
		result.Message = MessageExpired
		m.logLicenseAction(ctx, slog.LevelInfo, "validate", MessageExpired, rec,
			slog.Time("valid_till", rec.ValidTill),
		)
		return result
	}

	mutualKey, err := m.cipher.Decrypt(rec.MutualKey)
	if err != nil {
		result.Message = MessageValidationFailed
		m.logError(ctx, "validate", "Failed to decrypt mutual key", err, slog.String("client_id", clientID))
		return result
	}
	checksum := ComputeChecksum(mutualKey, rec.ClientID, rec.ApplicationID, rec.LicenseKey, FormatValidTill(rec.ValidTill))

	if m.cfg.LocalTamperCheck && !VerifyChecksum(rec.Checksum, checksum) {
		result.Message = MessageValidationFailed
		m.logLicenseAction(ctx, slog.LevelWarn, "validate", "Stored checksum does not match license fields", rec)
		return result
	}

	if !m.authority.Configured() {
		if err := m.store.MarkValidated(ctx, rec.ID, now); err != nil {
			result.Message = MessageValidationFailed
			m.logError(ctx, "validate", "Failed to record validation", err, slog.String("client_id", clientID))
			return result
		}
		rec.LastValidated = &now
		result.Valid = true
		result.Message = MessageValid
		result.License = rec
		m.logLicenseAction(ctx, slog.LevelDebug, "validate", "License valid in local-only mode", rec)
		return result
	}

	resp, err := m.validateRemote(ctx, rec, checksum, domain)
	if err != nil {
		result.Message = MessageValidationFailed
		m.logLicenseAction(ctx, slog.LevelWarn, "validate", "Remote validation failed", rec,
			slog.String("domain", domain),
			slog.String("error", err.Error()),
			slog.String("error_type", classifyLicenseError(err)),
		)
		return result
	}

	if !resp.IsValid() {
		result.Message = MessageRejected
		m.logLicenseAction(ctx, slog.LevelWarn, "validate", "License rejected by authority", rec,
			slog.String("domain", domain),
			slog.String("remote_status", resp.Status),
			slog.String("remote_message", resp.Message),
		)
		return result
	}

	if err := m.store.MarkValidated(ctx, rec.ID, now); err != nil {
		m.logError(ctx, "validate", "Failed to record validation", err, slog.String("client_id", clientID))
	} else {
		rec.LastValidated = &now
	}
	result.Valid = true
	result.Message = MessageValid
	result.License = rec
	m.logLicenseAction(ctx, slog.LevelDebug, "validate", "License valid", rec, slog.String("domain", domain))
	return result
}

// validateRemote walks the candidate domains. A 403 moves on to the next
// candidate; any other failure stops the walk.
func (m *Manager) validateRemote(ctx context.Context, rec *Record, checksum, domain string) (*ValidateResponse, error) {
	candidates := m.cfg.Domains.Candidates(domain, rec.BaseURL)

	var lastErr error
	for _, candidate := range candidates {
		resp, err := m.authority.Validate(ctx, ValidateRequest{
			ClientID:      rec.ClientID,
			ApplicationID: rec.ApplicationID,
			LicenseKey:    rec.LicenseKey,
			Checksum:      checksum,
			Domain:        candidate,
		})
		m.recordRemoteRequest(ctx, "validate", err)
		if err == nil {
			return resp, nil
		}

		var rejected *DomainRejectedError
		if !errors.As(err, &rejected) {
			return nil, err
		}
		m.logDebug(ctx, "validate", "Candidate domain rejected", slog.String("candidate", candidate))
		lastErr = err
	}

	if lastErr == nil {
		lastErr = &ConfigurationError{Setting: "validation domain"}
	}
	return nil, lastErr
}

// GetCurrentLicense returns the client's active license, or nil when there
// is none.
func (m *Manager) GetCurrentLicense(ctx context.Context, clientID string) (*Record, error) {
	rec, err := m.store.Active(ctx, clientID)
	if errors.Is(err, ErrLicenseNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetUserLimits returns the entitled user range, or nil when the client has
// no license or the license defines no limits.
func (m *Manager) GetUserLimits(ctx context.Context, clientID string) (*UserLimits, error) {
	rec, err := m.GetCurrentLicense(ctx, clientID)
	if err != nil || rec == nil {
		return nil, err
	}
	return m.userLimits(rec)
}

func (m *Manager) userLimits(rec *Record) (*UserLimits, error) {
	plaintext, err := m.cipher.Decrypt(rec.SubscriptionData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt subscription data: %w", err)
	}
	return parseUserLimits(plaintext)
}

// CheckUserLimit reports whether currentCount users are permitted. Only
// exceeding the maximum denies; falling below the minimum is reported but
// allowed.
func (m *Manager) CheckUserLimit(ctx context.Context, clientID string, currentCount int) UserLimitCheck {
	rec, err := m.GetCurrentLicense(ctx, clientID)
	if err != nil {
		m.logError(ctx, "check_user_limit", "Failed to load license", err, slog.String("client_id", clientID))
		return UserLimitCheck{Allowed: false, Message: MessageValidationFailed}
	}
	if rec == nil {
		return UserLimitCheck{Allowed: false, Message: MessageNoLicense}
	}

	limits, err := m.userLimits(rec)
	if err != nil {
		m.logError(ctx, "check_user_limit", "Failed to read user limits", err, slog.String("client_id", clientID))
		return UserLimitCheck{Allowed: false, Message: MessageValidationFailed}
	}
	if limits == nil {
		return UserLimitCheck{Allowed: true, Message: "No user limits defined"}
	}

	switch {
	case limits.Maximum != nil && currentCount > *limits.Maximum:
		return UserLimitCheck{
			Allowed: false,
			Message: fmt.Sprintf("User limit exceeded: %d users exceeds maximum of %d", currentCount, *limits.Maximum),
			Limits:  limits,
		}
	case limits.Minimum != nil && currentCount < *limits.Minimum:
		return UserLimitCheck{
			Allowed: true,
			Message: fmt.Sprintf("Below minimum user count: %d users is below minimum of %d", currentCount, *limits.Minimum),
			Limits:  limits,
		}
	default:
		return UserLimitCheck{Allowed: true, Message: "Within user limits", Limits: limits}
	}
}

// GetLicenseStatus summarises the client's license using local state only.
func (m *Manager) GetLicenseStatus(ctx context.Context, clientID string) LicenseStatus {
	rec, err := m.GetCurrentLicense(ctx, clientID)
	if err != nil {
		m.logError(ctx, "status", "Failed to load license", err, slog.String("client_id", clientID))
		return LicenseStatus{Message: MessageValidationFailed}
	}
	if rec == nil {
		return LicenseStatus{Message: MessageNoLicense}
	}

	now := m.now()
	expiresAt := rec.ValidTill
	status := LicenseStatus{
		HasLicense:       true,
		IsValid:          !rec.ExpiredAt(now),
		ExpiresAt:        &expiresAt,
		SubscriptionType: rec.SubscriptionType,
	}

	if limits, err := m.userLimits(rec); err != nil {
		m.logWarn(ctx, "status", "Failed to read user limits",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	} else {
		status.UserLimits = limits
	}

	if status.IsValid {
		status.DaysRemaining = int(rec.ValidTill.Sub(now).Hours() / 24)
		status.Message = fmt.Sprintf("License is active, expires in %d days", status.DaysRemaining)
	} else {
		status.Message = MessageExpired
	}
	return status
}
