package license

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"licensed/internal/shared/testutil"
)

const (
	testAppID     = "app-1"
	testClientID  = "client-1"
	testMutualKey = "mutual-secret"
	testKey       = "LIC-1234-5678-ABCD"
)

// fakeClock is a goroutine-safe settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	testCipherOnce sync.Once
	testCipher     *Cipher
)

// sharedCipher avoids paying for scrypt in every test.
func sharedCipher(t testing.TB) *Cipher {
	t.Helper()
	testCipherOnce.Do(func() {
		c, err := NewCipher("test-secret")
		if err != nil {
			panic(err)
		}
		testCipher = c
	})
	return testCipher
}

func newTestStore(t testing.TB) *GormStore {
	t.Helper()
	return NewGormStore(testutil.NewTestDB(t, &Record{}))
}

func newTestManager(t testing.TB, cfg Config, store CredentialStore, clock *fakeClock) *Manager {
	t.Helper()
	logger, _ := testutil.NewLogger()
	m, err := NewManager(cfg, store, sharedCipher(t),
		WithClock(clock.Now),
		WithLogger(logger),
	)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func testConfig(authorityURL string) Config {
	cfg := DefaultConfig()
	cfg.AuthorityURL = authorityURL
	cfg.DefaultApplicationID = testAppID
	return cfg
}

// issuance builds a well-formed acquisition body for validTill.
func issuance(validTill time.Time, subscription interface{}) map[string]interface{} {
	iso := FormatValidTill(validTill)
	return map[string]interface{}{
		"license_key":       testKey,
		"subscription_type": "annual",
		"valid_till":        iso,
		"checksum":          ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, iso),
		"mutual_key":        testMutualKey,
		"subscription_data": subscription,
		"message":           "License issued",
	}
}

func usersSubscription(min, max int) map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"Users": map[string]int{"minimum": min, "maximum": max},
		},
	}
}

func intPtr(v int) *int { return &v }

func limitsOf(lo, hi int) *UserLimits {
	return &UserLimits{Minimum: intPtr(lo), Maximum: intPtr(hi)}
}

func scriptIssuance(fa *testutil.FakeAuthority, body map[string]interface{}) {
	fa.OnAcquire(func(testutil.AuthorityCall) testutil.Reply {
		return testutil.Reply{Status: http.StatusOK, Body: body}
	})
}

// seedRecord stores an encrypted record directly, bypassing acquisition.
func seedRecord(t testing.TB, store CredentialStore, validTill time.Time, subscription interface{}) *Record {
	t.Helper()
	c := sharedCipher(t)

	mutual, err := c.Encrypt(testMutualKey)
	require.NoError(t, err)
	data, err := json.Marshal(subscription)
	require.NoError(t, err)
	sub, err := c.Encrypt(string(data))
	require.NoError(t, err)

	iso := FormatValidTill(validTill)
	rec := &Record{
		ID:               uuid.NewString(),
		ApplicationID:    testAppID,
		ClientID:         testClientID,
		LicenseKey:       testKey,
		SubscriptionType: "annual",
		ValidTill:        validTill.UTC(),
		MutualKey:        mutual,
		Checksum:         ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, iso),
		SubscriptionData: sub,
		BaseURL:          "https://app.example.com",
	}
	require.NoError(t, store.Replace(context.Background(), rec))
	return rec
}
