package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Checksum
// =============================================================================

func TestFormatValidTill(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"utc millis", time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC), "2025-01-02T03:04:05.006Z"},
		{"zero millis kept", time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC), "2030-12-31T23:59:59.000Z"},
		{"sub-millisecond truncated", time.Date(2025, 6, 1, 0, 0, 0, 123_456_789, time.UTC), "2025-06-01T00:00:00.123Z"},
		{"offset converted to utc", time.Date(2025, 6, 1, 3, 0, 0, 0, time.FixedZone("AST", 3*60*60)), "2025-06-01T00:00:00.000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValidTill(tt.in))
		})
	}
}

func TestComputeChecksum(t *testing.T) {
	const validTill = "2030-01-01T00:00:00.000Z"

	t.Run("hmac over concatenated fields", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte("k"))
		mac.Write([]byte("c" + "a" + "l" + validTill))
		want := hex.EncodeToString(mac.Sum(nil))

		assert.Equal(t, want, ComputeChecksum("k", "c", "a", "l", validTill))
	})

	t.Run("deterministic lowercase hex", func(t *testing.T) {
		first := ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, validTill)
		second := ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, validTill)

		assert.Equal(t, first, second)
		assert.Len(t, first, 64)
		assert.Equal(t, strings.ToLower(first), first)
	})

	t.Run("single character changes the digest", func(t *testing.T) {
		base := ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, validTill)

		variants := map[string]string{
			"mutual key":  ComputeChecksum(testMutualKey+"x", testClientID, testAppID, testKey, validTill),
			"client id":   ComputeChecksum(testMutualKey, "client-2", testAppID, testKey, validTill),
			"app id":      ComputeChecksum(testMutualKey, testClientID, "app-2", testKey, validTill),
			"license key": ComputeChecksum(testMutualKey, testClientID, testAppID, "LIC-1234-5678-ABCE", validTill),
			"valid till":  ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, "2030-01-01T00:00:00.001Z"),
		}
		for field, sum := range variants {
			assert.NotEqual(t, base, sum, field)
		}
	})
}

func TestVerifyChecksum(t *testing.T) {
	sum := ComputeChecksum(testMutualKey, testClientID, testAppID, testKey, "2030-01-01T00:00:00.000Z")

	assert.True(t, VerifyChecksum(sum, sum))
	assert.True(t, VerifyChecksum(strings.ToUpper(sum), sum))
	assert.False(t, VerifyChecksum(sum[:63]+"0", sum[:63]+"1"))
	assert.False(t, VerifyChecksum("", sum))
}
