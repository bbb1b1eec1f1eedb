package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// validTillLayout is the ISO-8601 form the license authority signs: UTC,
// millisecond precision, literal Z suffix.
const validTillLayout = "2006-01-02T15:04:05.000Z"

// FormatValidTill renders an expiry instant exactly as it appears in the
// checksum message.
func FormatValidTill(t time.Time) string {
	return t.UTC().Format(validTillLayout)
}

// ComputeChecksum returns the hex HMAC-SHA256 of
// clientID+applicationID+licenseKey+validTillISO keyed by mutualKey.
//
// The concatenation has no separators and must match what the license
// authority used at issuance.
func ComputeChecksum(mutualKey, clientID, applicationID, licenseKey, validTillISO string) string {
	mac := hmac.New(sha256.New, []byte(mutualKey))
	mac.Write([]byte(clientID + applicationID + licenseKey + validTillISO))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChecksum compares an issued checksum against a recomputed one in
// constant time. Hex case is ignored.
func VerifyChecksum(issued, computed string) bool {
	return hmac.Equal([]byte(strings.ToLower(issued)), []byte(strings.ToLower(computed)))
}
