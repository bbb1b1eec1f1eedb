// Package license acquires licenses from a remote license authority, stores
// them with their secrets encrypted, and answers "is this client licensed for
// this domain right now?" for feature gating.
//
// # Components
//
//	- Manager: acquisition, validation and read-only status queries
//	- AuthorityClient: HTTP client for the license authority
//	- CredentialStore: persistence of license records (GormStore)
//	- Cipher: AES-256-GCM field encryption with an scrypt-derived key
//	- ValidationCache: short-lived memo of validation results
//	- DomainPolicy: ordered candidate domains offered to the authority
//
// # Acquisition
//
//	result := manager.AcquireLicense(ctx, "clientA", "https://app.example.com", "app1")
//	if !result.Success {
//		// result.Message carries the failure text
//	}
//
// The authority must return a mutual key. It is encrypted together with the
// subscription payload before the record replaces any previous record for the
// same application and client in a single transaction.
//
// # Validation
//
//	result := manager.ValidateLicense(ctx, "clientA", "app.example.com")
//	if !result.Valid {
//		// deny
//	}
//
// Each call is answered from the cache when a result for the same client and
// domain is younger than the cache TTL. Concurrent calls for the same pair
// share a single check. A check loads the active record, rejects it when
// expired, recomputes the HMAC checksum from the stored fields and, when an
// authority is configured, offers that checksum for each candidate domain in
// turn. A 403 means "wrong domain" and moves on to the next candidate. Any
// other failure ends the walk.
//
// Without an authority URL the engine runs in local-only mode and a
// non-expired record is valid on its own. That mode trusts whatever is in the
// store.
//
// # Security
//
//	- Mutual keys and subscription payloads are never logged or serialized
//	- License keys appear in logs masked and hashed only
//	- Failure messages never reveal which domain candidate failed
package license
