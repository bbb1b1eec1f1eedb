package license

import (
	"encoding/json"
	"fmt"
	"time"
)

// Clock returns the current instant. Tests inject a fake one.
type Clock func() time.Time

// Record is a persisted license. MutualKey and SubscriptionData hold
// ciphertext only and never leave the package in JSON form.
type Record struct {
	ID               string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	ApplicationID    string     `gorm:"column:application_id;size:191;index:idx_license_pair" json:"application_id"`
	ClientID         string     `gorm:"column:client_id;size:191;index:idx_license_pair;index:idx_license_client" json:"client_id"`
	LicenseKey       string     `gorm:"column:license_key" json:"license_key"`
	SubscriptionType string     `gorm:"column:subscription_type" json:"subscription_type"`
	ValidTill        time.Time  `gorm:"column:valid_till" json:"valid_till"`
	MutualKey        string     `gorm:"column:mutual_key" json:"-"`
	Checksum         string     `gorm:"column:checksum" json:"checksum"`
	SubscriptionData string     `gorm:"column:subscription_data" json:"-"`
	BaseURL          string     `gorm:"column:base_url" json:"base_url"`
	IsActive         bool       `gorm:"column:is_active;index:idx_license_client" json:"is_active"`
	LastValidated    *time.Time `gorm:"column:last_validated" json:"last_validated,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName pins the table name used by gorm.
func (Record) TableName() string {
	return "license_records"
}

// ExpiredAt reports whether the license is expired at now. A license is
// still valid at exactly ValidTill.
func (r *Record) ExpiredAt(now time.Time) bool {
	return now.After(r.ValidTill)
}

// UserLimits is the entitled user-count range. A nil bound was not issued
// and never constrains the count.
type UserLimits struct {
	Minimum *int `json:"minimum,omitempty"`
	Maximum *int `json:"maximum,omitempty"`
}

// subscriptionData mirrors the entitlement payload issued by the authority.
// Only the Users block is interpreted; everything else is carried opaquely.
type subscriptionData struct {
	Properties struct {
		Users *UserLimits `json:"Users,omitempty"`
	} `json:"properties"`
}

func parseUserLimits(plaintext string) (*UserLimits, error) {
	var data subscriptionData
	if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
		return nil, fmt.Errorf("failed to parse subscription data: %w", err)
	}
	return data.Properties.Users, nil
}

// AcquireResult is the outcome of an acquisition. Failures carry the raw
// error text so admins can diagnose them.
type AcquireResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	License *Record `json:"license,omitempty"`
}

// ValidationResult is the outcome of a validation. Every non-true Valid is
// a deny. Results from ValidateLicense may be shared between callers and
// must not be modified; License is a private copy per cache hit.
type ValidationResult struct {
	Valid     bool      `json:"valid"`
	Message   string    `json:"message"`
	License   *Record   `json:"license,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// UserLimitCheck is the outcome of CheckUserLimit.
type UserLimitCheck struct {
	Allowed bool        `json:"allowed"`
	Message string      `json:"message"`
	Limits  *UserLimits `json:"limits,omitempty"`
}

// LicenseStatus summarises the client's license from local state only.
type LicenseStatus struct {
	HasLicense       bool        `json:"has_license"`
	IsValid          bool        `json:"is_valid"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty"`
	DaysRemaining    int         `json:"days_remaining,omitempty"`
	SubscriptionType string      `json:"subscription_type,omitempty"`
	UserLimits       *UserLimits `json:"user_limits,omitempty"`
	Message          string      `json:"message"`
}
