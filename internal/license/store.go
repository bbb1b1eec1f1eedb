package license

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// CredentialStore persists license records.
type CredentialStore interface {
	// Replace atomically deletes every record for the record's
	// (ApplicationID, ClientID) pair and inserts rec as the active one.
	Replace(ctx context.Context, rec *Record) error
	// Active returns the newest active record for clientID or
	// ErrLicenseNotFound.
	Active(ctx context.Context, clientID string) (*Record, error)
	// MarkValidated stamps LastValidated on the record with id.
	MarkValidated(ctx context.Context, id string, at time.Time) error
	// CountActive returns the number of active records for the pair.
	CountActive(ctx context.Context, applicationID, clientID string) (int64, error)
	Ping(ctx context.Context) error
}

// GormStore is a CredentialStore backed by gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call AutoMigrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the license_records table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *GormStore) Replace(ctx context.Context, rec *Record) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("application_id = ? AND client_id = ?", rec.ApplicationID, rec.ClientID).
			Delete(&Record{}).Error; err != nil {
			return err
		}
		rec.IsActive = true
		return tx.Create(rec).Error
	})
	if err != nil {
		return &StorageError{Op: "replace", Err: err}
	}
	return nil
}

func (s *GormStore) Active(ctx context.Context, clientID string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND is_active = ?", clientID, true).
		Order("created_at DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	return &rec, nil
}

func (s *GormStore) MarkValidated(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ?", id).
		Update("last_validated", at)
	if result.Error != nil {
		return &StorageError{Op: "mark validated", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

func (s *GormStore) CountActive(ctx context.Context, applicationID, clientID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("application_id = ? AND client_id = ? AND is_active = ?", applicationID, clientID, true).
		Count(&n).Error
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}
