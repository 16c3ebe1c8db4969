package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/unla-edge/internal/common/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CredentialModel is the credentials table
type CredentialModel struct {
	ID        string     `gorm:"primaryKey;size:64"`
	Name      string     `gorm:"size:128"`
	Digest    string     `gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	Revoked   bool       `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

func (m *CredentialModel) toCredential() *Credential {
	cred := &Credential{ID: m.ID, Name: m.Name, Digest: m.Digest, Revoked: m.Revoked}
	if m.ExpiresAt != nil {
		cred.ExpiresAt = *m.ExpiresAt
	}
	return cred
}

// DBStore looks credentials up in a SQL database through gorm
type DBStore struct {
	db *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore opens the configured database and migrates the credentials table
func NewDBStore(cfg config.DatabaseConfig) (*DBStore, error) {
	var dialector gorm.Dialector
	dsn := cfg.GetDSN()
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewDBStoreWithDB(db)
}

// NewDBStoreWithDB uses an existing connection
func NewDBStoreWithDB(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&CredentialModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credentials: %w", err)
	}
	return &DBStore{db: db}, nil
}

func (s *DBStore) Lookup(ctx context.Context, token string) (*Credential, error) {
	var model CredentialModel
	err := s.db.WithContext(ctx).Where("digest = ?", Digest(token)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	return model.toCredential(), nil
}

// Create stores a credential for token
func (s *DBStore) Create(ctx context.Context, token string, cred *Credential) error {
	cred.Digest = Digest(token)
	model := CredentialModel{ID: cred.ID, Name: cred.Name, Digest: cred.Digest, Revoked: cred.Revoked}
	if !cred.ExpiresAt.IsZero() {
		expires := cred.ExpiresAt
		model.ExpiresAt = &expires
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// Revoke flags the credential with id as revoked
func (s *DBStore) Revoke(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", id).Update("revoked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
