// Package account stores back-office accounts in a relational database
// and implements the engine's AccountProvider contract.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sitekit/authcore"
)

// ErrDuplicateEmail is returned by Create when the email is taken.
var ErrDuplicateEmail = errors.New("account email already exists")

// record is the persisted shape of an account. Emails are stored
// lowercased so lookups stay case-insensitive across dialects.
type record struct {
	ID               string `gorm:"primaryKey;size:36"`
	Email            string `gorm:"uniqueIndex;size:255"`
	Name             string `gorm:"size:255"`
	PasswordHash     string `gorm:"size:512"`
	Role             string `gorm:"size:32"`
	SecondFactor     uint8
	TOTPSecret       string `gorm:"size:128"`
	BackupCodeHashes string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (record) TableName() string { return "accounts" }

// GormProvider implements authcore.AccountProvider on GORM.
type GormProvider struct {
	db *gorm.DB
}

// NewGormProvider migrates the accounts table and returns a provider.
func NewGormProvider(db *gorm.DB) (*GormProvider, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("%w: migrate accounts: %v", authcore.ErrPersistenceUnavailable, err)
	}
	return &GormProvider{db: db}, nil
}

// Create inserts a new account. The caller supplies an already hashed
// password.
func (p *GormProvider) Create(ctx context.Context, acct authcore.Account) error {
	rec, err := toRecord(acct)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, err)
	}
	return nil
}

// Count returns the number of stored accounts. The daemon uses it to
// decide whether to seed the bootstrap admin.
func (p *GormProvider) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.WithContext(ctx).Model(&record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, err)
	}
	return n, nil
}

func (p *GormProvider) GetByEmail(ctx context.Context, email string) (authcore.Account, error) {
	var rec record
	err := p.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authcore.Account{}, authcore.ErrAccountNotFound
		}
		return authcore.Account{}, fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, err)
	}
	return fromRecord(rec)
}

func (p *GormProvider) GetByID(ctx context.Context, id string) (authcore.Account, error) {
	var rec record
	err := p.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authcore.Account{}, authcore.ErrAccountNotFound
		}
		return authcore.Account{}, fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, err)
	}
	return fromRecord(rec)
}

func (p *GormProvider) UpdatePasswordHash(ctx context.Context, id, newHash string) error {
	res := p.db.WithContext(ctx).
		Model(&record{}).
		Where("id = ?", id).
		Update("password_hash", newHash)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// SetSecondFactor writes the second factor state, secret, and backup
// code hashes in one update so partially enrolled rows cannot appear.
func (p *GormProvider) SetSecondFactor(ctx context.Context, id string, state authcore.SecondFactorState, totpSecret string, backupCodeHashes []string) error {
	encoded, err := encodeHashes(backupCodeHashes)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).
		Model(&record{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"second_factor":      uint8(state),
			"totp_secret":        totpSecret,
			"backup_code_hashes": encoded,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (p *GormProvider) ReplaceBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error {
	encoded, err := encodeHashes(backupCodeHashes)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).
		Model(&record{}).
		Where("id = ?", id).
		Update("backup_code_hashes", encoded)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", authcore.ErrPersistenceUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func toRecord(acct authcore.Account) (record, error) {
	encoded, err := encodeHashes(acct.BackupCodeHashes)
	if err != nil {
		return record{}, err
	}
	return record{
		ID:               acct.ID,
		Email:            strings.ToLower(strings.TrimSpace(acct.Email)),
		Name:             acct.Name,
		PasswordHash:     acct.PasswordHash,
		Role:             string(acct.Role),
		SecondFactor:     uint8(acct.SecondFactor),
		TOTPSecret:       acct.TOTPSecret,
		BackupCodeHashes: encoded,
	}, nil
}

func fromRecord(rec record) (authcore.Account, error) {
	hashes, err := decodeHashes(rec.BackupCodeHashes)
	if err != nil {
		return authcore.Account{}, err
	}
	return authcore.Account{
		ID:               rec.ID,
		Email:            rec.Email,
		Name:             rec.Name,
		PasswordHash:     rec.PasswordHash,
		Role:             authcore.Role(rec.Role),
		SecondFactor:     authcore.SecondFactorState(rec.SecondFactor),
		TOTPSecret:       rec.TOTPSecret,
		BackupCodeHashes: hashes,
	}, nil
}

func encodeHashes(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("encode backup code hashes: %w", err)
	}
	return string(data), nil
}

func decodeHashes(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(encoded), &hashes); err != nil {
		return nil, fmt.Errorf("decode backup code hashes: %w", err)
	}
	return hashes, nil
}
