package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormStore implements Store on a relational database through GORM.
// SQLite is used in the bundled daemon; any GORM dialector works.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the sessions table and returns a store bound to db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, fmt.Errorf("%w: migrate sessions: %v", ErrUnavailable, err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, sess *Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *GormStore) GetByToken(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &sess, nil
}

func (s *GormStore) Touch(ctx context.Context, token string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("token = ? AND active = ? AND expires_at > ?", token, true, at).
		Update("last_activity_at", at)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sessions, nil
}

func (s *GormStore) Revoke(ctx context.Context, userID, sessionID string) error {
	res := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RevokeAll(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("user_id = ? AND active = ?", userID, true).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return nil
}
