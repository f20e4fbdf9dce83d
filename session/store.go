// Package session persists authenticated sessions: long-lived, revocable
// records tying a token to an account, device, and network origin.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for tokens or session ids that do not
	// resolve to a live session.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session backend unavailable")
)

// Session is one authenticated device/browser instance. Revocation flips
// Active; rows are never physically deleted by this package.
type Session struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Token          string    `gorm:"uniqueIndex;size:64" json:"-"`
	UserID         string    `gorm:"index;size:36" json:"userId"`
	UserAgent      string    `gorm:"size:512" json:"userAgent"`
	IPAddress      string    `gorm:"size:64" json:"ipAddress"`
	Location       string    `gorm:"size:128" json:"location"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its fixed expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is active and unexpired.
func (s *Session) Live(now time.Time) bool {
	return s.Active && !s.Expired(now)
}

// Store is the session persistence contract. Sessions are independent
// per device; revoking one never touches another.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *Session) error
	// GetByToken returns the session for token regardless of state;
	// callers decide how to treat revoked or expired sessions.
	GetByToken(ctx context.Context, token string) (*Session, error)
	// Touch updates last-activity for a live session. Revoked or
	// expired sessions return ErrNotFound.
	Touch(ctx context.Context, token string, at time.Time) error
	// ListForUser returns the user's sessions, most recently active
	// first.
	ListForUser(ctx context.Context, userID string) ([]Session, error)
	// Revoke flips Active off for one session owned by userID.
	Revoke(ctx context.Context, userID, sessionID string) error
	// RevokeAll flips Active off for every live session of userID.
	RevokeAll(ctx context.Context, userID string) error
}
