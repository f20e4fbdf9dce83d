package authcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sitekit/authcore/internal"
	"github.com/sitekit/authcore/session"
)

// issueSession persists a new session for accountID. Persistence
// failure is swallowed: the login already succeeded, the user just has
// to sign in again sooner. Callers get nil in that case.
func (e *Engine) issueSession(ctx context.Context, accountID string) *SessionInfo {
	token, err := internal.NewSessionToken()
	if err != nil {
		e.metricInc(MetricSessionCreateFailed)
		return nil
	}

	now := time.Now()
	sess := &session.Session{
		ID:             uuid.NewString(),
		Token:          token,
		UserID:         accountID,
		UserAgent:      userAgentFromContext(ctx),
		IPAddress:      clientIPFromContext(ctx),
		Location:       locationFromContext(ctx),
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(e.config.Session.Lifetime),
	}

	if err := e.sessions.Create(ctx, sess); err != nil {
		log.Print("authcore: session create failed")
		e.metricInc(MetricSessionCreateFailed)
		e.emitAudit(ctx, auditEventLoginSuccess, true, accountID, "", ErrPersistenceUnavailable, func() map[string]string {
			return map[string]string{"reason": "session_create_failed"}
		})
		return nil
	}

	e.metricInc(MetricSessionCreated)
	return &SessionInfo{
		ID:        sess.ID,
		Token:     sess.Token,
		UserAgent: sess.UserAgent,
		IPAddress: sess.IPAddress,
	}
}

func (e *Engine) lookupLiveSession(ctx context.Context, token string) (*session.Session, error) {
	sess, err := e.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, ErrPersistenceUnavailable
	}
	if !sess.Live(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns every stored session for userID, newest activity
// first, including revoked and expired ones for display.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, ErrPersistenceUnavailable
	}
	return sessions, nil
}

// RevokeSession deactivates one of userID's sessions. Other sessions
// are untouched.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.Revoke(ctx, userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return ErrPersistenceUnavailable
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, nil)
	return nil
}

// RevokeAllSessions deactivates every live session of userID.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.RevokeAll(ctx, userID); err != nil {
		return ErrPersistenceUnavailable
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionsRevokedAll, true, userID, "", nil, nil)
	return nil
}

// TouchSession refreshes last-activity for the session behind token.
// Revoked and expired sessions return ErrSessionNotFound.
func (e *Engine) TouchSession(ctx context.Context, token string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Touch(ctx, token, time.Now()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return ErrPersistenceUnavailable
	}
	return nil
}
