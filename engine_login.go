package authcore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/sitekit/authcore/challenge"
	"github.com/sitekit/authcore/internal"
)

// Login verifies email + password. Accounts with an active second
// factor get a short lived challenge token instead of a session; the
// caller completes the login through VerifySecondFactor. Unknown email
// and wrong password are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	if plaintext == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "empty_password",
			}
		})
		return nil, ErrInvalidCredentials
	}

	acct, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "account_not_found",
			}
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(plaintext, acct.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "password_mismatch",
			}
		})
		return nil, ErrInvalidCredentials
	}

	if !acct.Role.Valid() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrRoleInvalid, nil)
		return nil, ErrRoleInvalid
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.passwordHash.NeedsUpgrade(acct.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := e.passwordHash.Hash(plaintext); err == nil {
				// Best-effort rehash; never blocks a successful login.
				if err := e.accounts.UpdatePasswordHash(ctx, acct.ID, upgraded); err != nil {
					log.Print("authcore: password hash upgrade failed")
				}
			}
		}
	}
	plaintext = ""

	if acct.SecondFactor == SecondFactorActive {
		return e.issueChallenge(ctx, acct)
	}

	sessionInfo := e.issueSession(ctx, acct.ID)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, sessionID(sessionInfo), nil, nil)

	return &LoginResult{
		User:    userInfo(acct),
		Session: sessionInfo,
	}, nil
}

func (e *Engine) issueChallenge(ctx context.Context, acct Account) (*LoginResult, error) {
	token, err := internal.NewChallengeToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ch := challenge.Challenge{
		AccountID: acct.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Challenge.TTL),
	}
	// Without a pending challenge the second factor cannot be checked,
	// so a store failure fails the whole login.
	if err := e.challenges.Put(ctx, token, ch); err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrPersistenceUnavailable, nil)
		return nil, ErrPersistenceUnavailable
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeIssued, true, acct.ID, "", nil, nil)

	return &LoginResult{
		SecondFactorRequired: true,
		ChallengeToken:       token,
	}, nil
}

// VerifySecondFactor completes a pending login with a TOTP code or,
// when useBackupCode is set, a single-use backup code. The challenge is
// consumed on success and killed once the attempt cap is reached.
func (e *Engine) VerifySecondFactor(ctx context.Context, token, code string, useBackupCode bool) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	ch, err := e.challenges.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			e.metricInc(MetricChallengeFailure)
			e.emitAudit(ctx, auditEventChallengeFailure, false, "", "", ErrChallengeNotFound, nil)
			return nil, ErrChallengeNotFound
		}
		return nil, ErrPersistenceUnavailable
	}

	if ch.Attempts >= e.config.Challenge.MaxAttempts {
		_, _ = e.challenges.Invalidate(ctx, token)
		e.metricInc(MetricChallengeRateLimited)
		e.emitAudit(ctx, auditEventChallengeExceeded, false, ch.AccountID, "", ErrChallengeRateLimited, nil)
		return nil, ErrChallengeRateLimited
	}

	acct, err := e.accounts.GetByID(ctx, ch.AccountID)
	if err != nil {
		// The account vanished while the challenge was pending; the
		// token is useless, kill it.
		_, _ = e.challenges.Invalidate(ctx, token)
		e.metricInc(MetricChallengeFailure)
		e.emitAudit(ctx, auditEventChallengeFailure, false, ch.AccountID, "", ErrChallengeNotFound, nil)
		return nil, ErrChallengeNotFound
	}
	if acct.SecondFactor != SecondFactorActive {
		_, _ = e.challenges.Invalidate(ctx, token)
		return nil, ErrSecondFactorNotConfigured
	}

	var verified bool
	if useBackupCode {
		verified, err = e.consumeBackupCode(ctx, acct.ID, code)
		if err != nil {
			return nil, err
		}
	} else {
		verified, err = e.totp.VerifyCode(acct.TOTPSecret, code, time.Now())
		if err != nil {
			return nil, err
		}
	}

	if !verified {
		if useBackupCode {
			e.metricInc(MetricBackupCodeFailed)
			e.emitAudit(ctx, auditEventBackupCodeFailed, false, acct.ID, "", ErrInvalidCode, nil)
		}
		return nil, e.failChallengeAttempt(ctx, token, acct.ID)
	}

	// Single use: the delete must observe the record still present. A
	// concurrent success already consumed it otherwise.
	removed, err := e.challenges.Invalidate(ctx, token)
	if err != nil {
		return nil, ErrPersistenceUnavailable
	}
	if !removed {
		e.metricInc(MetricChallengeFailure)
		e.emitAudit(ctx, auditEventChallengeFailure, false, acct.ID, "", ErrChallengeNotFound, func() map[string]string {
			return map[string]string{"reason": "challenge_replay"}
		})
		return nil, ErrChallengeNotFound
	}

	if useBackupCode {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, acct.ID, "", nil, func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(len(acct.BackupCodeHashes) - 1)}
		})
	}

	sessionInfo := e.issueSession(ctx, acct.ID)
	e.metricInc(MetricChallengeSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventChallengeSuccess, true, acct.ID, sessionID(sessionInfo), nil, nil)

	return &LoginResult{
		User:    userInfo(acct),
		Session: sessionInfo,
	}, nil
}

// failChallengeAttempt records a failed attempt and maps the resulting
// count to the caller-facing error.
func (e *Engine) failChallengeAttempt(ctx context.Context, token, accountID string) error {
	n, err := e.challenges.IncrementAttempts(ctx, token)
	if err != nil {
		return ErrPersistenceUnavailable
	}
	if n == 0 {
		// Expired or consumed between validation and the increment.
		e.metricInc(MetricChallengeFailure)
		e.emitAudit(ctx, auditEventChallengeFailure, false, accountID, "", ErrChallengeNotFound, nil)
		return ErrChallengeNotFound
	}
	if n >= e.config.Challenge.MaxAttempts {
		_, _ = e.challenges.Invalidate(ctx, token)
		e.metricInc(MetricChallengeRateLimited)
		e.emitAudit(ctx, auditEventChallengeExceeded, false, accountID, "", ErrChallengeRateLimited, func() map[string]string {
			return map[string]string{"attempts": strconv.Itoa(n)}
		})
		return ErrChallengeRateLimited
	}

	e.metricInc(MetricChallengeFailure)
	e.emitAudit(ctx, auditEventChallengeFailure, false, accountID, "", ErrInvalidCode, func() map[string]string {
		return map[string]string{"attempts": strconv.Itoa(n)}
	})
	return ErrInvalidCode
}

// Authenticate resolves a bearer token to its account, refreshing the
// session's last-activity time. Revoked and expired sessions fail.
func (e *Engine) Authenticate(ctx context.Context, token string) (*UserInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.lookupLiveSession(ctx, token)
	if err != nil {
		return nil, err
	}

	acct, err := e.accounts.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if err := e.sessions.Touch(ctx, token, time.Now()); err != nil {
		// The session was revoked between the read and the touch.
		return nil, ErrSessionNotFound
	}

	return userInfo(acct), nil
}

func sessionID(info *SessionInfo) string {
	if info == nil {
		return ""
	}
	return info.ID
}
