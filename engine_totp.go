package authcore

import (
	"context"
	"log"
	"strconv"
	"time"
)

// SecondFactorStatus reports the account's second factor state and how
// many backup codes are left.
func (e *Engine) SecondFactorStatus(ctx context.Context, userID string) (SecondFactorStatus, error) {
	if e == nil || e.accounts == nil {
		return SecondFactorStatus{}, ErrEngineNotReady
	}

	acct, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return SecondFactorStatus{}, err
	}
	return SecondFactorStatus{
		State:                acct.SecondFactor,
		BackupCodesRemaining: len(acct.BackupCodeHashes),
	}, nil
}

// BeginTOTPEnrollment generates an authenticator secret and parks the
// account in the Enrolling state. The factor is not enforced until
// ActivateTOTP proves the user can produce a code.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID string) (*TOTPEnrollment, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	acct, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.SecondFactor == SecondFactorActive {
		return nil, ErrSecondFactorActive
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	if err := e.accounts.SetSecondFactor(ctx, userID, SecondFactorEnrolling, secret, nil); err != nil {
		return nil, ErrPersistenceUnavailable
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, userID, "", nil, nil)

	return &TOTPEnrollment{
		Secret: secret,
		URI:    e.totp.ProvisionURI(secret, acct.Email),
	}, nil
}

// ActivateTOTP completes enrollment. The candidate code must verify
// against the enrolling secret; the freshly generated backup codes are
// returned exactly once and only their hashes are stored.
func (e *Engine) ActivateTOTP(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	acct, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch acct.SecondFactor {
	case SecondFactorActive:
		return nil, ErrSecondFactorActive
	case SecondFactorEnrolling:
	default:
		return nil, ErrSecondFactorNotConfigured
	}

	ok, err := e.totp.VerifyCode(acct.TOTPSecret, code, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventChallengeFailure, false, userID, "", ErrInvalidCode, func() map[string]string {
			return map[string]string{"reason": "totp_activation"}
		})
		return nil, ErrInvalidCode
	}

	plain, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	// State, secret, and code hashes land in one write so the account
	// is never Active without recovery codes.
	if err := e.accounts.SetSecondFactor(ctx, userID, SecondFactorActive, acct.TOTPSecret, hashes); err != nil {
		return nil, ErrPersistenceUnavailable
	}

	e.metricInc(MetricTOTPEnabled)
	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, userID, "", nil, nil)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(plain))}
	})

	return plain, nil
}

// DisableTOTP removes the second factor. It requires the account
// password plus a current code (TOTP, or a backup code when
// useBackupCode is set), then revokes every session so stolen tokens
// cannot outlive the downgrade.
func (e *Engine) DisableTOTP(ctx context.Context, userID, plaintext, code string, useBackupCode bool) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	acct, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if acct.SecondFactor != SecondFactorActive {
		return ErrSecondFactorNotConfigured
	}

	ok, err := e.passwordHash.Verify(plaintext, acct.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	var verified bool
	if useBackupCode {
		verified, err = e.consumeBackupCode(ctx, userID, code)
	} else {
		verified, err = e.totp.VerifyCode(acct.TOTPSecret, code, time.Now())
	}
	if err != nil {
		return err
	}
	if !verified {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, userID, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	if err := e.accounts.SetSecondFactor(ctx, userID, SecondFactorNone, "", nil); err != nil {
		return ErrPersistenceUnavailable
	}

	// Session revocation is best-effort; the factor is already gone.
	if e.sessions != nil {
		if err := e.sessions.RevokeAll(ctx, userID); err != nil {
			log.Print("authcore: session revocation after totp disable failed")
		} else {
			e.metricInc(MetricSessionRevoked)
		}
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the whole backup code set. A fresh
// TOTP code is required; backup codes cannot mint their own successors.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	unlock := e.accountLocks.lock(userID)
	defer unlock()

	acct, err := e.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.SecondFactor != SecondFactorActive {
		return nil, ErrSecondFactorNotConfigured
	}

	ok, err := e.totp.VerifyCode(acct.TOTPSecret, totpCode, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventBackupCodesGenerated, false, userID, "", ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	plain, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, ErrPersistenceUnavailable
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(plain))}
	})

	return plain, nil
}
