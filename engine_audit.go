package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventChallengeIssued      = "second_factor_required"
	auditEventChallengeSuccess     = "second_factor_success"
	auditEventChallengeFailure     = "second_factor_failure"
	auditEventChallengeExceeded    = "second_factor_attempts_exceeded"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodeFailed     = "backup_code_failed"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventSessionRevoked       = "session_revoked"
	auditEventSessionsRevokedAll   = "sessions_revoked_all"
)

// AuditErrorCode is the stable error vocabulary carried in audit
// events, decoupled from the Go sentinel values.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrNotConfigured      AuditErrorCode = "second_factor_not_configured"
	auditErrAlreadyActive      AuditErrorCode = "second_factor_active"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeRateLimited):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrSecondFactorNotConfigured):
		return auditErrNotConfigured
	case errors.Is(err, ErrSecondFactorActive):
		return auditErrAlreadyActive
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrAccountNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrPersistenceUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
