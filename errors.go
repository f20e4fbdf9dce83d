package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrChallengeNotFound is returned when a pending challenge token is
	// missing, expired, or already used.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeRateLimited is returned once a challenge has exhausted
	// its verification attempts.
	ErrChallengeRateLimited = errors.New("challenge attempts exceeded")
	// ErrInvalidCode is returned for a TOTP or backup code mismatch.
	ErrInvalidCode = errors.New("invalid code")
	// ErrSecondFactorNotConfigured is returned when a second-factor
	// operation targets an account with no matching enrollment state.
	ErrSecondFactorNotConfigured = errors.New("second factor not configured")
	// ErrSecondFactorActive is returned when enrollment is started for an
	// account that already has an active second factor.
	ErrSecondFactorActive = errors.New("second factor already active")
	// ErrPersistenceUnavailable wraps downstream store failures.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrSessionNotFound is returned for unknown, revoked, or expired
	// session tokens.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAccountNotFound is returned by account-scoped operations when
	// the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrRoleInvalid is returned when an account carries a role outside
	// the known set.
	ErrRoleInvalid = errors.New("invalid role")
	// ErrEngineNotReady is returned when the engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)
