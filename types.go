package authcore

import "context"

// Role is the back-office role attached to an account. Roles are a closed
// set; free-form role strings are rejected at the provider boundary.
type Role string

const (
	// RoleAdmin may manage accounts and publish content.
	RoleAdmin Role = "admin"
	// RoleEditor may publish content but not manage accounts.
	RoleEditor Role = "editor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEditor
}

// CanManageAccounts reports whether the role may administer other accounts.
func (r Role) CanManageAccounts() bool {
	return r == RoleAdmin
}

// CanPublishContent reports whether the role may publish site content.
func (r Role) CanPublishContent() bool {
	return r == RoleAdmin || r == RoleEditor
}

// SecondFactorState is the enrollment state of an account's second factor.
// The secret and backup code hashes are only meaningful in the states that
// carry them; providers must persist state, secret, and hashes together so
// an "enabled but secretless" account cannot exist.
type SecondFactorState uint8

const (
	// SecondFactorNone means no enrollment has been started.
	SecondFactorNone SecondFactorState = iota
	// SecondFactorEnrolling means a secret has been provisioned but not
	// yet confirmed with a valid code.
	SecondFactorEnrolling
	// SecondFactorActive means login requires a second factor.
	SecondFactorActive
)

// String returns the wire name of the state.
func (s SecondFactorState) String() string {
	switch s {
	case SecondFactorEnrolling:
		return "enrolling"
	case SecondFactorActive:
		return "active"
	default:
		return "none"
	}
}

// Account is the full account record returned by [AccountProvider]. It
// carries the credential hash, role, and second-factor material.
type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role

	SecondFactor     SecondFactorState
	TOTPSecret       string
	BackupCodeHashes []string
}

// AccountProvider is the interface callers implement to integrate the
// engine with their account persistence. Lookups by email must be
// case-insensitive. SetSecondFactor and ReplaceBackupCodes must write
// their fields in a single durable update.
type AccountProvider interface {
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	UpdatePasswordHash(ctx context.Context, id, newHash string) error
	SetSecondFactor(ctx context.Context, id string, state SecondFactorState, totpSecret string, backupCodeHashes []string) error
	ReplaceBackupCodes(ctx context.Context, id string, backupCodeHashes []string) error
}

// UserInfo is the caller-facing projection of an account.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// SessionInfo summarizes the session issued by a successful login.
type SessionInfo struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	UserAgent string `json:"userAgent"`
	IPAddress string `json:"ipAddress"`
}

// LoginResult is returned by [Engine.Login] and [Engine.VerifySecondFactor].
// Exactly one of the two shapes is populated: a pending challenge token
// when a second factor is still required, or the authenticated user.
// Session may be nil even on success when session tracking is unavailable.
type LoginResult struct {
	SecondFactorRequired bool
	ChallengeToken       string

	User    *UserInfo
	Session *SessionInfo
}

// TOTPEnrollment holds the provisioned secret and otpauth:// URI returned
// by [Engine.BeginTOTPEnrollment].
type TOTPEnrollment struct {
	Secret string
	URI    string
}

// SecondFactorStatus is returned by [Engine.SecondFactorStatus].
type SecondFactorStatus struct {
	State                SecondFactorState
	BackupCodesRemaining int
}

func userInfo(acct Account) *UserInfo {
	return &UserInfo{
		ID:    acct.ID,
		Email: acct.Email,
		Name:  acct.Name,
		Role:  acct.Role,
	}
}
