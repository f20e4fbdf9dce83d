package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration tree. Zero values are not
// usable; start from [DefaultConfig] and override.
type Config struct {
	Password    PasswordConfig
	TOTP        TOTPConfig
	Challenge   ChallengeConfig
	Session     SessionConfig
	BackupCodes BackupCodeConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// PasswordConfig holds the argon2id cost parameters used for account
// passwords and backup codes.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TOTPConfig holds the code-generation parameters shared by enrollment
// and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// ChallengeConfig bounds the lifetime of pending second-factor challenges.
type ChallengeConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
}

// SessionConfig holds session issuance parameters. Lifetime is fixed at
// creation; sessions do not slide.
type SessionConfig struct {
	Lifetime time.Duration
}

// BackupCodeConfig controls the recovery code set generated at enrollment.
type BackupCodeConfig struct {
	Count  int
	Length int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults: argon2id 64 MiB/t=3/p=2,
// 6-digit 30-second TOTP with one step of skew, 5-minute challenges with
// 5 attempts, 30-day sessions, and 8 backup codes of 10 characters.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer:    "Back Office",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Challenge: ChallengeConfig{
			TTL:           5 * time.Minute,
			MaxAttempts:   5,
			SweepInterval: 5 * time.Minute,
		},
		Session: SessionConfig{
			Lifetime: 30 * 24 * time.Hour,
		},
		BackupCodes: BackupCodeConfig{
			Count:  8,
			Length: 10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Validate checks the configuration for values the engine cannot operate
// with. Password cost floors are enforced by the hasher itself.
func (c Config) Validate() error {
	if c.TOTP.Issuer == "" {
		return errors.New("totp issuer must be set")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("totp digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("totp skew must not be negative")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("challenge ttl must be positive")
	}
	if c.Challenge.MaxAttempts <= 0 {
		return errors.New("challenge max attempts must be positive")
	}
	if c.Challenge.SweepInterval <= 0 {
		return errors.New("challenge sweep interval must be positive")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.BackupCodes.Count <= 0 {
		return errors.New("backup code count must be positive")
	}
	if c.BackupCodes.Length < 10 {
		return errors.New("backup code length must be >= 10")
	}
	return nil
}
