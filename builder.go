package authcore

import (
	"errors"

	"github.com/sitekit/authcore/challenge"
	"github.com/sitekit/authcore/password"
	"github.com/sitekit/authcore/session"
)

// Builder assembles an Engine. Each Builder builds at most once.
type Builder struct {
	config Config

	accounts   AccountProvider
	sessions   session.Store
	challenges challenge.Store
	auditSink  AuditSink

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAccountProvider sets the account backend. Required.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithSessionStore sets the session backend. Required.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

// WithChallengeStore sets the pending challenge backend. When omitted,
// Build creates an in-process store owned (and closed) by the engine.
func (b *Builder) WithChallengeStore(s challenge.Store) *Builder {
	b.challenges = s
	return b
}

// WithAuditSink enables audit emission into sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles counter recording.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		accounts:     b.accounts,
		sessions:     b.sessions,
		challenges:   b.challenges,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		passwordHash: hasher,
		totp:         newTOTPManager(cfg.TOTP),
	}

	if engine.challenges == nil {
		engine.challenges = challenge.NewMemoryStore(cfg.Challenge.SweepInterval)
		engine.ownsChallenges = true
	}

	b.built = true
	return engine, nil
}
