package authcore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sitekit/authcore/session"
)

// memoryAccounts is the in-memory AccountProvider used across the
// engine tests.
type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{accounts: make(map[string]Account)}
}

func (m *memoryAccounts) add(acct Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = acct
}

func (m *memoryAccounts) GetByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if strings.EqualFold(acct.Email, strings.TrimSpace(email)) {
			return acct, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (m *memoryAccounts) GetByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *memoryAccounts) UpdatePasswordHash(_ context.Context, id, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acct.PasswordHash = newHash
	m.accounts[id] = acct
	return nil
}

func (m *memoryAccounts) SetSecondFactor(_ context.Context, id string, state SecondFactorState, totpSecret string, backupCodeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acct.SecondFactor = state
	acct.TOTPSecret = totpSecret
	acct.BackupCodeHashes = backupCodeHashes
	m.accounts[id] = acct
	return nil
}

func (m *memoryAccounts) ReplaceBackupCodes(_ context.Context, id string, backupCodeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acct.BackupCodeHashes = backupCodeHashes
	m.accounts[id] = acct
	return nil
}

// memorySessions is the in-memory session.Store used across the engine
// tests. failCreate simulates a persistence outage on Create.
type memorySessions struct {
	mu         sync.Mutex
	byToken    map[string]*session.Session
	failCreate bool
}

func newMemorySessions() *memorySessions {
	return &memorySessions{byToken: make(map[string]*session.Session)}
}

func (m *memorySessions) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return session.ErrUnavailable
	}
	clone := *s
	m.byToken[s.Token] = &clone
	return nil
}

func (m *memorySessions) GetByToken(_ context.Context, token string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *memorySessions) Touch(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	if !ok || !s.Live(at) {
		return session.ErrNotFound
	}
	s.LastActivityAt = at
	return nil
}

func (m *memorySessions) ListForUser(_ context.Context, userID string) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []session.Session
	for _, s := range m.byToken {
		if s.UserID == userID {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
	})
	return sessions, nil
}

func (m *memorySessions) Revoke(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byToken {
		if s.ID == sessionID && s.UserID == userID && s.Active {
			s.Active = false
			return nil
		}
	}
	return session.ErrNotFound
}

func (m *memorySessions) RevokeAll(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byToken {
		if s.UserID == userID {
			s.Active = false
		}
	}
	return nil
}

// expire forces the session behind token past its expiry.
func (m *memorySessions) expire(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byToken[token]; ok {
		s.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

// testConfig trades hashing strength for test speed.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.BackupCodes.Count = 4
	return cfg
}

type testEnv struct {
	engine   *Engine
	accounts *memoryAccounts
	sessions *memorySessions
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	accounts := newMemoryAccounts()
	sessions := newMemorySessions()

	engine, err := New().
		WithConfig(cfg).
		WithAccountProvider(accounts).
		WithSessionStore(sessions).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, accounts: accounts, sessions: sessions}
}

// seedAccount stores an account with the given password and returns it.
func (env *testEnv) seedAccount(t *testing.T, email, plaintext string, role Role) Account {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	acct := Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		Role:         role,
	}
	env.accounts.add(acct)
	return acct
}

// enrollTOTP drives an account through full second factor enrollment
// and returns the secret and the one-time backup codes.
func (env *testEnv) enrollTOTP(t *testing.T, userID string) (secret string, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, userID)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	codes, err := env.engine.ActivateTOTP(ctx, userID, totpCodeNow(t, env.engine, enrollment.Secret))
	if err != nil {
		t.Fatalf("activate totp: %v", err)
	}
	return enrollment.Secret, codes
}

// totpCodeNow computes the currently valid authenticator code.
func totpCodeNow(t *testing.T, e *Engine, secret string) string {
	t.Helper()

	raw, err := decodeTOTPSecret(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	cfg := e.config.TOTP
	counter := time.Now().Unix() / int64(cfg.Period)
	code, err := hotpCode(raw, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("derive code: %v", err)
	}
	return code
}
