package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sitekit/authcore"
	"github.com/sitekit/authcore/account"
	"github.com/sitekit/authcore/password"
	"github.com/sitekit/authcore/session"
)

const testPassword = "spravne-heslo-123"

type testServer struct {
	server   *Server
	engine   *authcore.Engine
	accounts *account.GormProvider
	hasher   *password.Hasher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	accounts, err := account.NewGormProvider(db)
	require.NoError(t, err)
	sessions, err := session.NewGormStore(db)
	require.NoError(t, err)

	cfg := authcore.DefaultConfig()
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.BackupCodes.Count = 4
	cfg.Metrics.Enabled = true

	engine, err := authcore.New().
		WithConfig(cfg).
		WithAccountProvider(accounts).
		WithSessionStore(sessions).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	require.NoError(t, err)

	return &testServer{
		server:   NewServer(engine),
		engine:   engine,
		accounts: accounts,
		hasher:   hasher,
	}
}

func (ts *testServer) seedAccount(t *testing.T, email string, role authcore.Role) authcore.Account {
	t.Helper()

	hash, err := ts.hasher.Hash(testPassword)
	require.NoError(t, err)

	acct := authcore.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Jana Novotná",
		PasswordHash: hash,
		Role:         role,
	}
	require.NoError(t, ts.accounts.Create(context.Background(), acct))
	return acct
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", "httpapi-test/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// totpCode derives the currently valid RFC 6238 code for secret.
func totpCode(t *testing.T, secret string) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)

	counter := time.Now().Unix() / 30
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1_000_000)
}

// login performs a password login and returns the decoded body.
func (ts *testServer) login(t *testing.T, email string) map[string]any {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "jana@example.cz", authcore.RoleEditor)

	unknown := ts.do(t, http.MethodPost, "/api/auth/login", "",
		loginRequest{Email: "nikdo@example.cz", Password: testPassword})
	wrongPassword := ts.do(t, http.MethodPost, "/api/auth/login", "",
		loginRequest{Email: "jana@example.cz", Password: "spatne-heslo-456"})

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	// Account enumeration resistance: both bodies are identical.
	require.JSONEq(t, unknown.Body.String(), wrongPassword.Body.String())
	require.Contains(t, unknown.Body.String(), msgInvalidCredentials)
}

func TestLoginAndAuthenticate(t *testing.T) {
	ts := newTestServer(t)
	acct := ts.seedAccount(t, "jana@example.cz", authcore.RoleEditor)

	body := ts.login(t, "jana@example.cz")
	require.Equal(t, true, body["success"])

	sessionInfo, ok := body["sessionInfo"].(map[string]any)
	require.True(t, ok, "expected sessionInfo in %v", body)
	token, _ := sessionInfo["token"].(string)
	require.NotEmpty(t, token)

	me := ts.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, me.Code)
	meBody := decodeBody(t, me)
	user := meBody["user"].(map[string]any)
	require.Equal(t, acct.ID, user["id"])
	require.Equal(t, "editor", user["role"])

	unauthed := ts.do(t, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, unauthed.Code)

	bogus := ts.do(t, http.MethodGet, "/api/auth/me", "bogus-token", nil)
	require.Equal(t, http.StatusUnauthorized, bogus.Code)
}

func TestTwoFactorEnrollmentAndLoginFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "jana@example.cz", authcore.RoleAdmin)

	body := ts.login(t, "jana@example.cz")
	token := body["sessionInfo"].(map[string]any)["token"].(string)

	// Begin enrollment: empty body POST.
	begin := ts.do(t, http.MethodPost, "/api/auth/two-factor", token, nil)
	require.Equal(t, http.StatusOK, begin.Code, begin.Body.String())
	beginBody := decodeBody(t, begin)
	secret := beginBody["secret"].(string)
	require.NotEmpty(t, secret)
	require.Contains(t, beginBody["uri"].(string), "otpauth://totp/")

	// Activate with a live code.
	activate := ts.do(t, http.MethodPost, "/api/auth/two-factor", token,
		twoFactorEnrollRequest{Code: totpCode(t, secret)})
	require.Equal(t, http.StatusOK, activate.Code, activate.Body.String())
	backupCodes := decodeBody(t, activate)["backupCodes"].([]any)
	require.Len(t, backupCodes, 4)

	status := ts.do(t, http.MethodGet, "/api/auth/two-factor", token, nil)
	require.Equal(t, http.StatusOK, status.Code)
	statusBody := decodeBody(t, status)
	require.Equal(t, "active", statusBody["state"])
	require.EqualValues(t, 4, statusBody["backupCodesRemaining"])

	// Login now defers to the second factor.
	pending := ts.login(t, "jana@example.cz")
	require.Equal(t, true, pending["requires2FA"])
	pendingToken := pending["pendingToken"].(string)
	require.NotEmpty(t, pendingToken)
	require.NotContains(t, pending, "sessionInfo")

	// Wrong code first.
	bad := ts.do(t, http.MethodPost, "/api/auth/verify-2fa", "",
		verifyRequest{PendingToken: pendingToken, Code: "000000"})
	require.Equal(t, http.StatusBadRequest, bad.Code)
	require.Contains(t, bad.Body.String(), msgInvalidCode)

	// Then the real one.
	good := ts.do(t, http.MethodPost, "/api/auth/verify-2fa", "",
		verifyRequest{PendingToken: pendingToken, Code: totpCode(t, secret)})
	require.Equal(t, http.StatusOK, good.Code, good.Body.String())
	goodBody := decodeBody(t, good)
	require.Equal(t, true, goodBody["success"])
	require.NotEmpty(t, goodBody["sessionInfo"].(map[string]any)["token"])

	// The pending token is single use.
	replay := ts.do(t, http.MethodPost, "/api/auth/verify-2fa", "",
		verifyRequest{PendingToken: pendingToken, Code: totpCode(t, secret)})
	require.Equal(t, http.StatusBadRequest, replay.Code)
	require.Contains(t, replay.Body.String(), msgChallengeExpired)
}

func TestVerify2FAAttemptCap(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "jana@example.cz", authcore.RoleAdmin)

	body := ts.login(t, "jana@example.cz")
	token := body["sessionInfo"].(map[string]any)["token"].(string)

	begin := ts.do(t, http.MethodPost, "/api/auth/two-factor", token, nil)
	secret := decodeBody(t, begin)["secret"].(string)
	activate := ts.do(t, http.MethodPost, "/api/auth/two-factor", token,
		twoFactorEnrollRequest{Code: totpCode(t, secret)})
	require.Equal(t, http.StatusOK, activate.Code)

	pending := ts.login(t, "jana@example.cz")
	pendingToken := pending["pendingToken"].(string)

	for i := 0; i < 4; i++ {
		rec := ts.do(t, http.MethodPost, "/api/auth/verify-2fa", "",
			verifyRequest{PendingToken: pendingToken, Code: "000000"})
		require.Equal(t, http.StatusBadRequest, rec.Code, "attempt %d", i+1)
	}

	capped := ts.do(t, http.MethodPost, "/api/auth/verify-2fa", "",
		verifyRequest{PendingToken: pendingToken, Code: "000000"})
	require.Equal(t, http.StatusTooManyRequests, capped.Code)
	require.Contains(t, capped.Body.String(), msgTooManyAttempts)

	dead := ts.do(t, http.MethodPost, "/api/auth/verify-2fa", "",
		verifyRequest{PendingToken: pendingToken, Code: "000000"})
	require.Equal(t, http.StatusBadRequest, dead.Code)
	require.Contains(t, dead.Body.String(), msgChallengeExpired)
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "jana@example.cz", authcore.RoleEditor)

	first := ts.login(t, "jana@example.cz")["sessionInfo"].(map[string]any)
	second := ts.login(t, "jana@example.cz")["sessionInfo"].(map[string]any)
	firstToken := first["token"].(string)
	secondToken := second["token"].(string)

	list := ts.do(t, http.MethodGet, "/api/auth/sessions", firstToken, nil)
	require.Equal(t, http.StatusOK, list.Code)
	sessions := decodeBody(t, list)["sessions"].([]any)
	require.Len(t, sessions, 2)
	// Tokens must not leak through the listing.
	require.NotContains(t, list.Body.String(), firstToken)
	require.NotContains(t, list.Body.String(), secondToken)

	// Revoke the other session; it stops working, ours does not.
	revoke := ts.do(t, http.MethodDelete, "/api/auth/sessions/"+second["id"].(string), firstToken, nil)
	require.Equal(t, http.StatusOK, revoke.Code)

	require.Equal(t, http.StatusUnauthorized,
		ts.do(t, http.MethodGet, "/api/auth/me", secondToken, nil).Code)
	require.Equal(t, http.StatusOK,
		ts.do(t, http.MethodGet, "/api/auth/me", firstToken, nil).Code)

	// Unknown session id.
	missing := ts.do(t, http.MethodDelete, "/api/auth/sessions/"+uuid.NewString(), firstToken, nil)
	require.Equal(t, http.StatusNotFound, missing.Code)

	// Terminate all, including the caller's.
	terminate := ts.do(t, http.MethodPost, "/api/auth/sessions/terminate-all", firstToken, nil)
	require.Equal(t, http.StatusOK, terminate.Code)
	require.Equal(t, http.StatusUnauthorized,
		ts.do(t, http.MethodGet, "/api/auth/me", firstToken, nil).Code)
}

func TestSessionRevocationScopedToOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "jana@example.cz", authcore.RoleEditor)
	ts.seedAccount(t, "petr@example.cz", authcore.RoleEditor)

	jana := ts.login(t, "jana@example.cz")["sessionInfo"].(map[string]any)
	petr := ts.login(t, "petr@example.cz")["sessionInfo"].(map[string]any)

	// Petr cannot revoke Jana's session.
	rec := ts.do(t, http.MethodDelete, "/api/auth/sessions/"+jana["id"].(string), petr["token"].(string), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, http.StatusOK,
		ts.do(t, http.MethodGet, "/api/auth/me", jana["token"].(string), nil).Code)
}

func TestAdminMetricsGuard(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "admin@example.cz", authcore.RoleAdmin)
	ts.seedAccount(t, "editor@example.cz", authcore.RoleEditor)

	adminToken := ts.login(t, "admin@example.cz")["sessionInfo"].(map[string]any)["token"].(string)
	editorToken := ts.login(t, "editor@example.cz")["sessionInfo"].(map[string]any)["token"].(string)

	forbidden := ts.do(t, http.MethodGet, "/api/admin/metrics", editorToken, nil)
	require.Equal(t, http.StatusForbidden, forbidden.Code)

	allowed := ts.do(t, http.MethodGet, "/api/admin/metrics", adminToken, nil)
	require.Equal(t, http.StatusOK, allowed.Code)
	require.Contains(t, allowed.Body.String(), "Counters")
}

func TestDisableTwoFactor(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "jana@example.cz", authcore.RoleAdmin)

	token := ts.login(t, "jana@example.cz")["sessionInfo"].(map[string]any)["token"].(string)
	begin := ts.do(t, http.MethodPost, "/api/auth/two-factor", token, nil)
	secret := decodeBody(t, begin)["secret"].(string)
	activate := ts.do(t, http.MethodPost, "/api/auth/two-factor", token,
		twoFactorEnrollRequest{Code: totpCode(t, secret)})
	require.Equal(t, http.StatusOK, activate.Code)

	wrongPassword := ts.do(t, http.MethodDelete, "/api/auth/two-factor", token,
		twoFactorDisableRequest{Password: "spatne-heslo-456", Code: totpCode(t, secret)})
	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)

	disable := ts.do(t, http.MethodDelete, "/api/auth/two-factor", token,
		twoFactorDisableRequest{Password: testPassword, Code: totpCode(t, secret)})
	require.Equal(t, http.StatusOK, disable.Code, disable.Body.String())

	// Disabling revoked every session, including this one.
	require.Equal(t, http.StatusUnauthorized,
		ts.do(t, http.MethodGet, "/api/auth/me", token, nil).Code)

	// Plain password login works again.
	body := ts.login(t, "jana@example.cz")
	require.Equal(t, true, body["success"])
}
