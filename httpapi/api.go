// Package httpapi exposes the authentication engine as a JSON API for
// the back-office frontend. User-facing error messages are Czech and
// never reveal whether an email exists.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitekit/authcore"
)

const (
	msgInvalidCredentials = "nesprávný email nebo heslo"
	msgInvalidCode        = "neplatný kód"
	msgChallengeExpired   = "platnost ověření vypršela, přihlaste se znovu"
	msgTooManyAttempts    = "příliš mnoho pokusů, přihlaste se znovu"
	msgUnauthorized       = "přihlášení je vyžadováno"
	msgForbidden          = "nedostatečná oprávnění"
	msgBadRequest         = "neplatný požadavek"
	msgUnavailable        = "služba je dočasně nedostupná"
	msgInternal           = "interní chyba serveru"
)

// Server handles the /api/auth surface.
type Server struct {
	engine *authcore.Engine
	log    *slog.Logger
	router chi.Router
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer wires the routes and returns a ready handler.
func NewServer(engine *authcore.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.withRequestContext)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/verify-2fa", s.handleVerify2FA)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/me", s.handleMe)

			r.Get("/two-factor", s.handleTwoFactorStatus)
			r.Post("/two-factor", s.handleTwoFactorEnroll)
			r.Delete("/two-factor", s.handleTwoFactorDisable)
			r.Post("/two-factor/backup-codes", s.handleRegenerateBackupCodes)

			r.Get("/sessions", s.handleListSessions)
			r.Delete("/sessions/{sessionID}", s.handleRevokeSession)
			r.Post("/sessions/terminate-all", s.handleTerminateAll)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireSession, s.requireAdmin)
		r.Get("/metrics", s.handleMetrics)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	PendingToken string `json:"pendingToken"`
	Code         string `json:"code"`
	IsBackupCode bool   `json:"isBackupCode"`
}

type twoFactorEnrollRequest struct {
	Code string `json:"code"`
}

type twoFactorDisableRequest struct {
	Password     string `json:"password"`
	Code         string `json:"code"`
	IsBackupCode bool   `json:"isBackupCode"`
}

type regenerateRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCredentials),
			errors.Is(err, authcore.ErrRoleInvalid):
			writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		default:
			s.serverError(w, r, "login", err)
		}
		return
	}

	if result.SecondFactorRequired {
		writeJSON(w, http.StatusOK, map[string]any{
			"requires2FA":  true,
			"pendingToken": result.ChallengeToken,
		})
		return
	}

	writeJSON(w, http.StatusOK, loginSuccessBody(result))
}

func (s *Server) handleVerify2FA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.engine.VerifySecondFactor(r.Context(), req.PendingToken, req.Code, req.IsBackupCode)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCode):
			writeError(w, http.StatusBadRequest, msgInvalidCode)
		case errors.Is(err, authcore.ErrChallengeNotFound),
			errors.Is(err, authcore.ErrSecondFactorNotConfigured):
			writeError(w, http.StatusBadRequest, msgChallengeExpired)
		case errors.Is(err, authcore.ErrChallengeRateLimited):
			writeError(w, http.StatusTooManyRequests, msgTooManyAttempts)
		default:
			s.serverError(w, r, "verify-2fa", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginSuccessBody(result))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleTwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())

	status, err := s.engine.SecondFactorStatus(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, r, "two-factor status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":                status.State.String(),
		"backupCodesRemaining": status.BackupCodesRemaining,
	})
}

// handleTwoFactorEnroll begins enrollment when no code is supplied and
// activates the factor when one is.
func (s *Server) handleTwoFactorEnroll(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())

	// An empty body means "begin enrollment".
	var req twoFactorEnrollRequest
	if !s.decodeAllowEmpty(w, r, &req) {
		return
	}

	if req.Code == "" {
		enrollment, err := s.engine.BeginTOTPEnrollment(r.Context(), user.ID)
		if err != nil {
			if errors.Is(err, authcore.ErrSecondFactorActive) {
				writeError(w, http.StatusConflict, msgBadRequest)
				return
			}
			s.serverError(w, r, "begin enrollment", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"secret": enrollment.Secret,
			"uri":    enrollment.URI,
		})
		return
	}

	codes, err := s.engine.ActivateTOTP(r.Context(), user.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCode):
			writeError(w, http.StatusBadRequest, msgInvalidCode)
		case errors.Is(err, authcore.ErrSecondFactorActive):
			writeError(w, http.StatusConflict, msgBadRequest)
		case errors.Is(err, authcore.ErrSecondFactorNotConfigured):
			writeError(w, http.StatusBadRequest, msgBadRequest)
		default:
			s.serverError(w, r, "activate totp", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())

	var req twoFactorDisableRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.engine.DisableTOTP(r.Context(), user.ID, req.Password, req.Code, req.IsBackupCode)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, authcore.ErrInvalidCode):
			writeError(w, http.StatusBadRequest, msgInvalidCode)
		case errors.Is(err, authcore.ErrSecondFactorNotConfigured):
			writeError(w, http.StatusBadRequest, msgBadRequest)
		default:
			s.serverError(w, r, "disable totp", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())

	var req regenerateRequest
	if !s.decode(w, r, &req) {
		return
	}

	codes, err := s.engine.RegenerateBackupCodes(r.Context(), user.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCode):
			writeError(w, http.StatusBadRequest, msgInvalidCode)
		case errors.Is(err, authcore.ErrSecondFactorNotConfigured):
			writeError(w, http.StatusBadRequest, msgBadRequest)
		default:
			s.serverError(w, r, "regenerate backup codes", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())

	sessions, err := s.engine.ListSessions(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, r, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.engine.RevokeSession(r.Context(), user.ID, sessionID); err != nil {
		if errors.Is(err, authcore.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, msgBadRequest)
			return
		}
		s.serverError(w, r, "revoke session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTerminateAll(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())

	if err := s.engine.RevokeAllSessions(r.Context(), user.ID); err != nil {
		s.serverError(w, r, "terminate all sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.MetricsSnapshot())
}

func loginSuccessBody(result *authcore.LoginResult) map[string]any {
	body := map[string]any{
		"success": true,
		"user":    result.User,
	}
	if result.Session != nil {
		body["sessionInfo"] = result.Session
	}
	return body
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}

func (s *Server) decodeAllowEmpty(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error("request failed", "op", op, "path", r.URL.Path, "err", err)
	if errors.Is(err, authcore.ErrPersistenceUnavailable) {
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	writeError(w, http.StatusInternalServerError, msgInternal)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
