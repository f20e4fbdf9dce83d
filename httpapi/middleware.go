package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sitekit/authcore"
)

type sessionUserKey struct{}

// sessionUser returns the authenticated user placed by requireSession.
func sessionUser(ctx context.Context) *authcore.UserInfo {
	user, _ := ctx.Value(sessionUserKey{}).(*authcore.UserInfo)
	return user
}

// withRequestContext threads client IP and user agent into the request
// context so the engine can attach them to sessions and audit events.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ip := clientIP(r); ip != "" {
			ctx = authcore.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = authcore.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSession authenticates the bearer token and stores the user in
// the request context. Failures are a uniform 401.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		user, err := s.engine.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionUserKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates a route on the account-management policy.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := sessionUser(r.Context())
		if user == nil || !user.Role.CanManageAccounts() {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// peer address. The daemon sits behind the site's reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
