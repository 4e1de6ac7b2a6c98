package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/services"
)

// SessionSource yields the agent's active session.
type SessionSource interface {
	Token() string
	User() (domain.User, bool)
}

// AuthMiddleware admits local callers presenting the active session's bearer
// token.
type AuthMiddleware struct {
	sessions SessionSource
	log      *zap.Logger
	now      func() time.Time
}

func NewAuthMiddleware(sessions SessionSource, log *zap.Logger) *AuthMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthMiddleware{sessions: sessions, log: log, now: time.Now}
}

type contextKey string

const (
	UserIDKey contextKey = "userID"
	RoleKey   contextKey = "role"
)

// RequireRole rejects requests without the session token (401) or whose
// session role is not listed (403). An empty roles list admits any role.
func (m *AuthMiddleware) RequireRole(roles []domain.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.log.Debug("Missing Authorization header", zap.String("path", r.URL.Path))
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.log.Debug("Invalid Authorization header format")
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}
		tokenString := parts[1]

		user, ok := m.sessions.User()
		active := m.sessions.Token()
		if !ok || active == "" {
			http.Error(w, "no active session", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(tokenString), []byte(active)) != 1 {
			m.log.Warn("Token does not match active session", zap.String("path", r.URL.Path))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if services.TokenExpired(tokenString, m.now()) {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, user.Role) {
			m.log.Info("Role mismatch",
				zap.Any("required", roles),
				zap.String("role", string(user.Role)),
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
		ctx = context.WithValue(ctx, RoleKey, user.Role)

		next(w, r.WithContext(ctx))
	}
}

// UserID returns the session user admitted by RequireRole.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}
