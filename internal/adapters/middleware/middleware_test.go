package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

type fakeSession struct {
	token string
	user  domain.User
	ok    bool
}

func (f fakeSession) Token() string             { return f.token }
func (f fakeSession) User() (domain.User, bool) { return f.user, f.ok }

func okHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(UserID(r.Context())))
}

func TestRequireRole(t *testing.T) {
	nurse := fakeSession{token: "tok-1", ok: true, user: domain.User{ID: "u1", Role: domain.RoleWardStaff}}
	staffOnly := []domain.Role{domain.RoleWardStaff, domain.RoleManager}

	tests := []struct {
		name       string
		session    fakeSession
		roles      []domain.Role
		header     string
		wantStatus int
		wantBody   string
	}{
		{"admits matching token and role", nurse, staffOnly, "Bearer tok-1", http.StatusOK, "u1"},
		{"any role when none listed", nurse, nil, "Bearer tok-1", http.StatusOK, "u1"},
		{"missing header", nurse, staffOnly, "", http.StatusUnauthorized, ""},
		{"malformed header", nurse, staffOnly, "Token tok-1", http.StatusUnauthorized, ""},
		{"wrong token", nurse, staffOnly, "Bearer other", http.StatusUnauthorized, ""},
		{"no session", fakeSession{}, staffOnly, "Bearer tok-1", http.StatusUnauthorized, ""},
		{"role not allowed", nurse, []domain.Role{domain.RoleHospitalAdmin}, "Bearer tok-1", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(tt.session, zap.NewNop())
			req := httptest.NewRequest(http.MethodPatch, "/beds/iA1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			m.RequireRole(tt.roles, okHandler)(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequireRole_ExpiredSessionToken(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"exp": now.Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	m := NewAuthMiddleware(fakeSession{token: token, ok: true, user: domain.User{ID: "u1"}}, nil)
	m.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodPatch, "/beds/iA1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	m.RequireRole(nil, okHandler)(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	t.Run("allowed origin", func(t *testing.T) {
		h := CORSMiddleware([]string{"http://ward.local"})(next)
		req := httptest.NewRequest(http.MethodGet, "/beds", nil)
		req.Header.Set("Origin", "http://ward.local")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "http://ward.local", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	})

	t.Run("foreign origin gets no headers", func(t *testing.T) {
		h := CORSMiddleware([]string{"http://ward.local"})(next)
		req := httptest.NewRequest(http.MethodGet, "/beds", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		h := CORSMiddleware([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodOptions, "/beds/iA1/status", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/beds", "/boom", "/health"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["bytes"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, zap.DebugLevel, entries[2].Level)
}

func TestStatusRecorderFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	var w http.ResponseWriter = sr
	f, ok := w.(http.Flusher)
	require.True(t, ok)
	f.Flush()
	assert.True(t, rec.Flushed)
}
