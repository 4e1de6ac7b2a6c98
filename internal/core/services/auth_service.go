package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// Session storage keys.
const (
	authTokenKey = "authToken"
	userKey      = "user"
)

// AuthService owns the session: the bearer token and the signed-in user. It
// persists both so a restarted agent can resume, and tears everything down
// when the server stops accepting the token.
type AuthService struct {
	api   ports.AuthAPI
	kv    ports.KVStore
	store *StateStore
	log   *zap.Logger
	now   func() time.Time

	mu      sync.RWMutex
	token   string
	user    *domain.User
	onStart []func(user domain.User, token string)
	onEnd   []func()
}

var _ ports.TokenSource = (*AuthService)(nil)

type sessionClaims struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	Ward          string   `json:"ward"`
	AssignedWards []string `json:"assignedWards"`
	jwt.RegisteredClaims
}

func NewAuthService(api ports.AuthAPI, kv ports.KVStore, store *StateStore, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{api: api, kv: kv, store: store, log: log, now: time.Now}
}

// Token returns the current bearer token, or "" when signed out.
func (s *AuthService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *AuthService) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// OnStart registers a callback run after every sign-in or restore.
func (s *AuthService) OnStart(fn func(user domain.User, token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = append(s.onStart, fn)
}

// OnEnd registers a callback run after the session is torn down.
func (s *AuthService) OnEnd(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = append(s.onEnd, fn)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, &domain.ValidationError{Field: "email", Message: "email and password are required"}
	}
	res, err := s.api.Login(ctx, domain.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Token == "" {
		return nil, errors.New("login response carried no token")
	}
	if err := s.begin(ctx, res.Token, res.User); err != nil {
		return nil, err
	}
	return &res.User, nil
}

// Adopt starts a session from a pre-issued token, deriving the user from its
// claims.
func (s *AuthService) Adopt(ctx context.Context, token string) (*domain.User, error) {
	if TokenExpired(token, s.now()) {
		return nil, domain.ErrUnauthorized
	}
	user, err := UserFromToken(token)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, token, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Restore resumes a persisted session. It reports false when there is none or
// the stored token has expired, in which case storage is cleared.
func (s *AuthService) Restore(ctx context.Context) (bool, error) {
	token, err := s.kv.Get(ctx, authTokenKey)
	if errors.Is(err, ports.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}
	raw, err := s.kv.Get(ctx, userKey)
	if err != nil && !errors.Is(err, ports.ErrCacheMiss) {
		return false, fmt.Errorf("read session user: %w", err)
	}

	var user domain.User
	if err == nil {
		if jerr := json.Unmarshal([]byte(raw), &user); jerr != nil {
			s.log.Warn("Stored user unreadable, deriving from token", zap.Error(jerr))
			user = domain.User{}
		}
	}
	if TokenExpired(token, s.now()) {
		s.log.Info("Stored session expired")
		return false, s.kv.Delete(ctx, authTokenKey, userKey)
	}
	if user.ID == "" {
		if user, err = UserFromToken(token); err != nil {
			return false, s.kv.Delete(ctx, authTokenKey, userKey)
		}
	}

	s.activate(token, user)
	s.log.Info("Session restored", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return true, nil
}

func (s *AuthService) Logout(ctx context.Context) error {
	return s.end(ctx)
}

// HandleUnauthorized ends the session after the server rejected the token.
func (s *AuthService) HandleUnauthorized() {
	if s.Token() == "" {
		return
	}
	s.log.Warn("Session rejected by server, signing out")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.end(ctx); err != nil {
		s.log.Error("Failed to clear session", zap.Error(err))
	}
}

func (s *AuthService) begin(ctx context.Context, token string, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, authTokenKey, token, 0); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := s.kv.Set(ctx, userKey, string(raw), 0); err != nil {
		return fmt.Errorf("persist session user: %w", err)
	}
	s.activate(token, user)
	s.log.Info("Session started", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return nil
}

func (s *AuthService) activate(token string, user domain.User) {
	s.mu.Lock()
	s.token = token
	s.user = &user
	hooks := make([]func(domain.User, string), len(s.onStart))
	copy(hooks, s.onStart)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(user, token)
	}
}

func (s *AuthService) end(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	hooks := make([]func(), len(s.onEnd))
	copy(hooks, s.onEnd)
	s.mu.Unlock()

	err := s.kv.Delete(ctx, authTokenKey, userKey)
	if s.store != nil {
		s.store.Reset()
	}
	for _, fn := range hooks {
		fn()
	}
	return err
}

// TokenExpired reports whether token carries an exp claim in the past.
// Opaque tokens and tokens without exp are treated as valid.
func TokenExpired(token string, now time.Time) bool {
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

// UserFromToken reads the session user out of a JWT's claims without
// verifying the signature; the server remains the authority on validity.
func UserFromToken(token string) (domain.User, error) {
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.User{}, fmt.Errorf("parse token claims: %w", err)
	}
	id := claims.ID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return domain.User{}, errors.New("token carries no user id")
	}
	return domain.User{
		ID:            id,
		Name:          claims.Name,
		Email:         claims.Email,
		Role:          domain.Role(claims.Role),
		Ward:          claims.Ward,
		AssignedWards: claims.AssignedWards,
	}, nil
}
