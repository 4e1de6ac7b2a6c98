package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

type SessionManager interface {
	Login(ctx context.Context, email, password string) (*domain.User, error)
	Logout(ctx context.Context) error
	User() (domain.User, bool)
	Token() string
}

type AccountManager interface {
	Register(ctx context.Context, r domain.Registration) (*domain.User, error)
	DeleteAccount(ctx context.Context) error
}

// SessionHandler lets a local view sign the agent in and out.
type SessionHandler struct {
	sessions SessionManager
	accounts AccountManager
	log      *zap.Logger
}

func NewSessionHandler(sessions SessionManager, accounts AccountManager, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, accounts: accounts, log: log}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token,omitempty"`
	User    *domain.User `json:"user,omitempty"`
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, h.log, &domain.ValidationError{Field: "email", Message: "email and password are required"})
		return
	}

	user, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.log.Info("Login failed", zap.String("email", req.Email), zap.Error(err))
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, h.log, http.StatusOK, SessionResponse{
		Message: "Login successful",
		Token:   h.sessions.Token(),
		User:    user,
	})
}

// Current returns the signed-in user.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessions.User()
	if !ok {
		writeError(w, h.log, domain.ErrNoSession)
		return
	}
	writeJSON(w, h.log, http.StatusOK, SessionResponse{Message: "Active session", User: &user})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.log.Warn("Logout did not clear stored session", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.Registration
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, h.log, http.StatusCreated, SessionResponse{
		Message: "Registration successful",
		User:    user,
	})
}

func (h *SessionHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
