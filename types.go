package authsession

import (
	"context"
	"encoding/json"
	"time"
)

// Credentials is the input for [Client.Login].
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
}

// RegisterRequest is the input for [Client.Register].
type RegisterRequest struct {
	Email      string
	Password   string
	Name       string
	RememberMe bool
}

// LoginResponse is returned by [API.Login] and [API.Register]. ExpiresIn is
// the access token lifetime in seconds; User is an opaque snapshot persisted
// alongside the credentials for the UI layer.
type LoginResponse struct {
	User         json.RawMessage
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SessionID    string
}

// RefreshResponse is returned by [API.Refresh].
type RefreshResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// SessionInfo describes one remote session as reported by the auth service.
type SessionInfo struct {
	SessionID  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	UserAgent  string
	Current    bool
}

// API is the outbound interface to the authentication service. It is the
// primary interface callers must implement to integrate authsession with
// their transport layer.
//
// Contract: implementations return [ErrInvalidCredentials] (possibly wrapped)
// when the service rejects a login; any other error is treated as a transient
// network failure and does not affect lockout accounting.
type API interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	RevokeSession(ctx context.Context, sessionID string) error
	ActiveSessions(ctx context.Context) ([]SessionInfo, error)
	ChangePassword(ctx context.Context, current, next string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// LoginResult is returned by [Client.Login] and [Client.Register].
type LoginResult struct {
	User      json.RawMessage
	SessionID string
}

// Clock supplies the current time. Injected so tests can advance time
// deterministically.
type Clock func() time.Time
