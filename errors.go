package authsession

import "errors"

var (
	// ErrLockedOut is an exported constant or variable used by the session kit.
	ErrLockedOut = errors.New("account temporarily locked")
	// ErrInvalidCredentials is an exported constant or variable used by the session kit.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork is an exported constant or variable used by the session kit.
	ErrNetwork = errors.New("auth service unreachable")
	// ErrRefreshFailed is an exported constant or variable used by the session kit.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrCorruptState is an exported constant or variable used by the session kit.
	ErrCorruptState = errors.New("corrupt persisted session state")
	// ErrNotAuthenticated is an exported constant or variable used by the session kit.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrClientClosed is an exported constant or variable used by the session kit.
	ErrClientClosed = errors.New("client closed")
	// ErrBackendUnavailable is an exported constant or variable used by the session kit.
	ErrBackendUnavailable = errors.New("credential backend unavailable")
	// ErrManagerDestroyed is an exported constant or variable used by the session kit.
	ErrManagerDestroyed = errors.New("lifecycle manager destroyed")
)
