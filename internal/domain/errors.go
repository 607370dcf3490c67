package domain

import "errors"

// Authentication failures are terminal for the connection attempt. Their
// Error() text is the reason string sent back before refusing the socket.
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRevocationCheck refuses the connection when the revocation store
	// cannot answer. Distinct from ErrTokenRevoked so an infrastructure
	// failure is not reported as a revoked credential.
	ErrRevocationCheck = errors.New("revocation check unavailable")
)

// Event-local failures. None of these ever affect another connection.
var (
	ErrSenderMismatch = errors.New("sender does not match authenticated user")
	ErrRateLimited    = errors.New("rate limited")
	ErrNotFound       = errors.New("not found")
)
