package auth

import (
	"errors"
	"time"
)

// Token is an API token record. The secret is only available at issue time;
// the database keeps a bcrypt hash.
type Token struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// IssuedToken pairs a stored token with its one-time plaintext value.
type IssuedToken struct {
	Token     Token
	Plaintext string
}

var (
	// ErrTokenMalformed indicates a bearer value that is not mer_<id>_<secret>.
	ErrTokenMalformed = errors.New("auth: malformed token")
	// ErrTokenRevoked indicates a revoked or unknown token.
	ErrTokenRevoked = errors.New("auth: token revoked or unknown")
)
