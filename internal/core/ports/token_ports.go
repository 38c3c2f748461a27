package ports

import (
	"context"
	"time"
)

// TokenClaims is what the pipeline needs from a verified bearer token.
// The subject arrives pre-verified by the identity collaborator.
type TokenClaims struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*TokenClaims, error)
}
