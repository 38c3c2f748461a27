package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
)

const fetchTimeout = 10 * time.Second

// Verifier validates RS256 bearer tokens against a cached JWKS document
// pulled from the token issuer. Keys are refreshed on a schedule and on
// unknown-kid misses; concurrent callers share one in-flight refresh.
type Verifier struct {
	jwksURL      string
	issuer       string
	client       *http.Client
	refreshEvery time.Duration

	mu       sync.Mutex
	keys     map[string]*rsa.PublicKey
	inflight chan struct{}
	fetchErr error
}

func NewVerifier(jwksURL, issuer string, refreshEvery time.Duration) *Verifier {
	return &Verifier{
		jwksURL:      jwksURL,
		issuer:       issuer,
		client:       &http.Client{Timeout: fetchTimeout},
		refreshEvery: refreshEvery,
		keys:         map[string]*rsa.PublicKey{},
	}
}

// Start refreshes the key cache once and then on a schedule until ctx is
// cancelled. The initial failure is non-fatal: verification fails closed
// until a refresh succeeds.
func (v *Verifier) Start(ctx context.Context) {
	if err := v.refresh(ctx); err != nil {
		log.Printf("jwks: initial fetch failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(v.refreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := v.refresh(ctx); err != nil {
					log.Printf("jwks: scheduled refresh failed: %v", err)
				}
			}
		}
	}()
}

type verifierClaims struct {
	jwt.RegisteredClaims
	Scope string   `json:"scope,omitempty"`
	Scp   []string `json:"scp,omitempty"`
}

func (v *Verifier) Verify(ctx context.Context, token string) (*ports.TokenClaims, error) {
	claims := &verifierClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrKeyUnavailable):
			return nil, domain.ErrKeyUnavailable
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, domain.ErrExpiredToken
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
		}
	}
	if !parsed.Valid || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, domain.ErrInvalidToken
	}

	return &ports.TokenClaims{
		Subject:   claims.Subject,
		Scopes:    claims.scopes(),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// scopes accepts both token shapes the issuer may produce: a
// space-separated "scope" string or an "scp" array.
func (c *verifierClaims) scopes() []string {
	if c.Scope != "" {
		return strings.Fields(c.Scope)
	}
	return c.Scp
}

func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		if key := v.lookup(kid); key != nil {
			return key, nil
		}

		// Unknown kid: the issuer may have rotated keys since the last
		// scheduled refresh. One shared refresh, then retry the lookup.
		if err := v.refresh(ctx); err != nil {
			if len(v.snapshotKeys()) == 0 {
				return nil, domain.ErrKeyUnavailable
			}
		}
		if key := v.lookup(kid); key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("key not found: %s", kid)
	}
}

func (v *Verifier) lookup(kid string) *rsa.PublicKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.keys[kid]
}

func (v *Verifier) snapshotKeys() map[string]*rsa.PublicKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]*rsa.PublicKey, len(v.keys))
	for k, key := range v.keys {
		out[k] = key
	}
	return out
}

// refresh fetches the JWKS document with bounded retries. If a refresh is
// already in flight, the caller waits for it instead of starting another.
func (v *Verifier) refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.inflight != nil {
		ch := v.inflight
		v.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		v.mu.Lock()
		err := v.fetchErr
		v.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	v.inflight = ch
	v.mu.Unlock()

	keys, err := v.fetchKeys(ctx)

	v.mu.Lock()
	if err == nil {
		v.keys = keys
	}
	v.fetchErr = err
	v.inflight = nil
	close(ch)
	v.mu.Unlock()
	return err
}

func (v *Verifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var keys map[string]*rsa.PublicKey
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
		}

		var doc jwksDocument
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return err
		}
		parsed, err := doc.rsaKeys()
		if err != nil {
			return backoff.Permanent(err)
		}
		keys = parsed
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return keys, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (d *jwksDocument) rsaKeys() (map[string]*rsa.PublicKey, error) {
	keys := make(map[string]*rsa.PublicKey, len(d.Keys))
	for _, k := range d.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: decode modulus: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: decode exponent: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks document contains no RSA signing keys")
	}
	return keys, nil
}

