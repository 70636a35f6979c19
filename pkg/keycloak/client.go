// Package keycloak verifies RS256 bearer tokens against a Keycloak realm's
// published signing keys.
package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultFetchTimeout = 10 * time.Second
	// minRefreshInterval bounds how often an unknown kid triggers a refetch.
	minRefreshInterval = 30 * time.Second
)

var ErrKeyNotFound = errors.New("keycloak: signing key not found")

// KeySet caches a realm's RSA signing keys by kid.
type KeySet struct {
	certsURL   string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastRefresh time.Time
}

func NewKeySet(baseURL, realm string, logger *zap.Logger) *KeySet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySet{
		certsURL:   fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", strings.TrimRight(baseURL, "/"), realm),
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		logger:     logger,
		now:        time.Now,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Keyfunc resolves the verification key for a token. It is meant to be
// passed to jwt.Parse.
func (k *KeySet) Keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)

	if key := k.lookup(kid); key != nil {
		return key, nil
	}
	if err := k.Refresh(context.Background(), false); err != nil {
		return nil, err
	}
	if key := k.lookup(kid); key != nil {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

// lookup returns the key for kid. Tokens without a kid match the only key
// when the realm publishes exactly one.
func (k *KeySet) lookup(kid string) *rsa.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if kid != "" {
		return k.keys[kid]
	}
	if len(k.keys) == 1 {
		for _, key := range k.keys {
			return key
		}
	}
	return nil
}

// Refresh fetches the realm's keys. Unless force is set, refreshes closer
// together than minRefreshInterval are skipped.
func (k *KeySet) Refresh(ctx context.Context, force bool) error {
	k.mu.RLock()
	recent := !k.lastRefresh.IsZero() && k.now().Sub(k.lastRefresh) < minRefreshInterval
	k.mu.RUnlock()
	if recent && !force {
		return nil
	}

	keys, err := k.fetch(ctx)
	if err != nil {
		k.logger.Warn("Failed to fetch keycloak signing keys", zap.String("url", k.certsURL), zap.Error(err))
		return err
	}

	k.mu.Lock()
	k.keys = keys
	k.lastRefresh = k.now()
	k.mu.Unlock()

	k.logger.Info("Loaded keycloak signing keys", zap.Int("count", len(keys)))
	return nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.certsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycloak: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keycloak: fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("keycloak: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range set.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(key.N, key.E)
		if err != nil {
			k.logger.Warn("Skipping malformed signing key", zap.String("kid", key.Kid), zap.Error(err))
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("keycloak: no RSA signing keys in jwks")
	}
	return keys, nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
