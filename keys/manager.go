// Package keys manages the RSA signing keys used for access tokens:
// rotation, signing, verification, revocation and JWKS export.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/store"
)

// MaxRetainedKeys is the number of key generations kept for verification
const MaxRetainedKeys = 2

const (
	defaultKeyBits          = 2048
	defaultRotationInterval = 24 * time.Hour
	revokedKeyPrefix        = "revoked:"
)

var (
	ErrNoSigningKey         = errors.New("no signing key available")
	ErrMalformedToken       = errors.New("malformed token")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrUnknownKey           = errors.New("unknown signing key")
	ErrInvalidSignature     = errors.New("invalid token signature")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenNotYetValid     = errors.New("token not yet valid")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrInvalidToken         = errors.New("invalid token")
	ErrAlreadyStarted       = errors.New("key rotation already started")
)

// SigningKey is one generation of the RSA key pair
type SigningKey struct {
	Kid        string
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
}

// Config holds configuration for Manager
type Config struct {
	KeyBits          int
	RotationInterval time.Duration
	// DefaultTTL applies when SignOptions.ExpiresIn is zero.
	DefaultTTL time.Duration
	Now        func() time.Time
	// OnRotate is called with the new kid after every rotation.
	OnRotate func(kid string)
}

// Manager owns the signing keys and the revoked token id set.
// It is safe for concurrent use; verification may run while a rotation is in progress.
type Manager struct {
	mu   sync.RWMutex
	keys []*SigningKey // oldest first, last is current
	seq  uint64

	bits        int
	interval    time.Duration
	defaultTTL  time.Duration
	now         func() time.Time
	onRotate    func(kid string)
	revocations store.Store
	logger      *zap.Logger

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewManager creates a Manager and generates its first key.
func NewManager(cfg Config, revocations store.Store, logger *zap.Logger) (*Manager, error) {
	if revocations == nil {
		return nil, errors.New("revocation store is required")
	}
	if cfg.KeyBits == 0 {
		cfg.KeyBits = defaultKeyBits
	}
	if cfg.RotationInterval == 0 {
		cfg.RotationInterval = defaultRotationInterval
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		bits:        cfg.KeyBits,
		interval:    cfg.RotationInterval,
		defaultTTL:  cfg.DefaultTTL,
		now:         cfg.Now,
		onRotate:    cfg.OnRotate,
		revocations: revocations,
		logger:      logger,
	}

	if _, err := m.RotateKeys(); err != nil {
		return nil, err
	}
	return m, nil
}

// RotateKeys generates a new key, makes it current and prunes old generations.
// Tokens signed by a pruned key no longer verify.
func (m *Manager) RotateKeys() (*SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, m.bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	m.mu.Lock()
	m.seq++
	now := m.now().UTC()
	key := &SigningKey{
		Kid:        fmt.Sprintf("k-%s-%d", now.Format("20060102T150405Z"), m.seq),
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
		CreatedAt:  now,
	}
	m.keys = append(m.keys, key)
	var pruned []string
	for len(m.keys) > MaxRetainedKeys {
		pruned = append(pruned, m.keys[0].Kid)
		m.keys = m.keys[1:]
	}
	m.mu.Unlock()

	m.logger.Info("signing key rotated",
		zap.String("kid", key.Kid),
		zap.Strings("pruned", pruned),
	)
	if m.onRotate != nil {
		m.onRotate(key.Kid)
	}
	return key, nil
}

// Start launches the periodic rotation task.
func (m *Manager) Start() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.stopCh != nil {
		return ErrAlreadyStarted
	}
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.rotationLoop(m.stopCh)

	m.logger.Info("key rotation started", zap.Duration("interval", m.interval))
	return nil
}

// Stop ends the rotation task and waits for it to exit. It is safe to call
// Stop on a manager that was never started.
func (m *Manager) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.stopCh = nil

	m.logger.Info("key rotation stopped")
}

func (m *Manager) rotationLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RotateKeys(); err != nil {
				m.logger.Error("scheduled key rotation failed", zap.Error(err))
			}
		case <-stopCh:
			return
		}
	}
}

// CurrentKeyID returns the kid new tokens are signed with
func (m *Manager) CurrentKeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.keys) == 0 {
		return ""
	}
	return m.keys[len(m.keys)-1].Kid
}

// KeyIDs returns the retained kids, oldest first
func (m *Manager) KeyIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, len(m.keys))
	for i, k := range m.keys {
		ids[i] = k.Kid
	}
	return ids
}

// JWKS exports every retained public key
func (m *Manager) JWKS() JWKS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := JWKS{Keys: make([]JWK, 0, len(m.keys))}
	for _, k := range m.keys {
		set.Keys = append(set.Keys, NewJWK(k.Kid, k.PublicKey))
	}
	return set
}

// Sign issues a compact RS256 token under the current key.
// Every call gets a fresh jti.
func (m *Manager) Sign(payload Payload, opts SignOptions) (string, error) {
	m.mu.RLock()
	var current *SigningKey
	if len(m.keys) > 0 {
		current = m.keys[len(m.keys)-1]
	}
	m.mu.RUnlock()

	if current == nil {
		return "", ErrNoSigningKey
	}

	ttl := opts.ExpiresIn
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	subject := payload.Subject
	if subject == "" {
		subject = payload.TenantID
	}

	// NumericDate has second precision; truncate so iat, nbf and exp agree.
	now := m.now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    opts.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: payload.TenantID,
		Roles:    payload.Roles,
		Scopes:   payload.Scopes,
	}
	if opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{opts.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = current.Kid

	signed, err := token.SignedString(current.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, validity window, optional issuer and audience,
// and revocation. Each failure maps to exactly one of the package errors.
func (m *Manager) Verify(ctx context.Context, tokenString string, opts VerifyOptions) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc, parserOpts...)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrMalformedToken
	}

	revoked, err := m.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// keyFunc resolves the verification key from the kid header
func (m *Manager) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method == nil || token.Method.Alg() != Algorithm {
		return nil, ErrUnsupportedAlgorithm
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, ErrUnknownKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.Kid == kid {
			return k.PublicKey, nil
		}
	}
	return nil, ErrUnknownKey
}

// classifyParseError maps jwt parser errors onto package errors.
// Raw parser errors are never returned.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return ErrUnknownKey
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrInvalidAudience
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformedToken
	default:
		return ErrInvalidToken
	}
}

// RevokeToken blocks jti until expiresAt. The entry expires together with the
// token it blocks. A zero expiresAt blocks for the default token lifetime.
func (m *Manager) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("jti is required")
	}

	ttl := m.defaultTTL
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(m.now())
		if ttl <= 0 {
			// Already expired, verification rejects it anyway.
			return nil
		}
		if ttl < time.Second {
			ttl = time.Second
		}
	}

	if err := m.revocations.Set(ctx, revokedKeyPrefix+jti, []byte("1"), ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	m.logger.Info("token revoked", zap.String("jti", jti), zap.Duration("ttl", ttl))
	return nil
}

// RevokeClaims revokes the token the claims were decoded from
func (m *Manager) RevokeClaims(ctx context.Context, claims *Claims) error {
	return m.RevokeToken(ctx, claims.ID, claims.ExpiresAtTime())
}

// IsRevoked reports whether jti is on the block list
func (m *Manager) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ok, err := m.revocations.Exists(ctx, revokedKeyPrefix+jti)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return ok, nil
}
