package authority

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/services"
	"github.com/upb/tenant-auth/store"
	"github.com/upb/tenant-auth/utils"
)

const (
	authCodeKeyPrefix     = "authcode:"
	refreshTokenKeyPrefix = "refresh:"
	opaqueTokenBytes      = 32
	minVerifierLength     = 43
	maxVerifierLength     = 128
)

// GenerateAuthCode issues a single-use code bound to a PKCE challenge.
// An empty scope list requests every scope the tenant holds.
func (s *Service) GenerateAuthCode(ctx context.Context, req AuthCodeRequest) (*IssuedCode, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.ErrInvalidInput.WithDetail("fields", utils.GetValidationFields(err))
	}

	tenant, err := s.GetTenant(ctx, req.TenantID)
	if err != nil {
		if services.IsNotFoundError(err) {
			return nil, services.ErrUnknownTenant
		}
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, services.ErrTenantInactive
	}

	if req.CodeChallengeMethod != CodeChallengeMethodS256 {
		return nil, services.ErrUnsupportedPKCE.WithDetail("code_challenge_method", req.CodeChallengeMethod)
	}
	if req.CodeChallenge == "" {
		return nil, services.ErrMissingChallenge
	}

	scopes := dedupe(req.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string{}, tenant.Scopes...)
	}
	if missing := tenant.MissingScopes(scopes...); len(missing) > 0 {
		return nil, services.ErrUnauthorizedScope.WithDetail("scopes", missing)
	}

	code, err := randomToken()
	if err != nil {
		return nil, services.ErrInternal.Wrap(err)
	}

	now := s.now().UTC()
	record := models.AuthorizationCode{
		TenantID:            tenant.TenantID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IssuedAt:            now,
		ExpiresAt:           now.Add(AuthCodeTTL),
	}
	if err := s.putJSON(ctx, authCodeKeyPrefix+code, record, AuthCodeTTL); err != nil {
		return nil, err
	}

	s.metrics.CodeIssued()
	s.audit(tenant.TenantID, models.AuditActionCodeIssued, req.ClientID, "", grantDetails{Scopes: scopes})
	s.logger.Info("authorization code issued",
		zap.String("tenant_id", tenant.TenantID.String()),
		zap.String("client_id", req.ClientID),
		zap.Strings("scopes", scopes),
	)
	return &IssuedCode{
		Code:      code,
		ExpiresIn: int(AuthCodeTTL.Seconds()),
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// ExchangeCodeForToken redeems an authorization code.
// A code is consumed by exactly one successful exchange; any later or
// concurrent presentation fails as not found.
func (s *Service) ExchangeCodeForToken(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.ErrInvalidInput.WithDetail("fields", utils.GetValidationFields(err))
	}

	key := authCodeKeyPrefix + req.Code
	var record models.AuthorizationCode
	found, err := s.getJSON(ctx, key, &record)
	if err != nil {
		return nil, err
	}
	if !found {
		s.logger.Warn("unknown or already used authorization code presented",
			zap.String("client_id", req.ClientID),
		)
		return nil, services.ErrCodeNotFound
	}
	if record.IsExpired(s.now()) {
		if _, err := s.grants.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete expired authorization code", zap.Error(err))
		}
		return nil, services.ErrCodeNotFound
	}

	if record.ClientID != req.ClientID {
		return nil, services.ErrClientMismatch
	}
	if record.RedirectURI != req.RedirectURI {
		return nil, services.ErrRedirectMismatch
	}
	if !verifyChallenge(req.CodeVerifier, record.CodeChallenge) {
		s.logger.Warn("pkce verification failed",
			zap.String("tenant_id", record.TenantID.String()),
			zap.String("client_id", req.ClientID),
		)
		return nil, services.ErrInvalidVerifier
	}

	deleted, err := s.grants.Delete(ctx, key)
	if err != nil {
		return nil, services.ErrStorageFailed.Wrap(err)
	}
	if !deleted {
		s.logger.Warn("authorization code consumed concurrently",
			zap.String("tenant_id", record.TenantID.String()),
		)
		return nil, services.ErrCodeNotFound
	}

	tenant, err := s.activeTenant(ctx, record.TenantID)
	if err != nil {
		return nil, err
	}

	resp, err := s.issueTokens(ctx, tenant, record.ClientID, record.Scopes)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(GrantTypeAuthorizationCode)
	s.audit(tenant.TenantID, models.AuditActionTokenIssued, record.ClientID, tokenID(resp.AccessToken),
		grantDetails{GrantType: GrantTypeAuthorizationCode, Scopes: record.Scopes})
	return resp, nil
}

// RefreshAccessToken rotates a refresh token: the presented token is
// removed and a new access and refresh token pair is returned.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, services.ErrRefreshTokenInvalid
	}

	key := refreshTokenKey(refreshToken)
	var record models.RefreshToken
	found, err := s.getJSON(ctx, key, &record)
	if err != nil {
		return nil, err
	}
	if !found {
		s.logger.Warn("unknown or rotated refresh token presented")
		return nil, services.ErrRefreshTokenInvalid
	}
	if record.IsExpired(s.now()) {
		if _, err := s.grants.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete expired refresh token", zap.Error(err))
		}
		return nil, services.ErrRefreshTokenExpired
	}

	deleted, err := s.grants.Delete(ctx, key)
	if err != nil {
		return nil, services.ErrStorageFailed.Wrap(err)
	}
	if !deleted {
		return nil, services.ErrRefreshTokenInvalid
	}

	tenant, err := s.activeTenant(ctx, record.TenantID)
	if err != nil {
		return nil, err
	}

	resp, err := s.issueTokens(ctx, tenant, record.ClientID, record.Scopes)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(GrantTypeRefreshToken)
	s.audit(tenant.TenantID, models.AuditActionTokenRefreshed, record.ClientID, tokenID(resp.AccessToken),
		grantDetails{GrantType: GrantTypeRefreshToken, Scopes: record.Scopes})
	return resp, nil
}

// Revoke invalidates an access token (by jti) or a refresh token.
// Unknown, malformed and already invalid tokens are not an error.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if strings.Count(token, ".") == 2 {
		return s.RevokeAccessToken(ctx, token)
	}
	return s.RevokeRefreshToken(ctx, token)
}

// RevokeAccessToken blocks the token's jti for the rest of its lifetime
func (s *Service) RevokeAccessToken(ctx context.Context, token string) error {
	claims, err := s.signer.Verify(ctx, token, s.verifyOptions())
	if err != nil {
		if isTokenRejection(err) {
			return nil
		}
		return services.ErrStorageFailed.Wrap(err)
	}
	if err := s.signer.RevokeClaims(ctx, claims); err != nil {
		return services.ErrStorageFailed.Wrap(err)
	}
	if tenantID, err := uuid.Parse(claims.TenantID); err == nil {
		s.audit(tenantID, models.AuditActionTokenRevoked, "", claims.ID, grantDetails{TokenKind: "access_token", Scopes: claims.Scopes})
	}
	return nil
}

// RevokeRefreshToken deletes a refresh token
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	data, err := s.grants.Take(ctx, refreshTokenKey(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return services.ErrStorageFailed.Wrap(err)
	}

	var record models.RefreshToken
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("revoked refresh token had an unreadable record", zap.Error(err))
		return nil
	}
	s.logger.Info("refresh token revoked", zap.String("tenant_id", record.TenantID.String()))
	s.audit(record.TenantID, models.AuditActionTokenRevoked, record.ClientID, "", grantDetails{TokenKind: "refresh_token", Scopes: record.Scopes})
	return nil
}

// issueTokens signs an access token for the granted scopes and stores a
// fresh refresh token carrying the same grant.
func (s *Service) issueTokens(ctx context.Context, tenant *models.Tenant, clientID string, scopes []string) (*TokenResponse, error) {
	accessToken, err := s.signer.Sign(keys.Payload{
		Subject:  tenant.TenantID.String(),
		TenantID: tenant.TenantID.String(),
		Roles:    tenant.Roles,
		Scopes:   scopes,
	}, keys.SignOptions{
		Issuer:    s.cfg.Issuer,
		Audience:  s.cfg.Audience,
		ExpiresIn: keys.DefaultTokenTTL,
	})
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return nil, services.ErrSigningFailed.Wrap(err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return nil, services.ErrInternal.Wrap(err)
	}
	now := s.now().UTC()
	record := models.RefreshToken{
		TenantID:  tenant.TenantID,
		ClientID:  clientID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(RefreshTokenTTL),
	}
	if err := s.putJSON(ctx, refreshTokenKey(refreshToken), record, RefreshTokenTTL); err != nil {
		return nil, err
	}

	s.logger.Info("tokens issued",
		zap.String("tenant_id", tenant.TenantID.String()),
		zap.String("client_id", clientID),
		zap.Strings("scopes", scopes),
	)
	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int(keys.DefaultTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        models.FormatScope(scopes),
	}, nil
}

func (s *Service) verifyOptions() keys.VerifyOptions {
	return keys.VerifyOptions{Issuer: s.cfg.Issuer, Audience: s.cfg.Audience}
}

func (s *Service) putJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return services.ErrInternal.Wrap(err)
	}
	if err := s.grants.Set(ctx, key, data, ttl); err != nil {
		s.logger.Error("failed to store grant", zap.Error(err))
		return services.ErrStorageFailed.Wrap(err)
	}
	return nil
}

func (s *Service) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.grants.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, services.ErrStorageFailed.Wrap(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, services.ErrInternal.Wrap(fmt.Errorf("decode grant: %w", err))
	}
	return true, nil
}

// verifyChallenge checks base64url(SHA256(verifier)) against the stored challenge
func verifyChallenge(verifier, challenge string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func refreshTokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return refreshTokenKeyPrefix + hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func isTokenRejection(err error) bool {
	for _, target := range []error{
		keys.ErrMalformedToken,
		keys.ErrUnsupportedAlgorithm,
		keys.ErrUnknownKey,
		keys.ErrInvalidSignature,
		keys.ErrTokenExpired,
		keys.ErrTokenNotYetValid,
		keys.ErrInvalidIssuer,
		keys.ErrInvalidAudience,
		keys.ErrTokenRevoked,
		keys.ErrInvalidToken,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
