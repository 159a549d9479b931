package app

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

// IssuerConfig carries the signing material and claim policy for capability
// tokens. Keys are PEM-encoded RSA keys keyed by kid; rotation works by
// adding a new kid, switching ActiveKID, and keeping old public keys until
// their tokens age out.
type IssuerConfig struct {
	Issuer        string
	Audience      string
	NotBeforeSkew time.Duration
	Leeway        time.Duration
	ActiveKID     string
	PrivateKeys   map[string]string
	PublicKeys    map[string]string
}

// TokenClaims is a validated capability token's decoded content. Tokens are
// immutable: escalation mints a new token, it never mutates an issued one.
type TokenClaims struct {
	DomainUUID string
	DeviceID   string
	Scopes     []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// HasScope reports whether the claims carry the given scope.
func (c *TokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type capabilityClaims struct {
	DeviceID string   `json:"device_id"`
	Scope    []string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates RS256 capability tokens binding
// {domain, device, scopes, expiry}.
type TokenIssuer struct {
	cfg        IssuerConfig
	signingKey *rsa.PrivateKey
	publicKeys map[string]*rsa.PublicKey
	logger     *slog.Logger
}

func NewTokenIssuer(cfg IssuerConfig, logger *slog.Logger) (*TokenIssuer, error) {
	pemKey, ok := cfg.PrivateKeys[cfg.ActiveKID]
	if !ok {
		return nil, fmt.Errorf("no private key for active kid %q", cfg.ActiveKID)
	}
	signingKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key for kid %q: %w", cfg.ActiveKID, err)
	}

	publicKeys := make(map[string]*rsa.PublicKey, len(cfg.PublicKeys))
	for kid, pemPub := range cfg.PublicKeys {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemPub))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key for kid %q: %w", kid, err)
		}
		publicKeys[kid] = pub
	}
	if _, ok := publicKeys[cfg.ActiveKID]; !ok {
		return nil, fmt.Errorf("no public key for active kid %q", cfg.ActiveKID)
	}

	return &TokenIssuer{
		cfg:        cfg,
		signingKey: signingKey,
		publicKeys: publicKeys,
		logger:     logger.With("component", "token_issuer"),
	}, nil
}

// Mint signs a capability token with an absolute expiry. The signature
// covers scope and expiry, so neither can be tampered with after issue.
func (i *TokenIssuer) Mint(domainUUID, deviceID string, scopes []string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := capabilityClaims{
		DeviceID: deviceID,
		Scope:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			Subject:   domainUUID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(i.cfg.NotBeforeSkew)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.cfg.ActiveKID

	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign capability token: %w", err)
	}

	i.logger.Info("capability token issued",
		"domain_uuid", domainUUID, "device_id", deviceID,
		"scope", strings.Join(scopes, " "), "kid", i.cfg.ActiveKID, "exp", expiresAt)
	return signed, nil
}

// Validate verifies signature (via the kid registry), issuer, audience, and
// the exp/nbf window with leeway, then checks claim shape. Every failure
// collapses to ErrInvalidToken so the transport surface stays uniform.
func (i *TokenIssuer) Validate(tokenString string) (*TokenClaims, error) {
	var claims capabilityClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		pub, ok := i.publicKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithLeeway(i.cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		i.logger.Warn("token validation failed", "error", err)
		return nil, domain.ErrInvalidToken
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, domain.ErrInvalidToken
	}
	if strings.TrimSpace(claims.DeviceID) == "" {
		return nil, domain.ErrInvalidToken
	}
	if len(claims.Scope) == 0 {
		return nil, domain.ErrInvalidToken
	}
	for _, s := range claims.Scope {
		if s == "" {
			return nil, domain.ErrInvalidToken
		}
	}

	out := &TokenClaims{
		DomainUUID: claims.Subject,
		DeviceID:   claims.DeviceID,
		Scopes:     claims.Scope,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// Escalate mints a new token whose scopes are the sorted union of the
// original scopes and addedScopes. The expiry is copied verbatim from the
// validated claims: privilege may grow within a session, the session's
// lifetime never does.
func (i *TokenIssuer) Escalate(claims *TokenClaims, addedScopes ...string) (string, error) {
	merged := make(map[string]struct{}, len(claims.Scopes)+len(addedScopes))
	for _, s := range claims.Scopes {
		merged[s] = struct{}{}
	}
	for _, s := range addedScopes {
		merged[s] = struct{}{}
	}
	scopes := make([]string, 0, len(merged))
	for s := range merged {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	return i.Mint(claims.DomainUUID, claims.DeviceID, scopes, claims.ExpiresAt)
}

// RequireScopes fails with *domain.InsufficientScopeError naming every
// missing scope.
func (i *TokenIssuer) RequireScopes(claims *TokenClaims, required ...string) error {
	var missing []string
	for _, r := range required {
		if !claims.HasScope(r) {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &domain.InsufficientScopeError{Missing: missing}
	}
	return nil
}
