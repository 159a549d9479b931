package app

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

func testKeyPairPEM(t *testing.T) (privatePEM, publicPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM
}

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	priv, pub := testKeyPairPEM(t)
	cfg := IssuerConfig{
		Issuer:      "https://licensing.test",
		Audience:    "FaxRetriever.api",
		Leeway:      time.Minute,
		ActiveKID:   "test-kid-1",
		PrivateKeys: map[string]string{"test-kid-1": priv},
		PublicKeys:  map[string]string{"test-kid-1": pub},
	}
	issuer, err := NewTokenIssuer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return issuer
}

func TestTokenIssuer_MintValidate(t *testing.T) {
	issuer := newTestIssuer(t)
	domainUUID := uuid.NewString()
	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	signed, err := issuer.Mint(domainUUID, "DESKTOP-01", domain.InitialScopes(), exp)
	require.NoError(t, err)

	claims, err := issuer.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, domainUUID, claims.DomainUUID)
	assert.Equal(t, "DESKTOP-01", claims.DeviceID)
	assert.Equal(t, domain.InitialScopes(), claims.Scopes)
	assert.True(t, claims.ExpiresAt.Equal(exp))
}

func TestTokenIssuer_Validate_Rejections(t *testing.T) {
	issuer := newTestIssuer(t)
	domainUUID := uuid.NewString()

	t.Run("garbage token", func(t *testing.T) {
		_, err := issuer.Validate("not.a.jwt")
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("tampered payload", func(t *testing.T) {
		signed, err := issuer.Mint(domainUUID, "DESKTOP-01", domain.InitialScopes(), time.Now().Add(time.Hour))
		require.NoError(t, err)
		tampered := signed[:len(signed)-6] + "AAAAAA"
		_, err = issuer.Validate(tampered)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("expired beyond leeway", func(t *testing.T) {
		signed, err := issuer.Mint(domainUUID, "DESKTOP-01", domain.InitialScopes(), time.Now().Add(-2*time.Minute))
		require.NoError(t, err)
		_, err = issuer.Validate(signed)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("expired within leeway still accepted", func(t *testing.T) {
		signed, err := issuer.Mint(domainUUID, "DESKTOP-01", domain.InitialScopes(), time.Now().Add(-10*time.Second))
		require.NoError(t, err)
		_, err = issuer.Validate(signed)
		assert.NoError(t, err)
	})

	t.Run("non-uuid subject", func(t *testing.T) {
		signed, err := issuer.Mint("not-a-uuid", "DESKTOP-01", domain.InitialScopes(), time.Now().Add(time.Hour))
		require.NoError(t, err)
		_, err = issuer.Validate(signed)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("empty scope list", func(t *testing.T) {
		signed, err := issuer.Mint(domainUUID, "DESKTOP-01", nil, time.Now().Add(time.Hour))
		require.NoError(t, err)
		_, err = issuer.Validate(signed)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("token signed by a different issuer", func(t *testing.T) {
		other := newTestIssuer(t)
		signed, err := other.Mint(domainUUID, "DESKTOP-01", domain.InitialScopes(), time.Now().Add(time.Hour))
		require.NoError(t, err)
		_, err = issuer.Validate(signed)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}

func TestTokenIssuer_Escalate_PreservesExpiry(t *testing.T) {
	issuer := newTestIssuer(t)
	domainUUID := uuid.NewString()
	exp := time.Now().UTC().Add(45 * time.Minute).Truncate(time.Second)

	signed, err := issuer.Mint(domainUUID, "DESKTOP-01", []string{domain.ScopeAssignmentsRequest}, exp)
	require.NoError(t, err)
	claims, err := issuer.Validate(signed)
	require.NoError(t, err)

	escalated, err := issuer.Escalate(claims, domain.ScopeAssignmentsUnregister)
	require.NoError(t, err)

	newClaims, err := issuer.Validate(escalated)
	require.NoError(t, err)
	// Scopes sorted, deduplicated, expiry copied exactly.
	assert.Equal(t, []string{domain.ScopeAssignmentsRequest, domain.ScopeAssignmentsUnregister}, newClaims.Scopes)
	assert.True(t, newClaims.ExpiresAt.Equal(claims.ExpiresAt))
}

func TestTokenIssuer_Escalate_DeduplicatesScopes(t *testing.T) {
	issuer := newTestIssuer(t)
	claims := &TokenClaims{
		DomainUUID: uuid.NewString(),
		DeviceID:   "DESKTOP-01",
		Scopes:     []string{domain.ScopeAssignmentsRequest, domain.ScopeAssignmentsUnregister},
		ExpiresAt:  time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}

	escalated, err := issuer.Escalate(claims, domain.ScopeAssignmentsUnregister)
	require.NoError(t, err)
	newClaims, err := issuer.Validate(escalated)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ScopeAssignmentsRequest, domain.ScopeAssignmentsUnregister}, newClaims.Scopes)
}

func TestTokenIssuer_RequireScopes(t *testing.T) {
	issuer := newTestIssuer(t)
	claims := &TokenClaims{Scopes: []string{domain.ScopeAssignmentsList}}

	assert.NoError(t, issuer.RequireScopes(claims, domain.ScopeAssignmentsList))

	err := issuer.RequireScopes(claims, domain.ScopeAssignmentsRequest, domain.ScopeBearerRequest)
	require.ErrorIs(t, err, domain.ErrInsufficientScope)
	assert.Contains(t, err.Error(), domain.ScopeAssignmentsRequest)
	assert.Contains(t, err.Error(), domain.ScopeBearerRequest)
}
