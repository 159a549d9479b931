package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

type fakeDeviceRegistry struct {
	mu      sync.Mutex
	seen    map[string][]string
	failErr error
}

func (r *fakeDeviceRegistry) Register(_ context.Context, domainUUID, deviceID string) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string][]string)
	}
	r.seen[domainUUID] = append(r.seen[domainUUID], deviceID)
	return nil
}

const testAuthToken = "a1b2c3d4e5f6"

func newTestInitService(t *testing.T, devices *fakeDeviceRegistry) (*InitService, *TokenIssuer) {
	t.Helper()
	client := testClient()
	client.AuthTokenHash = HashAuthToken(testAuthToken)
	clients := &fakeClientRepo{clients: map[string]*domain.Client{testDomainUUID: client}}
	issuer := newTestIssuer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewInitService(clients, devices, issuer, 24*time.Hour, nil, logger), issuer
}

func TestInitSession_IssuesInitialToken(t *testing.T) {
	devices := &fakeDeviceRegistry{}
	svc, issuer := newTestInitService(t, devices)

	out, err := svc.InitSession(context.Background(), testAuthToken, "100@clinic.reseller.service", testDevice)
	require.NoError(t, err)

	assert.Equal(t, testDomainUUID, out.DomainUUID)
	assert.Equal(t, int64(86400), out.ExpiresIn)
	assert.Equal(t, testClient().Numbers, out.Numbers)
	assert.Equal(t, []string{testDevice}, devices.seen[testDomainUUID])

	claims, err := issuer.Validate(out.Token)
	require.NoError(t, err)
	assert.Equal(t, testDomainUUID, claims.DomainUUID)
	assert.Equal(t, testDevice, claims.DeviceID)
	assert.ElementsMatch(t, domain.InitialScopes(), claims.Scopes)
	// The bootstrap token never carries the unregister scope.
	assert.False(t, claims.HasScope(domain.ScopeAssignmentsUnregister))
}

func TestInitSession_TokenIsCaseInsensitive(t *testing.T) {
	svc, _ := newTestInitService(t, &fakeDeviceRegistry{})

	_, err := svc.InitSession(context.Background(), "  A1B2C3D4E5F6  ", "100@clinic.reseller.service", testDevice)
	assert.NoError(t, err)
}

func TestInitSession_WrongTokenRejected(t *testing.T) {
	svc, _ := newTestInitService(t, &fakeDeviceRegistry{})

	_, err := svc.InitSession(context.Background(), "not-the-token", "100@clinic.reseller.service", testDevice)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestInitSession_UnknownAccountRejected(t *testing.T) {
	svc, _ := newTestInitService(t, &fakeDeviceRegistry{})

	_, err := svc.InitSession(context.Background(), testAuthToken, "999@other.reseller.service", testDevice)
	// Same error as a bad token, so callers cannot probe for valid accounts.
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestInitSession_RequiresDeviceID(t *testing.T) {
	svc, _ := newTestInitService(t, &fakeDeviceRegistry{})

	_, err := svc.InitSession(context.Background(), testAuthToken, "100@clinic.reseller.service", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestHashAuthToken_NormalizesBeforeHashing(t *testing.T) {
	assert.Equal(t, HashAuthToken("abcdef"), HashAuthToken("ABCDEF"))
	assert.Equal(t, HashAuthToken("abcdef"), HashAuthToken("  abcdef\n"))
	assert.NotEqual(t, HashAuthToken("abcdef"), HashAuthToken("abcdeg"))
}
