package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
)

type fakeClientRepo struct {
	clients map[string]*domain.Client
}

func (r *fakeClientRepo) GetByDomainUUID(_ context.Context, domainUUID string) (*domain.Client, error) {
	c, ok := r.clients[domainUUID]
	if !ok {
		return nil, repository.ErrClientNotFound
	}
	return c, nil
}

func (r *fakeClientRepo) GetByAuth(_ context.Context, faxUser, authTokenHash string) (*domain.Client, error) {
	for _, c := range r.clients {
		if c.FaxUser == faxUser && c.AuthTokenHash == authTokenHash && c.Active {
			return c, nil
		}
	}
	return nil, repository.ErrClientNotFound
}

func (r *fakeClientRepo) ListActive(_ context.Context) ([]domain.Client, error) {
	var out []domain.Client
	for _, c := range r.clients {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

// fakeAssignmentStore reproduces the storage contract in memory: Claim and
// Unclaim are atomic compare-and-set under one mutex, and every successful
// mutation bumps the version. spuriousLosses forces that many Claim calls to
// report a loss without touching state, which is what a raced claim looks
// like from the caller's side.
type fakeAssignmentStore struct {
	mu             sync.Mutex
	owners         map[string]string
	version        int64
	spuriousLosses int
	claimErr       error
	claimCalls     int
}

func newFakeAssignmentStore() *fakeAssignmentStore {
	return &fakeAssignmentStore{owners: make(map[string]string)}
}

func (s *fakeAssignmentStore) Claim(_ context.Context, _, number, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.spuriousLosses > 0 {
		s.spuriousLosses--
		return false, nil
	}
	owner := s.owners[number]
	if owner != "" && owner != domain.LegacyUnassignedSentinel {
		return false, nil
	}
	s.owners[number] = deviceID
	s.version++
	return true, nil
}

func (s *fakeAssignmentStore) Unclaim(_ context.Context, _, number, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[number] != deviceID {
		return false, nil
	}
	delete(s.owners, number)
	s.version++
	return true, nil
}

func (s *fakeAssignmentStore) UnclaimAll(_ context.Context, _, deviceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released []string
	for number, owner := range s.owners {
		if owner == deviceID {
			delete(s.owners, number)
			released = append(released, number)
			s.version++
		}
	}
	return released, nil
}

func (s *fakeAssignmentStore) Owner(_ context.Context, _, number string) (domain.Ownership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.OwnershipFromStored(s.owners[number]), nil
}

func (s *fakeAssignmentStore) List(_ context.Context, _ string) (map[string]domain.Ownership, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Ownership, len(s.owners))
	for number, owner := range s.owners {
		out[number] = domain.OwnershipFromStored(owner)
	}
	return out, s.version, nil
}

func (s *fakeAssignmentStore) Version(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

const (
	testDomainUUID = "5ac47c9a-7c75-44a5-9ec3-4b5a64c5a0f1"
	testDevice     = "DESKTOP-ALPHA"
	otherDevice    = "DESKTOP-BRAVO"
)

func testClient() *domain.Client {
	return &domain.Client{
		DomainUUID: testDomainUUID,
		FaxUser:    "clinic.reseller.service",
		Active:     true,
		Numbers:    []string{"+15551230001", "+15551230002", "+15551230003"},
	}
}

func testClaims(device string, scopes ...string) *TokenClaims {
	if scopes == nil {
		scopes = domain.InitialScopes()
	}
	return &TokenClaims{
		DomainUUID: testDomainUUID,
		DeviceID:   device,
		Scopes:     scopes,
		IssuedAt:   time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
}

func newTestArbitration(t *testing.T, store repository.AssignmentStore) *ArbitrationService {
	t.Helper()
	clients := &fakeClientRepo{clients: map[string]*domain.Client{testDomainUUID: testClient()}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArbitrationService(clients, store, newTestIssuer(t), nil, logger)
}

func TestRequestAssignments_ClaimsUnassignedNumbers(t *testing.T) {
	store := newFakeAssignmentStore()
	svc := newTestArbitration(t, store)

	out, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice,
		[]string{"+15551230001", "+15551230002"})
	require.NoError(t, err)

	assert.Equal(t, domain.AssignmentResult{Status: domain.StatusAllowed, Owner: testDevice}, out.Results["+15551230001"])
	assert.Equal(t, domain.AssignmentResult{Status: domain.StatusAllowed, Owner: testDevice}, out.Results["+15551230002"])
	assert.Equal(t, int64(2), out.Version)
	assert.Equal(t, testDevice, store.owners["+15551230001"])
}

func TestRequestAssignments_EscalatesAfterNewOwnership(t *testing.T) {
	store := newFakeAssignmentStore()
	svc := newTestArbitration(t, store)
	claims := testClaims(testDevice)

	out, err := svc.RequestAssignments(context.Background(), claims, testDevice, []string{"+15551230001"})
	require.NoError(t, err)
	require.NotEmpty(t, out.EscalatedToken)

	escalated, err := svc.issuer.Validate(out.EscalatedToken)
	require.NoError(t, err)
	assert.Contains(t, escalated.Scopes, domain.ScopeAssignmentsUnregister)
	for _, s := range claims.Scopes {
		assert.Contains(t, escalated.Scopes, s)
	}
	// Escalation widens privilege, never lifetime.
	assert.True(t, escalated.ExpiresAt.Equal(claims.ExpiresAt))
}

func TestRequestAssignments_IdempotentForCurrentOwner(t *testing.T) {
	store := newFakeAssignmentStore()
	store.owners["+15551230001"] = testDevice
	store.version = 7
	svc := newTestArbitration(t, store)

	out, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"+15551230001"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAllowed, out.Results["+15551230001"].Status)
	// No state changed, so no version bump and no escalation.
	assert.Equal(t, int64(7), out.Version)
	assert.Empty(t, out.EscalatedToken)
}

func TestRequestAssignments_DeniedNamesCurrentOwner(t *testing.T) {
	store := newFakeAssignmentStore()
	store.owners["+15551230001"] = otherDevice
	svc := newTestArbitration(t, store)

	out, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"+15551230001"})
	require.NoError(t, err)

	assert.Equal(t, domain.AssignmentResult{Status: domain.StatusDenied, Owner: otherDevice}, out.Results["+15551230001"])
	assert.Equal(t, otherDevice, store.owners["+15551230001"])
}

func TestRequestAssignments_RetriesOnceAfterRacedLoss(t *testing.T) {
	store := newFakeAssignmentStore()
	store.spuriousLosses = 1
	svc := newTestArbitration(t, store)

	out, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"+15551230001"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAllowed, out.Results["+15551230001"].Status)
	assert.Equal(t, 2, store.claimCalls)
}

func TestRequestAssignments_RetryBudgetIsOne(t *testing.T) {
	store := newFakeAssignmentStore()
	store.spuriousLosses = 2
	svc := newTestArbitration(t, store)

	out, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"+15551230001"})
	require.NoError(t, err)

	// Both attempts lost and the final read still shows no owner, so the
	// denial falls back to the unassigned sentinel.
	assert.Equal(t, domain.AssignmentResult{Status: domain.StatusDenied, Owner: domain.LegacyUnassignedSentinel}, out.Results["+15551230001"])
	assert.Equal(t, 2, store.claimCalls)
}

func TestRequestAssignments_RejectsBatchWithForeignNumber(t *testing.T) {
	store := newFakeAssignmentStore()
	svc := newTestArbitration(t, store)

	_, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice,
		[]string{"+15551230001", "+19998887777"})
	require.Error(t, err)

	var notIn *domain.NumberNotInDomainError
	require.ErrorAs(t, err, &notIn)
	assert.Equal(t, []string{"+19998887777"}, notIn.Numbers)
	// All-or-nothing: the in-domain number must not have been claimed.
	assert.Empty(t, store.owners)
	assert.Equal(t, int64(0), store.version)
}

func TestRequestAssignments_RequiresScope(t *testing.T) {
	svc := newTestArbitration(t, newFakeAssignmentStore())
	claims := testClaims(testDevice, domain.ScopeAssignmentsList)

	_, err := svc.RequestAssignments(context.Background(), claims, testDevice, []string{"+15551230001"})
	assert.ErrorIs(t, err, domain.ErrInsufficientScope)
}

func TestRequestAssignments_DeviceMismatch(t *testing.T) {
	svc := newTestArbitration(t, newFakeAssignmentStore())

	_, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), otherDevice, []string{"+15551230001"})
	assert.ErrorIs(t, err, domain.ErrDeviceMismatch)
}

func TestRequestAssignments_ScopeCheckedBeforeNumberParse(t *testing.T) {
	svc := newTestArbitration(t, newFakeAssignmentStore())
	claims := testClaims(testDevice, domain.ScopeAssignmentsList)

	// An under-scoped caller gets the scope error even when the batch is
	// malformed; it learns nothing about number validity.
	_, err := svc.RequestAssignments(context.Background(), claims, testDevice, []string{"555-1234"})
	assert.ErrorIs(t, err, domain.ErrInsufficientScope)
	assert.NotErrorIs(t, err, domain.ErrInvalidNumber)
}

func TestRequestAssignments_RejectsMalformedNumber(t *testing.T) {
	store := newFakeAssignmentStore()
	svc := newTestArbitration(t, store)

	_, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"555-1234"})
	assert.ErrorIs(t, err, domain.ErrInvalidNumber)
	assert.Empty(t, store.owners)
}

func TestRequestAssignments_InfraErrorIsNotADenial(t *testing.T) {
	store := newFakeAssignmentStore()
	store.claimErr = domain.ErrInfrastructureUnavailable
	svc := newTestArbitration(t, store)

	out, err := svc.RequestAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"+15551230001"})
	require.ErrorIs(t, err, domain.ErrInfrastructureUnavailable)
	assert.Nil(t, out)
}

func TestRequestAssignments_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := newFakeAssignmentStore()
	clients := &fakeClientRepo{clients: map[string]*domain.Client{testDomainUUID: testClient()}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewArbitrationService(clients, store, newTestIssuer(t), nil, logger)

	const contenders = 16
	results := make([]domain.AssignmentResult, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			device := uuid.NewString()
			out, err := svc.RequestAssignments(context.Background(), testClaims(device), device, []string{"+15551230001"})
			if !assert.NoError(t, err) {
				return
			}
			results[i] = out.Results["+15551230001"]
		}(i)
	}
	wg.Wait()

	winner := store.owners["+15551230001"]
	require.NotEmpty(t, winner)
	allowed := 0
	for _, r := range results {
		switch r.Status {
		case domain.StatusAllowed:
			allowed++
			assert.Equal(t, winner, r.Owner)
		case domain.StatusDenied:
			assert.Equal(t, winner, r.Owner)
		default:
			t.Fatalf("unexpected status %q", r.Status)
		}
	}
	assert.Equal(t, 1, allowed)
}

func TestUnregisterAssignments_ReleasesOwnedNumbers(t *testing.T) {
	store := newFakeAssignmentStore()
	store.owners["+15551230001"] = testDevice
	store.owners["+15551230002"] = otherDevice
	store.version = 2
	svc := newTestArbitration(t, store)
	claims := testClaims(testDevice, domain.ScopeAssignmentsUnregister)

	out, err := svc.UnregisterAssignments(context.Background(), claims, testDevice,
		[]string{"+15551230001", "+15551230002"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusUnregistered, out.Results["+15551230001"].Status)
	assert.Equal(t, domain.StatusNotOwner, out.Results["+15551230002"].Status)
	assert.Equal(t, int64(3), out.Version)
	// The other device's assignment survives.
	assert.Equal(t, otherDevice, store.owners["+15551230002"])
	_, held := store.owners["+15551230001"]
	assert.False(t, held)
}

func TestUnregisterAssignments_NilReleasesEverything(t *testing.T) {
	store := newFakeAssignmentStore()
	store.owners["+15551230001"] = testDevice
	store.owners["+15551230002"] = testDevice
	store.owners["+15551230003"] = otherDevice
	svc := newTestArbitration(t, store)
	claims := testClaims(testDevice, domain.ScopeAssignmentsUnregister)

	out, err := svc.UnregisterAssignments(context.Background(), claims, testDevice, nil)
	require.NoError(t, err)

	assert.Len(t, out.Results, 2)
	assert.Equal(t, domain.StatusUnregistered, out.Results["+15551230001"].Status)
	assert.Equal(t, domain.StatusUnregistered, out.Results["+15551230002"].Status)
	assert.Equal(t, map[string]string{"+15551230003": otherDevice}, store.owners)
}

func TestUnregisterAssignments_RequiresScope(t *testing.T) {
	svc := newTestArbitration(t, newFakeAssignmentStore())

	_, err := svc.UnregisterAssignments(context.Background(), testClaims(testDevice), testDevice, []string{"+15551230001"})
	assert.ErrorIs(t, err, domain.ErrInsufficientScope)
}

func TestClaimReleaseClaimRoundTrip(t *testing.T) {
	store := newFakeAssignmentStore()
	svc := newTestArbitration(t, store)
	claimsA := testClaims(testDevice, domain.ScopeAssignmentsRequest, domain.ScopeAssignmentsUnregister)
	claimsB := testClaims(otherDevice, domain.ScopeAssignmentsRequest)
	number := []string{"+15551230001"}

	out, err := svc.RequestAssignments(context.Background(), claimsA, testDevice, number)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAllowed, out.Results["+15551230001"].Status)
	v1 := out.Version

	unreg, err := svc.UnregisterAssignments(context.Background(), claimsA, testDevice, number)
	require.NoError(t, err)
	require.Equal(t, domain.StatusUnregistered, unreg.Results["+15551230001"].Status)
	require.Greater(t, unreg.Version, v1)

	out2, err := svc.RequestAssignments(context.Background(), claimsB, otherDevice, number)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentResult{Status: domain.StatusAllowed, Owner: otherDevice}, out2.Results["+15551230001"])
	assert.Greater(t, out2.Version, unreg.Version)
}

func TestListAssignments_SnapshotsDomainState(t *testing.T) {
	store := newFakeAssignmentStore()
	store.owners["+15551230001"] = testDevice
	store.owners["+15551230002"] = domain.LegacyUnassignedSentinel
	store.version = 5
	svc := newTestArbitration(t, store)

	snapshot, version, err := svc.ListAssignments(context.Background(), testClaims(testDevice))
	require.NoError(t, err)

	assert.Equal(t, int64(5), version)
	assert.Equal(t, domain.OwnedBy(testDevice), snapshot["+15551230001"])
	// Legacy sentinel reads back as unassigned.
	assert.False(t, snapshot["+15551230002"].Assigned())
}

func TestListAssignments_UnknownDomain(t *testing.T) {
	svc := newTestArbitration(t, newFakeAssignmentStore())
	claims := testClaims(testDevice)
	claims.DomainUUID = uuid.NewString()
	claims.DeviceID = testDevice

	_, _, err := svc.ListAssignments(context.Background(), claims)
	assert.ErrorIs(t, err, domain.ErrDomainNotFound)
}

func TestListAssignments_RequiresScope(t *testing.T) {
	svc := newTestArbitration(t, newFakeAssignmentStore())
	claims := testClaims(testDevice, domain.ScopeBearerRequest)

	_, _, err := svc.ListAssignments(context.Background(), claims)
	assert.ErrorIs(t, err, domain.ErrInsufficientScope)
}

func TestVersionMonotonicAcrossOperations(t *testing.T) {
	store := newFakeAssignmentStore()
	svc := newTestArbitration(t, store)
	claims := testClaims(testDevice, domain.ScopeAssignmentsRequest, domain.ScopeAssignmentsUnregister)

	var last int64
	for _, n := range []string{"+15551230001", "+15551230002", "+15551230003"} {
		out, err := svc.RequestAssignments(context.Background(), claims, testDevice, []string{n})
		require.NoError(t, err)
		require.Greater(t, out.Version, last)
		last = out.Version
	}

	out, err := svc.UnregisterAssignments(context.Background(), claims, testDevice, nil)
	require.NoError(t, err)
	assert.Greater(t, out.Version, last)
}
