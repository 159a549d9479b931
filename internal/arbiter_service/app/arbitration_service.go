package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
)

// Audit subjects for assignment operations.
const (
	SubjectAssignmentsEvaluated    = "arbiter.assignments.evaluated"
	SubjectAssignmentsUnregistered = "arbiter.assignments.unregistered"
)

// AssignmentOutcome is the result of a batch claim request.
type AssignmentOutcome struct {
	Results map[string]domain.AssignmentResult
	Version int64
	// EscalatedToken is set when at least one number became newly owned and
	// the presented token lacked the unregister scope.
	EscalatedToken string
}

// UnregisterOutcome is the result of an unregister request.
type UnregisterOutcome struct {
	Results map[string]domain.AssignmentResult
	Version int64
}

// ArbitrationService orchestrates claim/unclaim/list flows. It owns no
// mutable state: all conflict resolution happens in the store's atomic
// compare-and-set, so any number of service instances can run concurrently.
type ArbitrationService struct {
	clients repository.ClientRepository
	store   repository.AssignmentStore
	issuer  *TokenIssuer
	audit   *AuditTrail
	logger  *slog.Logger
}

func NewArbitrationService(
	clients repository.ClientRepository,
	store repository.AssignmentStore,
	issuer *TokenIssuer,
	audit *AuditTrail,
	logger *slog.Logger,
) *ArbitrationService {
	return &ArbitrationService{
		clients: clients,
		store:   store,
		issuer:  issuer,
		audit:   audit,
		logger:  logger.With("service", "arbitration"),
	}
}

func (s *ArbitrationService) resolveClient(ctx context.Context, claims *TokenClaims, deviceID string) (*domain.Client, error) {
	if claims.DeviceID != deviceID {
		return nil, domain.ErrDeviceMismatch
	}
	client, err := s.clients.GetByDomainUUID(ctx, claims.DomainUUID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, domain.ErrDomainNotFound
		}
		return nil, err
	}
	return client, nil
}

// membershipCheck rejects the whole batch when any number falls outside the
// domain's set; no assignment state changes for any number in that case.
func membershipCheck(client *domain.Client, numbers []string) error {
	var outside []string
	for _, n := range numbers {
		if !client.HasNumber(n) {
			outside = append(outside, n)
		}
	}
	if len(outside) > 0 {
		return &domain.NumberNotInDomainError{Numbers: outside}
	}
	return nil
}

// claimWithRetry attempts one claim, and on loss re-reads the current owner.
// If the owner field carries an unassigned encoding the claim is retried
// exactly once. That fixed budget closes the window where the previous
// owner released the number between our claim and our read, while keeping
// worst-case latency bounded. Infrastructure errors (including timeouts)
// propagate untouched: a timed-out claim is an unknown outcome and the
// caller must re-read ownership before retrying, never blindly re-issue.
func (s *ArbitrationService) claimWithRetry(ctx context.Context, domainUUID, number, deviceID string) (result domain.AssignmentResult, newlyOwned bool, err error) {
	ok, err := s.store.Claim(ctx, domainUUID, number, deviceID)
	if err != nil {
		return domain.AssignmentResult{}, false, err
	}
	if ok {
		return domain.AssignmentResult{Status: domain.StatusAllowed, Owner: deviceID}, true, nil
	}

	own, err := s.store.Owner(ctx, domainUUID, number)
	if err != nil {
		return domain.AssignmentResult{}, false, err
	}

	if !own.Assigned() {
		ok, err = s.store.Claim(ctx, domainUUID, number, deviceID)
		if err != nil {
			return domain.AssignmentResult{}, false, err
		}
		if ok {
			return domain.AssignmentResult{Status: domain.StatusAllowed, Owner: deviceID}, true, nil
		}
		// Retry budget spent; read once more so the denial names whoever won.
		own, err = s.store.Owner(ctx, domainUUID, number)
		if err != nil {
			return domain.AssignmentResult{}, false, err
		}
	}

	if own.Owner() == deviceID {
		// Repeat claim by the current owner is idempotent success.
		return domain.AssignmentResult{Status: domain.StatusAllowed, Owner: deviceID}, false, nil
	}

	owner := own.Owner()
	if owner == "" {
		owner = domain.LegacyUnassignedSentinel
	}
	return domain.AssignmentResult{Status: domain.StatusDenied, Owner: owner}, false, nil
}

// RequestAssignments arbitrates a batch of claim requests. Scope, device,
// and domain checks run before the numbers are even parsed, so an
// under-scoped caller learns nothing about number validity. One number's
// outcome never aborts another's; a lost race is a normal denied result,
// never an error.
func (s *ArbitrationService) RequestAssignments(ctx context.Context, claims *TokenClaims, deviceID string, rawNumbers []string) (*AssignmentOutcome, error) {
	if err := s.issuer.RequireScopes(claims, domain.ScopeAssignmentsRequest); err != nil {
		return nil, err
	}
	client, err := s.resolveClient(ctx, claims, deviceID)
	if err != nil {
		return nil, err
	}
	numbers, err := domain.ParseNumbers(rawNumbers)
	if err != nil {
		return nil, err
	}
	if err := membershipCheck(client, numbers); err != nil {
		return nil, err
	}

	results := make(map[string]domain.AssignmentResult, len(numbers))
	anyNewlyOwned := false
	for _, number := range numbers {
		result, newlyOwned, err := s.claimWithRetry(ctx, client.DomainUUID, number, deviceID)
		if err != nil {
			// Storage failure is a retryable fault, not a denial; surfacing
			// it as denied would misrepresent true ownership state.
			return nil, err
		}
		results[number] = result
		anyNewlyOwned = anyNewlyOwned || newlyOwned
		claimsProcessedCounter.WithLabelValues(string(result.Status)).Inc()
	}

	outcome := &AssignmentOutcome{Results: results}

	if anyNewlyOwned && !claims.HasScope(domain.ScopeAssignmentsUnregister) {
		escalated, err := s.issuer.Escalate(claims, domain.ScopeAssignmentsUnregister)
		if err != nil {
			// The claims already landed; a failed escalation only costs the
			// device a round trip later, so log and return the results.
			s.logger.ErrorContext(ctx, "scope escalation failed", "error", err, "domain_uuid", client.DomainUUID, "device_id", deviceID)
		} else {
			outcome.EscalatedToken = escalated
			escalationsCounter.Inc()
		}
	}

	outcome.Version, err = s.store.Version(ctx, client.DomainUUID)
	if err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, SubjectAssignmentsEvaluated, AuditEvent{
		EventType:  "assignments_processed",
		DomainUUID: client.DomainUUID,
		DeviceID:   deviceID,
		Note:       "Assignments evaluated",
		Payload:    resultPayload(results),
	})
	return outcome, nil
}

// UnregisterAssignments releases this device's hold on the given numbers.
// A nil rawNumbers slice means "release everything this device owns here".
// As with claims, numbers parse only after the scope and device checks.
func (s *ArbitrationService) UnregisterAssignments(ctx context.Context, claims *TokenClaims, deviceID string, rawNumbers []string) (*UnregisterOutcome, error) {
	if err := s.issuer.RequireScopes(claims, domain.ScopeAssignmentsUnregister); err != nil {
		return nil, err
	}
	client, err := s.resolveClient(ctx, claims, deviceID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]domain.AssignmentResult)
	if rawNumbers == nil {
		released, err := s.store.UnclaimAll(ctx, client.DomainUUID, deviceID)
		if err != nil {
			return nil, err
		}
		for _, n := range released {
			results[n] = domain.AssignmentResult{Status: domain.StatusUnregistered}
			unregistersCounter.WithLabelValues(string(domain.StatusUnregistered)).Inc()
		}
	} else {
		numbers, err := domain.ParseNumbers(rawNumbers)
		if err != nil {
			return nil, err
		}
		if err := membershipCheck(client, numbers); err != nil {
			return nil, err
		}
		for _, n := range numbers {
			ok, err := s.store.Unclaim(ctx, client.DomainUUID, n, deviceID)
			if err != nil {
				return nil, err
			}
			status := domain.StatusNotOwner
			if ok {
				status = domain.StatusUnregistered
			}
			results[n] = domain.AssignmentResult{Status: status}
			unregistersCounter.WithLabelValues(string(status)).Inc()
		}
	}

	version, err := s.store.Version(ctx, client.DomainUUID)
	if err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, SubjectAssignmentsUnregistered, AuditEvent{
		EventType:  "assignments_unregistered",
		DomainUUID: client.DomainUUID,
		DeviceID:   deviceID,
		Note:       "Assignments unregistered",
		Payload:    resultPayload(results),
	})
	return &UnregisterOutcome{Results: results, Version: version}, nil
}

// ListAssignments snapshots the domain's assignment map and version.
// Read-only: requires only the list scope.
func (s *ArbitrationService) ListAssignments(ctx context.Context, claims *TokenClaims) (map[string]domain.Ownership, int64, error) {
	if err := s.issuer.RequireScopes(claims, domain.ScopeAssignmentsList); err != nil {
		return nil, 0, err
	}
	if _, err := s.clients.GetByDomainUUID(ctx, claims.DomainUUID); err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, 0, domain.ErrDomainNotFound
		}
		return nil, 0, err
	}
	return s.store.List(ctx, claims.DomainUUID)
}

func resultPayload(results map[string]domain.AssignmentResult) map[string]any {
	payload := make(map[string]any, len(results))
	for n, r := range results {
		payload[n] = string(r.Status)
	}
	return map[string]any{"results": payload}
}
