package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
)

const SubjectSessionInitialized = "arbiter.session.initialized"

// HashAuthToken derives the stored digest of a client authentication token.
// Tokens are case-insensitive on the wire, so the input is uppercased before
// hashing; only this digest is ever persisted or compared.
func HashAuthToken(token string) string {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	sum := sha3.Sum256([]byte(normalized))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// InitOutcome is the result of a successful session initialization.
type InitOutcome struct {
	Token      string
	DomainUUID string
	ExpiresIn  int64
	Numbers    []string
}

// InitService exchanges a client's long-lived authentication token for a
// short-lived capability token bound to one device.
type InitService struct {
	clients repository.ClientRepository
	devices repository.DeviceRegistry
	issuer  *TokenIssuer
	ttl     time.Duration
	audit   *AuditTrail
	logger  *slog.Logger
}

func NewInitService(clients repository.ClientRepository, devices repository.DeviceRegistry, issuer *TokenIssuer, ttl time.Duration, audit *AuditTrail, logger *slog.Logger) *InitService {
	return &InitService{
		clients: clients,
		devices: devices,
		issuer:  issuer,
		ttl:     ttl,
		audit:   audit,
		logger:  logger.With("component", "init_service"),
	}
}

// InitSession authenticates the (fax_user, auth_token) pair and mints the
// session's first capability token with the initial scope set. Lookup
// failures and credential mismatches both collapse to ErrInvalidCredentials
// so the response does not reveal which part was wrong.
func (s *InitService) InitSession(ctx context.Context, authToken, faxUser, deviceID string) (*InitOutcome, error) {
	normalized := domain.NormalizeFaxUser(faxUser)
	if normalized == "" || strings.TrimSpace(authToken) == "" || strings.TrimSpace(deviceID) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	client, err := s.clients.GetByAuth(ctx, normalized, HashAuthToken(authToken))
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			s.logger.WarnContext(ctx, "session init rejected", "fax_user", normalized)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: client lookup: %v", domain.ErrInfrastructureUnavailable, err)
	}

	if err := s.devices.Register(ctx, client.DomainUUID, deviceID); err != nil {
		return nil, fmt.Errorf("%w: device registration: %v", domain.ErrInfrastructureUnavailable, err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	token, err := s.issuer.Mint(client.DomainUUID, deviceID, domain.InitialScopes(), expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mint session token: %w", err)
	}

	s.audit.Emit(ctx, SubjectSessionInitialized, AuditEvent{
		EventType:  "session.initialized",
		DomainUUID: client.DomainUUID,
		DeviceID:   deviceID,
	})

	s.logger.InfoContext(ctx, "session initialized",
		"domain_uuid", client.DomainUUID, "device_id", deviceID, "fax_user", normalized)

	return &InitOutcome{
		Token:      token,
		DomainUUID: client.DomainUUID,
		ExpiresIn:  int64(s.ttl.Seconds()),
		Numbers:    client.Numbers,
	}, nil
}
