package repository

import (
	"context"
	"errors"
	"time"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/platform/crypto"
)

var (
	ErrClientNotFound     = errors.New("client not found")
	ErrCredentialNotFound = errors.New("cached credential not found")
	ErrResellerNotFound   = errors.New("reseller not found")
)

// ClientRepository looks up tenant records.
type ClientRepository interface {
	GetByDomainUUID(ctx context.Context, domainUUID string) (*domain.Client, error)
	// GetByAuth resolves a client from its normalized fax_user and the sha3
	// hash of its authentication token; only active clients match.
	GetByAuth(ctx context.Context, faxUser, authTokenHash string) (*domain.Client, error)
	// ListActive returns every active client, used by the background
	// credential refresher.
	ListActive(ctx context.Context) ([]domain.Client, error)
}

// AssignmentStore is the persistent map of fax number -> owning device per
// domain. Claim and Unclaim are single atomic compare-and-set statements at
// the storage layer; correctness across horizontally scaled instances rests
// on them, not on in-process locks.
type AssignmentStore interface {
	// Claim assigns number to deviceID iff it is currently unassigned
	// (absent, NULL, empty, or legacy sentinel), bumping the domain version
	// in the same statement. Returns false with no side effect when the
	// number is already owned.
	Claim(ctx context.Context, domainUUID, number, deviceID string) (bool, error)
	// Unclaim releases number iff deviceID is the current owner, bumping
	// the domain version in the same statement.
	Unclaim(ctx context.Context, domainUUID, number, deviceID string) (bool, error)
	// UnclaimAll releases every number owned by deviceID in the domain and
	// returns the released numbers.
	UnclaimAll(ctx context.Context, domainUUID, deviceID string) ([]string, error)
	// Owner is a fresh read of a single number's ownership.
	Owner(ctx context.Context, domainUUID, number string) (domain.Ownership, error)
	// List snapshots the domain's assignment map and version.
	List(ctx context.Context, domainUUID string) (map[string]domain.Ownership, int64, error)
	// Version returns the domain's monotonic assignment version.
	Version(ctx context.Context, domainUUID string) (int64, error)
}

// CredentialStore persists encrypted upstream credentials per fax_user.
type CredentialStore interface {
	// Get returns the stored blob and its plaintext expiry index.
	Get(ctx context.Context, faxUser string) (*crypto.SealedBlob, time.Time, error)
	Save(ctx context.Context, faxUser string, blob *crypto.SealedBlob, expiresAt time.Time) error
}

// ResellerStore persists encrypted vendor secrets per reseller.
type ResellerStore interface {
	GetBlob(ctx context.Context, resellerID string) (*crypto.SealedBlob, error)
	SaveBlob(ctx context.Context, resellerID string, blob *crypto.SealedBlob) error
}

// DeviceRegistry records which devices have initialized against a domain.
type DeviceRegistry interface {
	Register(ctx context.Context, domainUUID, deviceID string) error
}
