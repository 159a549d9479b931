package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

// PgAssignmentStore implements repository.AssignmentStore on PostgreSQL.
// Every mutation is a single SQL statement so the compare-and-set and the
// domain version bump commit together; there is never a read-then-write
// window at the storage layer.
type PgAssignmentStore struct {
	db     Querier
	logger *slog.Logger
}

func NewPgAssignmentStore(db Querier, logger *slog.Logger) *PgAssignmentStore {
	return &PgAssignmentStore{db: db, logger: logger.With("repo", "assignments")}
}

func infraErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrInfrastructureUnavailable, op, err)
}

// claimSQL inserts the assignment row when absent, or takes over an existing
// row only when its owner field carries one of the legacy unassigned
// encodings. The CTE bumps the domain version in the same statement; a
// returned row means the claim landed.
const claimSQL = `
WITH claimed AS (
	INSERT INTO assignments (domain_uuid, number, device_id)
	SELECT d.domain_uuid, $2, $3 FROM domains d WHERE d.domain_uuid = $1 AND d.active
	ON CONFLICT (domain_uuid, number) DO UPDATE
		SET device_id = EXCLUDED.device_id
		WHERE assignments.device_id IS NULL
		   OR assignments.device_id IN ('', '<unknown>')
	RETURNING number
)
UPDATE domains SET version = version + 1
WHERE domain_uuid = $1 AND EXISTS (SELECT 1 FROM claimed)
RETURNING version
`

func (s *PgAssignmentStore) Claim(ctx context.Context, domainUUID, number, deviceID string) (bool, error) {
	var version int64
	err := s.db.QueryRow(ctx, claimSQL, domainUUID, number, deviceID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		s.logger.ErrorContext(ctx, "claim failed", "error", err, "domain_uuid", domainUUID, "number", number)
		return false, infraErr("claim", err)
	}
	s.logger.DebugContext(ctx, "number claimed", "domain_uuid", domainUUID, "number", number, "device_id", deviceID, "version", version)
	return true, nil
}

// unclaimSQL clears the owner to the canonical NULL form; legacy sentinel
// values are only ever read, never written back.
const unclaimSQL = `
WITH released AS (
	UPDATE assignments SET device_id = NULL
	WHERE domain_uuid = $1 AND number = $2 AND device_id = $3
	RETURNING number
)
UPDATE domains SET version = version + 1
WHERE domain_uuid = $1 AND EXISTS (SELECT 1 FROM released)
RETURNING version
`

func (s *PgAssignmentStore) Unclaim(ctx context.Context, domainUUID, number, deviceID string) (bool, error) {
	var version int64
	err := s.db.QueryRow(ctx, unclaimSQL, domainUUID, number, deviceID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		s.logger.ErrorContext(ctx, "unclaim failed", "error", err, "domain_uuid", domainUUID, "number", number)
		return false, infraErr("unclaim", err)
	}
	return true, nil
}

const unclaimAllSQL = `
WITH released AS (
	UPDATE assignments SET device_id = NULL
	WHERE domain_uuid = $1 AND device_id = $2
	RETURNING number
),
bump AS (
	UPDATE domains SET version = version + (SELECT count(*) FROM released)
	WHERE domain_uuid = $1 AND EXISTS (SELECT 1 FROM released)
)
SELECT number FROM released
`

func (s *PgAssignmentStore) UnclaimAll(ctx context.Context, domainUUID, deviceID string) ([]string, error) {
	rows, err := s.db.Query(ctx, unclaimAllSQL, domainUUID, deviceID)
	if err != nil {
		s.logger.ErrorContext(ctx, "unclaim all failed", "error", err, "domain_uuid", domainUUID, "device_id", deviceID)
		return nil, infraErr("unclaim all", err)
	}
	defer rows.Close()

	var released []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, infraErr("unclaim all scan", err)
		}
		released = append(released, number)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("unclaim all rows", err)
	}
	return released, nil
}

const ownerSQL = `
SELECT COALESCE(device_id, '') FROM assignments
WHERE domain_uuid = $1 AND number = $2
`

func (s *PgAssignmentStore) Owner(ctx context.Context, domainUUID, number string) (domain.Ownership, error) {
	var stored string
	err := s.db.QueryRow(ctx, ownerSQL, domainUUID, number).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Absent row is one of the equivalent unassigned encodings.
			return domain.Ownership{}, nil
		}
		s.logger.ErrorContext(ctx, "owner read failed", "error", err, "domain_uuid", domainUUID, "number", number)
		return domain.Ownership{}, infraErr("owner read", err)
	}
	return domain.OwnershipFromStored(stored), nil
}

// listSQL snapshots the full number set with owners and the domain version
// in one statement, so the map and version are mutually consistent.
const listSQL = `
SELECT n.number, COALESCE(a.device_id, ''), d.version
FROM domains d
CROSS JOIN LATERAL unnest(d.numbers) AS n(number)
LEFT JOIN assignments a ON a.domain_uuid = d.domain_uuid AND a.number = n.number
WHERE d.domain_uuid = $1
`

func (s *PgAssignmentStore) List(ctx context.Context, domainUUID string) (map[string]domain.Ownership, int64, error) {
	rows, err := s.db.Query(ctx, listSQL, domainUUID)
	if err != nil {
		s.logger.ErrorContext(ctx, "list failed", "error", err, "domain_uuid", domainUUID)
		return nil, 0, infraErr("list", err)
	}
	defer rows.Close()

	results := make(map[string]domain.Ownership)
	var version int64
	sawRow := false
	for rows.Next() {
		var number, stored string
		if err := rows.Scan(&number, &stored, &version); err != nil {
			return nil, 0, infraErr("list scan", err)
		}
		sawRow = true
		results[number] = domain.OwnershipFromStored(stored)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, infraErr("list rows", err)
	}
	if !sawRow {
		// Domain with an empty number set still has a version.
		version, err = s.Version(ctx, domainUUID)
		if err != nil {
			return nil, 0, err
		}
	}
	return results, version, nil
}

const versionSQL = `SELECT version FROM domains WHERE domain_uuid = $1`

func (s *PgAssignmentStore) Version(ctx context.Context, domainUUID string) (int64, error) {
	var version int64
	err := s.db.QueryRow(ctx, versionSQL, domainUUID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		s.logger.ErrorContext(ctx, "version read failed", "error", err, "domain_uuid", domainUUID)
		return 0, infraErr("version read", err)
	}
	return version, nil
}
