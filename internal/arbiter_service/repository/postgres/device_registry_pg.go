package postgres

import (
	"context"
	"log/slog"
	"time"
)

// PgDeviceRegistry tracks which devices have initialized against a domain.
type PgDeviceRegistry struct {
	db     Querier
	logger *slog.Logger
}

func NewPgDeviceRegistry(db Querier, logger *slog.Logger) *PgDeviceRegistry {
	return &PgDeviceRegistry{db: db, logger: logger.With("repo", "devices")}
}

func (r *PgDeviceRegistry) Register(ctx context.Context, domainUUID, deviceID string) error {
	query := `
		INSERT INTO devices (domain_uuid, device_id, first_seen, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (domain_uuid, device_id) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`
	_, err := r.db.Exec(ctx, query, domainUUID, deviceID, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "device registration failed", "error", err, "domain_uuid", domainUUID, "device_id", deviceID)
		return infraErr("device registration", err)
	}
	return nil
}
