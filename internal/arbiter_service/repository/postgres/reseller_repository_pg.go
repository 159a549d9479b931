package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
	"github.com/clinicnetworking/fraapi/internal/platform/crypto"
)

// PgResellerStore holds encrypted vendor secrets per reseller. Blobs are
// opaque here; sealing and opening happen in the application layer.
type PgResellerStore struct {
	db     Querier
	logger *slog.Logger
}

func NewPgResellerStore(db Querier, logger *slog.Logger) *PgResellerStore {
	return &PgResellerStore{db: db, logger: logger.With("repo", "resellers")}
}

func (r *PgResellerStore) GetBlob(ctx context.Context, resellerID string) (*crypto.SealedBlob, error) {
	query := `SELECT encrypted_blob FROM resellers WHERE reseller_id = $1`
	var blob crypto.SealedBlob
	err := r.db.QueryRow(ctx, query, resellerID).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrResellerNotFound
		}
		r.logger.ErrorContext(ctx, "reseller blob read failed", "error", err, "reseller_id", resellerID)
		return nil, infraErr("reseller blob read", err)
	}
	return &blob, nil
}

func (r *PgResellerStore) SaveBlob(ctx context.Context, resellerID string, blob *crypto.SealedBlob) error {
	query := `
		INSERT INTO resellers (reseller_id, encrypted_blob)
		VALUES ($1, $2)
		ON CONFLICT (reseller_id) DO UPDATE SET encrypted_blob = EXCLUDED.encrypted_blob
	`
	_, err := r.db.Exec(ctx, query, resellerID, blob)
	if err != nil {
		r.logger.ErrorContext(ctx, "reseller blob save failed", "error", err, "reseller_id", resellerID)
		return infraErr("reseller blob save", err)
	}
	r.logger.InfoContext(ctx, "reseller blob stored", "reseller_id", resellerID)
	return nil
}
