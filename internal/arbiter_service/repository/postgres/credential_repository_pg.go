package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
	"github.com/clinicnetworking/fraapi/internal/platform/crypto"
)

// PgCredentialStore persists one encrypted upstream credential per fax_user.
// The expiry is duplicated outside the blob so the refresher can index on it
// without decrypting anything.
type PgCredentialStore struct {
	db     Querier
	logger *slog.Logger
}

func NewPgCredentialStore(db Querier, logger *slog.Logger) *PgCredentialStore {
	return &PgCredentialStore{db: db, logger: logger.With("repo", "bearer_tokens")}
}

func (r *PgCredentialStore) Get(ctx context.Context, faxUser string) (*crypto.SealedBlob, time.Time, error) {
	query := `SELECT encrypted_token, expires_at FROM bearer_tokens WHERE fax_user = $1`
	var blob crypto.SealedBlob
	var expiresAt time.Time
	err := r.db.QueryRow(ctx, query, faxUser).Scan(&blob, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, repository.ErrCredentialNotFound
		}
		r.logger.ErrorContext(ctx, "credential read failed", "error", err, "fax_user", faxUser)
		return nil, time.Time{}, infraErr("credential read", err)
	}
	return &blob, expiresAt, nil
}

func (r *PgCredentialStore) Save(ctx context.Context, faxUser string, blob *crypto.SealedBlob, expiresAt time.Time) error {
	query := `
		INSERT INTO bearer_tokens (fax_user, encrypted_token, retrieved_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fax_user) DO UPDATE
			SET encrypted_token = EXCLUDED.encrypted_token,
			    retrieved_at = EXCLUDED.retrieved_at,
			    expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.Exec(ctx, query, faxUser, blob, time.Now().UTC(), expiresAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "credential save failed", "error", err, "fax_user", faxUser)
		return infraErr("credential save", err)
	}
	r.logger.InfoContext(ctx, "bearer credential stored", "fax_user", faxUser, "expires_at", expiresAt)
	return nil
}
