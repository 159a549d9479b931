package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
)

type PgClientRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgClientRepository(db Querier, logger *slog.Logger) *PgClientRepository {
	return &PgClientRepository{db: db, logger: logger.With("repo", "clients")}
}

const clientColumns = `domain_uuid, fax_user, auth_token_hash, active, numbers, version`

func (r *PgClientRepository) scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.DomainUUID, &c.FaxUser, &c.AuthTokenHash, &c.Active, &c.Numbers, &c.Version)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PgClientRepository) GetByDomainUUID(ctx context.Context, domainUUID string) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM domains WHERE domain_uuid = $1 AND active`
	c, err := r.scanClient(r.db.QueryRow(ctx, query, domainUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrClientNotFound
		}
		r.logger.ErrorContext(ctx, "client lookup failed", "error", err, "domain_uuid", domainUUID)
		return nil, infraErr("client lookup", err)
	}
	return c, nil
}

func (r *PgClientRepository) GetByAuth(ctx context.Context, faxUser, authTokenHash string) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM domains WHERE fax_user = $1 AND auth_token_hash = $2 AND active`
	c, err := r.scanClient(r.db.QueryRow(ctx, query, faxUser, authTokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrClientNotFound
		}
		r.logger.ErrorContext(ctx, "client auth lookup failed", "error", err, "fax_user", faxUser)
		return nil, infraErr("client auth lookup", err)
	}
	return c, nil
}

func (r *PgClientRepository) ListActive(ctx context.Context) ([]domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM domains WHERE active ORDER BY fax_user`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "active client listing failed", "error", err)
		return nil, infraErr("client listing", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.DomainUUID, &c.FaxUser, &c.AuthTokenHash, &c.Active, &c.Numbers, &c.Version); err != nil {
			return nil, infraErr("client scan", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("client rows", err)
	}
	return clients, nil
}
