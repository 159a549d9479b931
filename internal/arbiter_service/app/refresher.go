package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
)

// CredentialRefresher proactively rotates upstream credentials approaching
// the refresh buffer, so foreground Get calls almost always hit the fast
// path. Its failures are logged only; it never blocks a foreground fetch.
// At worst a concurrent Get joins the same single-flight group.
type CredentialRefresher struct {
	clients  repository.ClientRepository
	cache    *CredentialCache
	interval time.Duration
	logger   *slog.Logger
}

func NewCredentialRefresher(clients repository.ClientRepository, cache *CredentialCache, interval time.Duration, logger *slog.Logger) *CredentialRefresher {
	return &CredentialRefresher{
		clients:  clients,
		cache:    cache,
		interval: interval,
		logger:   logger.With("component", "credential_refresher"),
	}
}

// Run loops until the context is canceled. Intended to be started as a
// goroutine at process start.
func (r *CredentialRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("credential refresher started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("credential refresher stopped")
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll sweeps every active client once. Cache.Get treats credentials
// inside the refresh buffer as misses, so a sweep touches the upstream only
// for credentials that actually need rotation.
func (r *CredentialRefresher) RefreshAll(ctx context.Context) {
	clients, err := r.clients.ListActive(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "refresh sweep could not list clients", "error", err)
		return
	}

	for i := range clients {
		client := &clients[i]
		if _, err := r.cache.Get(ctx, client); err != nil {
			r.logger.WarnContext(ctx, "credential refresh failed", "error", err, "fax_user", client.FaxUser)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
