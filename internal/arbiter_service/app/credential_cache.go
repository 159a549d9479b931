package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/adapters/upstream"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
	"github.com/clinicnetworking/fraapi/internal/platform/crypto"
)

// CredentialCache is the shared, encrypted, per-domain cache of the upstream
// vendor bearer credential. It is the only shared hot state in the process;
// every access goes through the get-or-refresh/single-flight contract here.
type CredentialCache struct {
	credentials repository.CredentialStore
	resellers   repository.ResellerStore
	client      upstream.CredentialClient
	// refreshOffset is the safety buffer: a cached credential expiring
	// within this window of its true upstream expiry counts as a miss.
	refreshOffset time.Duration
	group         singleflight.Group
	logger        *slog.Logger
}

func NewCredentialCache(
	credentials repository.CredentialStore,
	resellers repository.ResellerStore,
	client upstream.CredentialClient,
	refreshOffset time.Duration,
	logger *slog.Logger,
) *CredentialCache {
	return &CredentialCache{
		credentials:   credentials,
		resellers:     resellers,
		client:        client,
		refreshOffset: refreshOffset,
		logger:        logger.With("service", "credential_cache"),
	}
}

// Get returns a valid upstream credential for the client's account. A cache
// hit costs zero upstream calls. On miss, concurrent callers for the same
// account coalesce onto one in-flight fetch; the result is persisted
// encrypted with its true upstream expiry before being returned.
func (c *CredentialCache) Get(ctx context.Context, client *domain.Client) (*domain.CachedCredential, error) {
	if cred := c.cached(ctx, client.FaxUser); cred != nil {
		bearerCacheCounter.WithLabelValues("hit").Inc()
		return cred, nil
	}
	bearerCacheCounter.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(client.FaxUser, func() (any, error) {
		// Another caller may have finished the fetch between our cache read
		// and joining the flight.
		if cred := c.cached(ctx, client.FaxUser); cred != nil {
			return cred, nil
		}
		return c.fetchAndStore(ctx, client)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CachedCredential), nil
}

// cached returns the stored credential when it is still valid beyond the
// refresh buffer, nil otherwise. Reads are lock-free; an undecryptable blob
// is treated as a miss so a corrupted record self-heals on the next fetch.
func (c *CredentialCache) cached(ctx context.Context, faxUser string) *domain.CachedCredential {
	blob, expiresAt, err := c.credentials.Get(ctx, faxUser)
	if err != nil {
		if !errors.Is(err, repository.ErrCredentialNotFound) {
			c.logger.WarnContext(ctx, "credential cache read failed", "error", err, "fax_user", faxUser)
		}
		return nil
	}
	if time.Now().UTC().Add(c.refreshOffset).After(expiresAt) {
		return nil
	}

	var cred domain.CachedCredential
	if err := crypto.Open(faxUser, blob, &cred); err != nil {
		c.logger.WarnContext(ctx, "cached credential undecryptable, treating as miss", "fax_user", faxUser)
		return nil
	}
	if cred.BearerToken == "" {
		return nil
	}
	return &cred
}

// fetchAndStore decrypts the reseller's vendor secrets on demand, exchanges
// them for a fresh bearer token, and persists it sealed under the account's
// passphrase. Secret values never reach a log entry.
func (c *CredentialCache) fetchAndStore(ctx context.Context, client *domain.Client) (*domain.CachedCredential, error) {
	resellerID, err := domain.ParseResellerID(client.FaxUser)
	if err != nil {
		upstreamFetchCounter.WithLabelValues("auth_error").Inc()
		return nil, &domain.UpstreamAuthError{Permanent: true, Detail: "cannot derive reseller id from account"}
	}

	blob, err := c.resellers.GetBlob(ctx, resellerID)
	if err != nil {
		if errors.Is(err, repository.ErrResellerNotFound) {
			upstreamFetchCounter.WithLabelValues("auth_error").Inc()
			return nil, &domain.UpstreamAuthError{Permanent: true, Detail: "missing reseller credential blob"}
		}
		return nil, err
	}

	var creds domain.ResellerCredentials
	if err := crypto.Open(resellerID, blob, &creds); err != nil {
		upstreamFetchCounter.WithLabelValues("auth_error").Inc()
		return nil, &domain.UpstreamAuthError{Permanent: true, Detail: "reseller credential decryption failed"}
	}

	tok, err := c.client.FetchToken(ctx, creds)
	if err != nil {
		var authErr *domain.UpstreamAuthError
		if errors.As(err, &authErr) && authErr.Permanent {
			upstreamFetchCounter.WithLabelValues("auth_error").Inc()
		} else {
			upstreamFetchCounter.WithLabelValues("transient_error").Inc()
		}
		return nil, err
	}
	upstreamFetchCounter.WithLabelValues("success").Inc()

	cred := &domain.CachedCredential{BearerToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt}
	sealed, err := crypto.Seal(client.FaxUser, cred)
	if err != nil {
		return nil, err
	}
	if err := c.credentials.Save(ctx, client.FaxUser, sealed, tok.ExpiresAt); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "upstream credential refreshed", "fax_user", client.FaxUser, "expires_at", tok.ExpiresAt)
	return cred, nil
}
