package upstream

import (
	"context"
	"time"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

// TokenResponse is a freshly issued vendor bearer credential with its true
// upstream expiry.
type TokenResponse struct {
	AccessToken string
	ExpiresAt   time.Time
}

// CredentialClient requests bearer tokens from the vendor transport API
// using a reseller's decrypted secrets. Implementations classify failures
// as *domain.UpstreamAuthError with Permanent set for credential rejections.
type CredentialClient interface {
	FetchToken(ctx context.Context, creds domain.ResellerCredentials) (*TokenResponse, error)
}
