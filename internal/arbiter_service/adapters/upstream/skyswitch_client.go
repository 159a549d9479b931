package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

const defaultExpirySeconds = 21600

// SkySwitchClient requests OAuth bearer tokens from the SkySwitch telco API.
type SkySwitchClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	tokenURL   string
	grantType  string
}

func NewSkySwitchClient(logger *slog.Logger, tokenURL, grantType string, timeout time.Duration, httpClient *http.Client) *SkySwitchClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &SkySwitchClient{
		logger:     logger.With("adapter", "skyswitch"),
		httpClient: httpClient,
		tokenURL:   tokenURL,
		grantType:  grantType,
	}
}

type tokenResponseBody struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// FetchToken exchanges reseller secrets for a bearer token. HTTP 4xx means
// the stored secrets were rejected (permanent); 5xx and transport failures
// are transient and the caller may retry with backoff. Secret values never
// reach the logger.
func (c *SkySwitchClient) FetchToken(ctx context.Context, creds domain.ResellerCredentials) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", c.grantType)
	form.Set("client_id", creds.MsgAPIUser)
	form.Set("client_secret", creds.MsgAPIPassword)
	form.Set("username", creds.VoiceAPIUser)
	form.Set("password", creds.VoiceAPIPassword)
	form.Set("scope", "*")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "upstream token request failed", "error", err)
		return nil, &domain.UpstreamAuthError{Permanent: false, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.logger.WarnContext(ctx, "upstream token request rejected", "status", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &domain.UpstreamAuthError{
				Permanent: true,
				Detail:    fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode),
			}
		}
		return nil, &domain.UpstreamAuthError{
			Permanent: false,
			Detail:    fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode),
		}
	}

	var body tokenResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.UpstreamAuthError{Permanent: false, Detail: "malformed upstream response"}
	}
	if body.AccessToken == "" {
		return nil, &domain.UpstreamAuthError{Permanent: false, Detail: "upstream response missing access_token"}
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySeconds
	}

	return &TokenResponse{
		AccessToken: body.AccessToken,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
