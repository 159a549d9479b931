package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/app"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

type contextKey string

const claimsContextKey = contextKey("capabilityClaims")

// bearerToken extracts the credential from an "Authorization: Bearer x"
// header, returning ErrAuthHeaderMissing for an absent or malformed header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", domain.ErrAuthHeaderMissing
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", domain.ErrAuthHeaderMissing
	}
	return strings.TrimSpace(parts[1]), nil
}

// AuthMiddleware validates the capability token on every protected route and
// stores the decoded claims in the request context. Scope checks stay in the
// service layer; this gate only establishes who is calling.
func AuthMiddleware(issuer *app.TokenIssuer, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				respondWithDomainError(r.Context(), w, logger, err)
				return
			}

			claims, err := issuer.Validate(token)
			if err != nil {
				logger.WarnContext(r.Context(), "capability token rejected", "error", err)
				respondWithDomainError(r.Context(), w, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the validated claims stored by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*app.TokenClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*app.TokenClaims)
	return claims, ok
}
