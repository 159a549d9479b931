package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

// ErrorCodeHeader carries the machine-readable failure code so clients
// branch on a stable identifier instead of parsing message prose.
const ErrorCodeHeader = "X-Error-Code"

const (
	codeMissingAuthHeader   = "ERR_MISSING_AUTH_HEADER"
	codeInvalidCredentials  = "ERR_INVALID_CREDENTIALS"
	codeInvalidJWT          = "ERR_INVALID_JWT"
	codeInsufficientScope   = "ERR_INSUFFICIENT_SCOPE"
	codeDeviceMismatch      = "ERR_DEVICE_MISMATCH"
	codeDomainNotFound      = "ERR_DOMAIN_NOT_FOUND"
	codeNumberNotInDomain   = "ERR_NUMBER_NOT_IN_DOMAIN"
	codeInvalidNumber       = "ERR_INVALID_NUMBER"
	codeEmptyNumbers        = "ERR_EMPTY_NUMBERS"
	codeInvalidPayload      = "ERR_INVALID_PAYLOAD"
	codeUpstreamAuth        = "ERR_UPSTREAM_AUTH"
	codeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
	codeInfraUnavailable    = "ERR_INFRA_UNAVAILABLE"
	codeInternal            = "ERR_INTERNAL"
)

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Default().Error("failed to write JSON response", "error", err)
		}
	}
}

func respondWithCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set(ErrorCodeHeader, code)
	respondWithJSON(w, status, map[string]string{"error": message, "code": code})
}

// respondWithDomainError maps service-layer failures onto HTTP status and
// X-Error-Code. Unknown errors collapse to a generic 500 so internal detail
// never reaches a client.
func respondWithDomainError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthHeaderMissing):
		respondWithCode(w, http.StatusUnauthorized, codeMissingAuthHeader, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		respondWithCode(w, http.StatusUnauthorized, codeInvalidCredentials, err.Error())
	case errors.Is(err, domain.ErrInvalidToken):
		respondWithCode(w, http.StatusUnauthorized, codeInvalidJWT, err.Error())
	case errors.Is(err, domain.ErrInsufficientScope):
		respondWithCode(w, http.StatusForbidden, codeInsufficientScope, err.Error())
	case errors.Is(err, domain.ErrDeviceMismatch):
		respondWithCode(w, http.StatusForbidden, codeDeviceMismatch, err.Error())
	case errors.Is(err, domain.ErrDomainNotFound):
		respondWithCode(w, http.StatusNotFound, codeDomainNotFound, err.Error())
	case errors.Is(err, domain.ErrNumberNotInDomain):
		respondWithCode(w, http.StatusConflict, codeNumberNotInDomain, err.Error())
	case errors.Is(err, domain.ErrInvalidNumber):
		respondWithCode(w, http.StatusBadRequest, codeInvalidNumber, err.Error())
	case errors.Is(err, domain.ErrEmptyNumbers):
		respondWithCode(w, http.StatusBadRequest, codeEmptyNumbers, err.Error())
	case errors.Is(err, domain.ErrUpstreamAuth):
		var authErr *domain.UpstreamAuthError
		if errors.As(err, &authErr) && !authErr.Permanent {
			respondWithCode(w, http.StatusServiceUnavailable, codeUpstreamUnavailable, "upstream credential service unavailable")
			return
		}
		respondWithCode(w, http.StatusBadGateway, codeUpstreamAuth, "upstream rejected stored credentials")
	case errors.Is(err, domain.ErrInfrastructureUnavailable):
		logger.ErrorContext(ctx, "storage unavailable", "error", err)
		respondWithCode(w, http.StatusServiceUnavailable, codeInfraUnavailable, "service temporarily unavailable")
	default:
		logger.ErrorContext(ctx, "unhandled service error", "error", err)
		respondWithCode(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
