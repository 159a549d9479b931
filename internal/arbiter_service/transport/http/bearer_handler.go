package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/app"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository"
)

// BearerHandler hands out the domain's upstream vendor credential. The
// response carries only the token and its expiry; how it was obtained stays
// server-side.
type BearerHandler struct {
	clients repository.ClientRepository
	cache   *app.CredentialCache
	issuer  *app.TokenIssuer
	logger  *slog.Logger
}

func NewBearerHandler(clients repository.ClientRepository, cache *app.CredentialCache, issuer *app.TokenIssuer, logger *slog.Logger) *BearerHandler {
	return &BearerHandler{
		clients: clients,
		cache:   cache,
		issuer:  issuer,
		logger:  logger.With("handler", "bearer"),
	}
}

func (h *BearerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/bearer", h.handleBearer)
}

func (h *BearerHandler) handleBearer(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithDomainError(r.Context(), w, h.logger, domain.ErrInvalidToken)
		return
	}
	if err := h.issuer.RequireScopes(claims, domain.ScopeBearerRequest); err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	client, err := h.clients.GetByDomainUUID(r.Context(), claims.DomainUUID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			respondWithDomainError(r.Context(), w, h.logger, domain.ErrDomainNotFound)
			return
		}
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	cred, err := h.cache.Get(r.Context(), client)
	if err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, BearerTokenResponseDTO{
		BearerToken: cred.BearerToken,
		ExpiresAt:   cred.ExpiresAt,
	})
}
