package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/app"
)

// InitHandler exchanges a client auth token for a session capability token.
type InitHandler struct {
	initService *app.InitService
	logger      *slog.Logger
	validate    *validator.Validate
}

func NewInitHandler(initService *app.InitService, logger *slog.Logger, validate *validator.Validate) *InitHandler {
	return &InitHandler{
		initService: initService,
		logger:      logger.With("handler", "init"),
		validate:    validate,
	}
}

func (h *InitHandler) RegisterRoutes(r chi.Router) {
	r.Post("/init", h.handleInit)
}

func (h *InitHandler) handleInit(w http.ResponseWriter, r *http.Request) {
	authToken, err := bearerToken(r)
	if err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	var req InitSessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithCode(w, http.StatusBadRequest, codeInvalidPayload, "invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithCode(w, http.StatusBadRequest, codeInvalidPayload, "validation failed: "+err.Error())
		return
	}

	out, err := h.initService.InitSession(r.Context(), authToken, req.FaxUser, req.DeviceID)
	if err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, InitSessionResponseDTO{
		JWTToken:   out.Token,
		DomainUUID: out.DomainUUID,
		ExpiresIn:  out.ExpiresIn,
		Numbers:    out.Numbers,
	})
}
