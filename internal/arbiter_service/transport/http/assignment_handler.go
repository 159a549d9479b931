package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/app"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
)

// AssignmentHandler exposes the claim, unregister, and list operations.
// Routes registered here must sit behind AuthMiddleware.
type AssignmentHandler struct {
	arbitration *app.ArbitrationService
	logger      *slog.Logger
	validate    *validator.Validate
}

func NewAssignmentHandler(arbitration *app.ArbitrationService, logger *slog.Logger, validate *validator.Validate) *AssignmentHandler {
	return &AssignmentHandler{
		arbitration: arbitration,
		logger:      logger.With("handler", "assignments"),
		validate:    validate,
	}
}

func (h *AssignmentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/assignments.list", h.handleList)
	r.Post("/assignments.request", h.handleRequest)
	r.Post("/assignments.unregister", h.handleUnregister)
}

func (h *AssignmentHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithDomainError(r.Context(), w, h.logger, domain.ErrInvalidToken)
		return
	}

	var req RequestAssignmentsRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithCode(w, http.StatusBadRequest, codeInvalidPayload, "invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithCode(w, http.StatusBadRequest, codeInvalidPayload, "validation failed: "+err.Error())
		return
	}

	out, err := h.arbitration.RequestAssignments(r.Context(), claims, req.DeviceID, req.Numbers)
	if err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, RequestAssignmentsResponseDTO{
		Results:        resultDTOs(out.Results),
		Version:        out.Version,
		EscalatedToken: out.EscalatedToken,
	})
}

func (h *AssignmentHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithDomainError(r.Context(), w, h.logger, domain.ErrInvalidToken)
		return
	}

	var req UnregisterAssignmentsRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithCode(w, http.StatusBadRequest, codeInvalidPayload, "invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithCode(w, http.StatusBadRequest, codeInvalidPayload, "validation failed: "+err.Error())
		return
	}

	// A missing or null numbers field means release everything this device
	// holds; a present field must still parse clean downstream.
	out, err := h.arbitration.UnregisterAssignments(r.Context(), claims, req.DeviceID, req.Numbers)
	if err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, UnregisterAssignmentsResponseDTO{
		Results: resultDTOs(out.Results),
		Version: out.Version,
	})
}

func (h *AssignmentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithDomainError(r.Context(), w, h.logger, domain.ErrInvalidToken)
		return
	}

	snapshot, version, err := h.arbitration.ListAssignments(r.Context(), claims)
	if err != nil {
		respondWithDomainError(r.Context(), w, h.logger, err)
		return
	}

	results := make(map[string]OwnerDTO, len(snapshot))
	for number, own := range snapshot {
		if own.Assigned() {
			owner := own.Owner()
			results[number] = OwnerDTO{Owner: &owner}
		} else {
			results[number] = OwnerDTO{}
		}
	}

	respondWithJSON(w, http.StatusOK, ListAssignmentsResponseDTO{
		Results: results,
		Version: version,
	})
}

func resultDTOs(results map[string]domain.AssignmentResult) map[string]AssignmentResultDTO {
	out := make(map[string]AssignmentResultDTO, len(results))
	for number, r := range results {
		out[number] = AssignmentResultDTO{Status: string(r.Status), Owner: r.Owner}
	}
	return out
}
