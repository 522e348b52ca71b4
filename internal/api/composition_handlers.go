package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/feedmixer/internal/auth"
	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/feed"
	"github.com/onnwee/feedmixer/internal/middleware"
	"github.com/onnwee/feedmixer/internal/pool"
	"github.com/onnwee/feedmixer/internal/validate"
)

// CompositionHandlers holds dependencies for composition HTTP handlers.
type CompositionHandlers struct {
	composer   *feed.Composer
	jwtService *auth.JWTService
}

// NewCompositionHandlers creates a new CompositionHandlers instance.
func NewCompositionHandlers(composer *feed.Composer, jwtService *auth.JWTService) *CompositionHandlers {
	return &CompositionHandlers{
		composer:   composer,
		jwtService: jwtService,
	}
}

// GetComposition handles GET /composition?user_id= - returns the user's
// stored weight mixture, or the default distribution when none is stored.
func (h *CompositionHandlers) GetComposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	userID, err := validate.UserID(r.URL.Query().Get("user_id"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is missing or malformed")
		return
	}

	cfg, err := h.composer.GetComposition(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load composition", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load composition")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, cfg)
}

// UpdateCompositionRequest is the body for PUT /composition. Weights are
// keyed by pool name and must sum to 1.0.
type UpdateCompositionRequest struct {
	UserID  string             `json:"user_id"`
	Weights map[string]float64 `json:"weights"`
}

// UpdateComposition handles PUT /composition - replaces the user's weight
// mixture. Requires a bearer token for the same user. A rejected mixture
// leaves the stored one untouched.
func (h *CompositionHandlers) UpdateComposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req UpdateCompositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Request body must be valid JSON")
		return
	}

	userID, err := validate.UserID(req.UserID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is missing or malformed")
		return
	}

	ctx, ok := requireUser(h.jwtService, w, r, userID)
	if !ok {
		return
	}

	weights := make(map[pool.Kind]float64, len(req.Weights))
	for name, weight := range req.Weights {
		kind, err := pool.ParseKind(name)
		if err != nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeUnknownPool)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownPool, "Unknown pool: "+name)
			return
		}
		weights[kind] = weight
	}

	cfg, err := h.composer.UpdateComposition(ctx, userID, weights)
	if err != nil {
		var cfgErr *composition.ConfigError
		if errors.As(err, &cfgErr) {
			writeConfigError(w, r, cfgErr)
			return
		}
		slog.ErrorContext(ctx, "failed to update composition", "error", err, "user_id", userID)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update composition")
		return
	}

	writeJSON(w, ctx, http.StatusOK, cfg)
}

// ResetCompositionRequest is the body for POST /composition/reset.
type ResetCompositionRequest struct {
	UserID string `json:"user_id"`
}

// ResetComposition handles POST /composition/reset - restores the user's
// mixture to the default distribution. Requires a bearer token for the
// same user.
func (h *CompositionHandlers) ResetComposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req ResetCompositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Request body must be valid JSON")
		return
	}

	userID, err := validate.UserID(req.UserID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is missing or malformed")
		return
	}

	ctx, ok := requireUser(h.jwtService, w, r, userID)
	if !ok {
		return
	}

	cfg, err := h.composer.ResetComposition(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reset composition", "error", err, "user_id", userID)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to reset composition")
		return
	}

	writeJSON(w, ctx, http.StatusOK, cfg)
}

// writeConfigError maps composition validation failures onto error codes.
func writeConfigError(w http.ResponseWriter, r *http.Request, cfgErr *composition.ConfigError) {
	code := ErrCodeWeightOutOfRange
	if cfgErr.Kind == composition.SumMismatch {
		code = ErrCodeWeightSumMismatch
	}
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, http.StatusBadRequest, code, cfgErr.Error())
}
