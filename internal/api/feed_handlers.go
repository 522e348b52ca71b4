package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/feedmixer/internal/auth"
	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/feed"
	"github.com/onnwee/feedmixer/internal/middleware"
	"github.com/onnwee/feedmixer/internal/slots"
	"github.com/onnwee/feedmixer/internal/snapshot"
	"github.com/onnwee/feedmixer/internal/validate"
)

// Archiver stores a composed feed to object storage and returns a
// presigned download. Nil disables the snapshot endpoint.
type Archiver interface {
	Archive(ctx context.Context, result *feed.Result) (*snapshot.Archive, error)
}

// FeedHandlers holds dependencies for feed HTTP handlers.
type FeedHandlers struct {
	composer    *feed.Composer
	jwtService  *auth.JWTService
	archiver    Archiver
	defaultSize int
}

// NewFeedHandlers creates a new FeedHandlers instance. archiver may be nil
// when snapshot storage is not configured.
func NewFeedHandlers(composer *feed.Composer, jwtService *auth.JWTService, archiver Archiver, defaultSize int) *FeedHandlers {
	return &FeedHandlers{
		composer:    composer,
		jwtService:  jwtService,
		archiver:    archiver,
		defaultSize: defaultSize,
	}
}

// GetFeed handles GET /feed?user_id=&size=&refresh= - composes a ranked feed.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}

	size := h.defaultSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidSize)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSize, "size must be an integer")
			return
		}
		size = parsed
	}

	refresh := false
	switch r.URL.Query().Get("refresh") {
	case "true", "1":
		refresh = true
	}

	result, err := h.composer.Generate(r.Context(), userID, size, refresh)
	if err != nil {
		writeGenerateError(w, r, err, userID)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, result)
}

// ExperimentResponse reports which experiment group a user composes under.
type ExperimentResponse struct {
	Enabled    bool    `json:"enabled"`
	Experiment string  `json:"experiment,omitempty"`
	Group      string  `json:"group,omitempty"`
	HasOverride bool   `json:"has_override"`
}

// GetExperiment handles GET /feed/experiment?user_id= - exposes the user's
// deterministic experiment assignment for support tooling.
func (h *FeedHandlers) GetExperiment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}

	assignment := h.composer.ExperimentAssignment(userID)
	if assignment == nil {
		writeJSON(w, r.Context(), http.StatusOK, ExperimentResponse{Enabled: false})
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, ExperimentResponse{
		Enabled:     true,
		Experiment:  assignment.Experiment,
		Group:       assignment.Group,
		HasOverride: assignment.Override != nil,
	})
}

// SnapshotRequest is the body for POST /feed/snapshot.
type SnapshotRequest struct {
	UserID string `json:"user_id"`
	Size   int    `json:"size"`
}

// Snapshot handles POST /feed/snapshot - archives the user's current feed
// (with its sub-score breakdown) to object storage and returns a presigned
// download URL. Requires a bearer token for the same user.
func (h *FeedHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	if h.archiver == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeSnapshotUnavailable)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeSnapshotUnavailable, "Snapshot storage is not configured")
		return
	}

	var req SnapshotRequest
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

	size := req.Size
	if size == 0 {
		size = h.defaultSize
	}

	result, err := h.composer.Generate(ctx, userID, size, false)
	if err != nil {
		writeGenerateError(w, r, err, userID)
		return
	}

	archive, err := h.archiver.Archive(ctx, result)
	if err != nil {
		slog.ErrorContext(ctx, "failed to archive feed snapshot", "error", err, "user_id", userID)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to archive feed snapshot")
		return
	}

	writeJSON(w, ctx, http.StatusCreated, archive)
}

// userIDParam validates the user_id query parameter, writing the error
// response on failure.
func (h *FeedHandlers) userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := validate.UserID(r.URL.Query().Get("user_id"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is missing or malformed")
		return "", false
	}
	return userID, true
}

// writeGenerateError maps composer errors onto the API error taxonomy.
// Partial pool failures never reach here; they degrade inside Generate.
func writeGenerateError(w http.ResponseWriter, r *http.Request, err error, userID string) {
	var cfgErr *composition.ConfigError
	switch {
	case errors.Is(err, slots.ErrNegativeSize):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidSize)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSize, "Feed size must not be negative")
	case errors.Is(err, feed.ErrSizeTooLarge):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidSize)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSize, "Feed size exceeds the maximum")
	case errors.As(err, &cfgErr):
		writeConfigError(w, r, cfgErr)
	default:
		slog.ErrorContext(r.Context(), "feed generation failed", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate feed")
	}
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
