package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/onnwee/feedmixer/internal/auth"
	"github.com/onnwee/feedmixer/internal/middleware"
)

// bearerToken extracts the token from an Authorization: Bearer header.
// Returns empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requireUser validates the request's bearer token and checks that it was
// issued to userID. On success it returns a context carrying the
// authenticated user for the logging middleware. On failure it writes the
// error response and returns ok=false; the caller must stop handling.
func requireUser(jwtSvc *auth.JWTService, w http.ResponseWriter, r *http.Request, userID string) (context.Context, bool) {
	token := bearerToken(r)
	if token == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Missing bearer token")
		return nil, false
	}

	claims, err := jwtSvc.ValidateToken(token)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired token")
		return nil, false
	}
	if claims.Type != auth.TokenTypeAccess {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Token is not an access token")
		return nil, false
	}

	ctx := middleware.SetUserID(r.Context(), claims.Subject)
	if claims.Subject != userID {
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Token does not belong to this user")
		return nil, false
	}
	return ctx, true
}
