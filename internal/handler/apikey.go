package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/middleware"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/service"
)

// KeyManager is the API key service used by the key endpoints.
type KeyManager interface {
	Create(ctx context.Context, user *model.User, name string) (*model.APIKeyCreateResponse, error)
	List(ctx context.Context, userID int64) ([]model.APIKeyResponse, error)
	Deactivate(ctx context.Context, userID, keyID int64) error
}

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	logger *slog.Logger
	keys   KeyManager
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(logger *slog.Logger, keys KeyManager) *APIKeyHandler {
	return &APIKeyHandler{
		logger: logger.With("component", "apikey_handler"),
		keys:   keys,
	}
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKey issues a key. The name comes from a JSON body or a form field.
// POST /api/keys
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req createKeyRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Name = r.PostForm.Get("name")
	}

	created, err := h.keys.Create(r.Context(), user, req.Name)
	switch {
	case errors.Is(err, service.ErrAPIAccessNotAllowed):
		writeError(w, http.StatusForbidden, "Upgrade to Pro for API access")
		return
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.internalError(w, r, "create API key", err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// ListAPIKeys returns the user's keys without secrets.
// GET /api/keys
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	keys, err := h.keys.List(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, r, "list API keys", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

// DeleteAPIKey deactivates one of the user's keys.
// DELETE /api/keys/{key_id}
func (h *APIKeyHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	keyID, err := strconv.ParseInt(chi.URLParam(r, "key_id"), 10, 64)
	if err != nil || keyID <= 0 {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}

	err = h.keys.Deactivate(r.Context(), user.ID, keyID)
	switch {
	case errors.Is(err, service.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, "Key not found")
		return
	case err != nil:
		h.internalError(w, r, "deactivate API key", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Key deleted"})
}

func (h *APIKeyHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("request failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
