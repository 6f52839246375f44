package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/middleware"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/service"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const multipartMemory = 8 << 20

// Notary is the notarization service used by the API.
type Notary interface {
	Notarize(ctx context.Context, user *model.User, in service.NotarizeInput) (*model.Notarization, error)
	Evidence(n *model.Notarization) model.Evidence
	Verify(ctx context.Context, sha256Hex, cid string) (*model.Notarization, error)
	Get(ctx context.Context, userID int64, id string) (*model.Notarization, error)
	List(ctx context.Context, userID int64, limit int) ([]*model.Notarization, error)
}

// UsageReporter reports quota state.
type UsageReporter interface {
	Usage(ctx context.Context, user *model.User) (model.UsageResponse, error)
}

// NotarizeHandler serves the notarization API.
type NotarizeHandler struct {
	logger *slog.Logger
	notary Notary
	usage  UsageReporter
}

// NewNotarizeHandler creates a new NotarizeHandler.
func NewNotarizeHandler(logger *slog.Logger, notary Notary, usage UsageReporter) *NotarizeHandler {
	return &NotarizeHandler{
		logger: logger.With("component", "notarize_handler"),
		notary: notary,
		usage:  usage,
	}
}

// Notarize accepts a multipart upload with a "file" part and an optional
// "metadata" field holding a JSON object of strings.
// POST /notarize
func (h *NotarizeHandler) Notarize(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart upload with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	var metadata map[string]string
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, http.StatusBadRequest, "metadata must be a JSON object of strings")
			return
		}
	}

	n, err := h.notary.Notarize(r.Context(), user, service.NotarizeInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Metadata:    metadata,
	})
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "Monthly notarization limit reached. Upgrade your plan for more.")
		return
	case errors.Is(err, service.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, "File is empty")
		return
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrNotarizationFailed):
		h.logger.Error("notarization failed",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusBadGateway, "Notarization failed: "+err.Error())
		return
	case err != nil:
		h.internalError(w, r, "notarize", err)
		return
	}

	writeJSON(w, http.StatusOK, model.NotarizeResponse{
		ID:       n.ID,
		Status:   string(n.Status),
		Evidence: h.notary.Evidence(n),
	})
}

// Verify reports whether a completed notarization matches a hash and CID.
// GET /api/v1/verify?sha256_hash=...&ipfs_cid=...
func (h *NotarizeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := h.notary.Verify(r.Context(), q.Get("sha256_hash"), q.Get("ipfs_cid"))
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "sha256_hash and ipfs_cid are required")
		return
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"verified": false, "error": "No matching notarization"})
		return
	case err != nil:
		h.internalError(w, r, "verify", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified":     true,
		"id":           n.ID,
		"notarized_at": n.CreatedAt,
		"evidence":     h.notary.Evidence(n),
	})
}

// Get returns one of the caller's notarizations.
// GET /api/v1/notarizations/{id}
func (h *NotarizeHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	n, err := h.notary.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Notarization not found")
		return
	case err != nil:
		h.internalError(w, r, "get notarization", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// List returns the caller's recent notarizations.
// GET /api/v1/notarizations?limit=N
func (h *NotarizeHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.notary.List(r.Context(), user.ID, limit)
	if err != nil {
		h.internalError(w, r, "list notarizations", err)
		return
	}
	if list == nil {
		list = []*model.Notarization{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notarizations": list})
}

// Usage reports the caller's quota.
// GET /api/v1/usage
func (h *NotarizeHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	usage, err := h.usage.Usage(r.Context(), user)
	if err != nil {
		h.internalError(w, r, "usage", err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *NotarizeHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("request failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
