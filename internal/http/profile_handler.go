package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/cartsync/internal/cache"
	"github.com/go-chi/chi/v5"
)

type ProfileHandler struct {
	timeout time.Duration
}

func NewProfileHandler(timeout time.Duration) *ProfileHandler {
	return &ProfileHandler{timeout: timeout}
}

type profileResponse struct {
	Kind   string `json:"kind"`
	Status any    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GET /api/v1/profile/{kind}?force=true
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	userID := sess.Auth.UserID()
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	kind := chi.URLParam(r, "kind")
	var resp profileResponse
	switch kind {
	case "billing":
		resp = profileStatus(kind, sess.Billing.Load(ctx, userID, force))
	case "transfer":
		resp = profileStatus(kind, sess.Transfer.Load(ctx, userID, force))
	case "shipping":
		resp = profileStatus(kind, sess.Shipping.Load(ctx, userID, force))
	default:
		respondError(w, http.StatusNotFound, "not_found", "unknown profile "+kind)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/profile/{kind}/invalidate
func (h *ProfileHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	kind := chi.URLParam(r, "kind")
	if !sess.InvalidateProfile(kind) {
		respondError(w, http.StatusNotFound, "not_found", "unknown profile "+kind)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func profileStatus[T any](kind string, st cache.Status[T]) profileResponse {
	resp := profileResponse{Kind: kind, Status: st}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

type ThumbnailHandler struct {
	thumbs  *cache.ThumbnailCache
	timeout time.Duration
}

func NewThumbnailHandler(thumbs *cache.ThumbnailCache, timeout time.Duration) *ThumbnailHandler {
	return &ThumbnailHandler{thumbs: thumbs, timeout: timeout}
}

// GET /api/v1/thumbnails/{productID}. If-None-Match carries the signature
// the client already holds.
func (h *ThumbnailHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	known := strings.Trim(r.Header.Get("If-None-Match"), `"`)
	thumb, err := h.thumbs.Get(ctx, chi.URLParam(r, "productID"), known)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if thumb == nil {
		respondError(w, http.StatusNotFound, "not_found", "no thumbnail for product")
		return
	}
	w.Header().Set("ETag", `"`+thumb.Signature+`"`)
	if known != "" && known == thumb.Signature {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, http.StatusOK, thumb)
}

// GET /api/v1/thumbnails?ids=a,b,c
func (h *ThumbnailHandler) GetMany(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "ids is required")
		return
	}
	thumbs, err := h.thumbs.FetchMany(ctx, ids)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, thumbs)
}

func (h *ThumbnailHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.thumbs.Stats())
}
