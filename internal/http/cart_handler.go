package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/localcart"
	"github.com/fjod/cartsync/internal/pricing"
	"github.com/fjod/cartsync/internal/quantity"
	"github.com/fjod/cartsync/internal/service"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(timeout time.Duration, log *slog.Logger) *CartHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CartHandler{timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	Product domain.Product `json:"product"`
	// Quantity accepts numbers and numeric strings.
	Quantity any `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity any `json:"quantity"`
}

type BatchDeleteRequestDTO struct {
	LineIDs []string `json:"line_ids"`
}

type ShippingRequestDTO struct {
	Option string `json:"option"`
}

type CouponRequestDTO struct {
	Code string `json:"code"`
}

type CartResponseDTO struct {
	Synced  bool                  `json:"synced"`
	CartID  string                `json:"cart_id,omitempty"`
	UserID  string                `json:"user_id,omitempty"`
	Lines   []domain.CartLine     `json:"lines"`
	Summary pricing.Summary       `json:"summary"`
	Undo    localcart.HistoryInfo `json:"undo"`
	Redo    localcart.HistoryInfo `json:"redo"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if r.URL.Query().Get("refresh") == "true" && sess.Cart.Synced() {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if _, err := sess.Cart.Refresh(ctx); err != nil {
			h.log.WarnContext(ctx, "refresh failed, serving current lines", "session", sess.ID, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, h.view(sess.Cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Product.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product.id is required")
		return
	}
	qty := h.quantity(ctx, req.Quantity)

	line, err := sess.Cart.AddItem(ctx, req.Product, qty)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	line, err := sess.Cart.UpdateQuantity(ctx, chi.URLParam(r, "lineID"), h.quantity(ctx, req.Quantity))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	if err := sess.Cart.RemoveItem(ctx, chi.URLParam(r, "lineID")); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(sess.Cart))
}

func (h *CartHandler) RemoveItemsBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	var req BatchDeleteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if len(req.LineIDs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "line_ids must not be empty")
		return
	}

	removed, err := sess.Cart.RemoveItemsBatch(ctx, req.LineIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	if err := sess.Cart.ClearCart(ctx); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(sess.Cart))
}

func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sess := sessionFrom(ctx)

	order, err := sess.Cart.Checkout(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *CartHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, (*service.CartService).Undo)
}

func (h *CartHandler) Redo(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, (*service.CartService).Redo)
}

func (h *CartHandler) history(w http.ResponseWriter, r *http.Request, step func(*service.CartService, context.Context) (localcart.Action, bool)) {
	sess := sessionFrom(r.Context())
	action, ok := step(sess.Cart, r.Context())
	if !ok {
		respondError(w, http.StatusConflict, "history_empty", "nothing to revert")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"action": action, "cart": h.view(sess.Cart)})
}

func (h *CartHandler) SetShipping(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	var req ShippingRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	opt, err := sess.Cart.SetShippingOption(r.Context(), req.Option)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, opt)
}

func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	var req CouponRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	coupon, err := sess.Cart.ApplyCoupon(r.Context(), req.Code)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, coupon)
}

func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if !sess.Cart.RemoveCoupon(r.Context(), chi.URLParam(r, "code")) {
		respondError(w, http.StatusNotFound, "not_found", "coupon not applied")
		return
	}
	respondJSON(w, http.StatusOK, sess.Cart.Summary())
}

// quantity reads a client quantity. Input that is not a number falls back to
// the minimum with a warning.
func (h *CartHandler) quantity(ctx context.Context, raw any) int {
	if raw == nil {
		return quantity.Min
	}
	q, err := quantity.FromAny(raw)
	if errors.Is(err, quantity.ErrNotNumeric) {
		h.log.WarnContext(ctx, "non-numeric quantity, using minimum", "value", raw)
	}
	return q
}

func (h *CartHandler) view(c *service.CartService) CartResponseDTO {
	lines := c.Lines()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponseDTO{
		Synced:  c.Synced(),
		CartID:  c.CartID(),
		UserID:  c.UserID(),
		Lines:   lines,
		Summary: c.Summary(),
		Undo:    c.UndoInfo(),
		Redo:    c.RedoInfo(),
	}
}
