package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/cartsync/internal/cache"
	"github.com/fjod/cartsync/internal/circuitbreaker"
	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/localcart"
	"github.com/fjod/cartsync/internal/pricing"
	"github.com/fjod/cartsync/internal/quantity"
	"github.com/fjod/cartsync/internal/remotecart"
	"github.com/fjod/cartsync/internal/repository"
	"github.com/fjod/cartsync/internal/session"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError maps domain errors to HTTP status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, session.ErrNoSessionID):
		status, code = http.StatusBadRequest, "missing_session"
	case errors.Is(err, remotecart.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, remotecart.ErrIdentityMismatch):
		status, code = http.StatusForbidden, "identity_mismatch"
	case errors.Is(err, remotecart.ErrNotSynced):
		status, code = http.StatusConflict, "not_synced"
	case errors.Is(err, remotecart.ErrEmptyCart):
		status, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrIncompleteOffer):
		status, code = http.StatusBadRequest, "incomplete_offer"
	case errors.Is(err, domain.ErrBelowMinimum):
		status, code = http.StatusUnprocessableEntity, "below_minimum"
	case errors.Is(err, localcart.ErrLineNotFound),
		errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrCartNotFound),
		errors.Is(err, repository.ErrOrderNotFound):
		status, code = http.StatusNotFound, "not_found"
	case quantity.IsQuantityError(err), errors.Is(err, quantity.ErrNotNumeric):
		status, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, pricing.ErrUnknownShipping):
		status, code = http.StatusBadRequest, "unknown_shipping"
	case errors.Is(err, pricing.ErrUnknownCoupon),
		errors.Is(err, pricing.ErrCouponMinimum),
		errors.Is(err, pricing.ErrCouponApplied),
		errors.Is(err, pricing.ErrCouponIncompatible):
		status, code = http.StatusUnprocessableEntity, "coupon_rejected"
	case circuitbreaker.IsOpen(err), errors.Is(err, cache.ErrNoFetcher):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondError(w, status, code, err.Error())
}
