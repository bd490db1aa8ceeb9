package domain

import (
	"errors"
	"time"
)

// Product is the canonical catalog shape accepted by add-to-cart. Offer
// fields are set when the product is added from an accepted negotiation.
type Product struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Price            float64      `json:"price"`
	PriceTiers       []PriceTier  `json:"price_tiers,omitempty"`
	Stock            int          `json:"stock"`
	MinimumPurchase  int          `json:"minimum_purchase"`
	ImageURL         string       `json:"image_url,omitempty"`
	ThumbnailURL     string       `json:"thumbnail_url,omitempty"`
	SupplierID       string       `json:"supplier_id,omitempty"`
	SupplierName     string       `json:"supplier_name,omitempty"`
	SupplierVerified bool         `json:"supplier_verified"`
	DocumentType     DocumentType `json:"document_type,omitempty"`

	OfferID      string  `json:"offer_id,omitempty"`
	OfferedPrice float64 `json:"offered_price,omitempty"`
	Offered      bool    `json:"offered,omitempty"`
}

func (p Product) IsOffered() bool {
	return p.Offered || p.OfferID != "" || p.OfferedPrice > 0
}

// OfferComplete reports whether an offered product carries both the offer
// reference and the offered price.
func (p Product) OfferComplete() bool {
	return p.OfferID != "" && p.OfferedPrice > 0
}

func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		Name:             p.Name,
		ImageURL:         p.ImageURL,
		ThumbnailURL:     p.ThumbnailURL,
		SupplierID:       p.SupplierID,
		SupplierName:     p.SupplierName,
		SupplierVerified: p.SupplierVerified,
		Stock:            p.Stock,
		MinimumPurchase:  p.MinimumPurchase,
	}
}

// ErrIncompleteOffer rejects an offered product that lacks its offer id or
// its offered price.
var ErrIncompleteOffer = errors.New("offered product is missing offer id or offered price")

// ErrBelowMinimum is returned when the product's minimum purchase cannot be
// met within its available stock.
var ErrBelowMinimum = errors.New("minimum purchase exceeds available stock")

// NewLine builds an unsaved line for p. The caller sets ID and Quantity.
func NewLine(p Product, now time.Time) CartLine {
	return CartLine{
		ProductID:    p.ID,
		BasePrice:    p.Price,
		PriceTiers:   append([]PriceTier(nil), p.PriceTiers...),
		OfferID:      p.OfferID,
		OfferedPrice: p.OfferedPrice,
		DocumentType: NormalizeDocumentType(string(p.DocumentType)),
		Product:      p.Snapshot(),
		AddedAt:      now,
		UpdatedAt:    now,
	}
}
