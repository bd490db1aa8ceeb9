package pricing

import (
	"github.com/fjod/cartsync/internal/domain"
)

// UnitPrice picks the tier with the largest MinQuantity not above qty.
// Without a matching tier the base price applies.
func UnitPrice(base float64, tiers []domain.PriceTier, qty int) float64 {
	price, best := base, 0
	for _, t := range tiers {
		if t.MinQuantity <= qty && t.MinQuantity > best && t.Price > 0 {
			price, best = t.Price, t.MinQuantity
		}
	}
	return price
}

// LinePrice is the effective unit price of a line. An offered price is a
// negotiated amount and is never replaced by a tier.
func LinePrice(l domain.CartLine) float64 {
	if l.OfferedPrice > 0 {
		return l.OfferedPrice
	}
	return UnitPrice(l.BasePrice, l.PriceTiers, l.Quantity)
}

// Reprice stores the effective unit price on the line.
func Reprice(l *domain.CartLine) {
	l.UnitPrice = LinePrice(*l)
}

func Subtotal(lines []domain.CartLine) float64 {
	var sum float64
	for _, l := range lines {
		sum += LinePrice(l) * float64(l.Quantity)
	}
	return sum
}

// ItemCount is the number of units across all lines.
func ItemCount(lines []domain.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Total never lets a discount take the goods below zero.
func Total(subtotal, discount, shipping float64) float64 {
	goods := subtotal - discount
	if goods < 0 {
		goods = 0
	}
	return goods + shipping
}

type Stats struct {
	Lines            int     `json:"lines"`
	Items            int     `json:"items"`
	Subtotal         float64 `json:"subtotal"`
	AverageUnitPrice float64 `json:"average_unit_price"`
	OfferedLines     int     `json:"offered_lines"`
	Suppliers        int     `json:"suppliers"`
	TierSavings      float64 `json:"tier_savings"`
}

func ComputeStats(lines []domain.CartLine) Stats {
	s := Stats{Lines: len(lines), Items: ItemCount(lines), Subtotal: Subtotal(lines)}
	suppliers := make(map[string]struct{})
	for _, l := range lines {
		if l.IsOffered() {
			s.OfferedLines++
		}
		if l.Product.SupplierID != "" {
			suppliers[l.Product.SupplierID] = struct{}{}
		}
		if l.OfferedPrice <= 0 {
			if diff := l.BasePrice - LinePrice(l); diff > 0 {
				s.TierSavings += diff * float64(l.Quantity)
			}
		}
	}
	s.Suppliers = len(suppliers)
	if s.Items > 0 {
		s.AverageUnitPrice = s.Subtotal / float64(s.Items)
	}
	return s
}
