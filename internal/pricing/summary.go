package pricing

import "github.com/fjod/cartsync/internal/domain"

// Summary is everything the checkout panel shows under the line list.
type Summary struct {
	Subtotal  float64  `json:"subtotal"`
	Discount  float64  `json:"discount"`
	Shipping  float64  `json:"shipping"`
	Total     float64  `json:"total"`
	ItemCount int      `json:"item_count"`
	Coupons   []Coupon `json:"coupons,omitempty"`
	Option    string   `json:"shipping_option"`
}

func Summarize(lines []domain.CartLine, shippingOption string, coupons *Coupons) Summary {
	if coupons == nil {
		coupons = &Coupons{}
	}
	sub := Subtotal(lines)
	disc := coupons.Discount(sub)
	ship := 0.0
	if len(lines) > 0 {
		ship = ShippingCost(shippingOption, sub, coupons.FreeShipping())
	}
	return Summary{
		Subtotal:  sub,
		Discount:  disc,
		Shipping:  ship,
		Total:     Total(sub, disc, ship),
		ItemCount: ItemCount(lines),
		Coupons:   append([]Coupon(nil), coupons.Applied...),
		Option:    shippingOption,
	}
}
