package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownCoupon      = errors.New("invalid discount code")
	ErrCouponMinimum      = errors.New("subtotal below coupon minimum")
	ErrCouponApplied      = errors.New("coupon already applied")
	ErrCouponIncompatible = errors.New("coupon not compatible with applied coupons")
)

type Coupon struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Percentage   float64   `json:"percentage,omitempty"`
	Amount       float64   `json:"amount,omitempty"`
	FreeShipping bool      `json:"free_shipping,omitempty"`
	MinAmount    float64   `json:"min_amount"`
	AppliedAt    time.Time `json:"applied_at,omitempty"`
}

var DiscountCodes = map[string]Coupon{
	"DESCUENTO10": {Name: "10% off", Percentage: 10, MinAmount: 50000},
	"DESCUENTO20": {Name: "20% off", Percentage: 20, MinAmount: 150000},
	"FIJO5000":    {Name: "$5.000 off", Amount: 5000, MinAmount: 20000},
	"ENVIOGRATIS": {Name: "Free shipping", FreeShipping: true, MinAmount: 30000},
}

// Coupons is the set of coupons applied to one cart. The zero value is ready
// to use; it is not safe for concurrent use.
type Coupons struct {
	Applied []Coupon `json:"applied"`
}

// Check reports why code cannot be applied, or returns the coupon.
func (c *Coupons) Check(code string, subtotal float64) (Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	coupon, ok := DiscountCodes[code]
	if !ok {
		return Coupon{}, fmt.Errorf("%w: %s", ErrUnknownCoupon, code)
	}
	coupon.Code = code
	if subtotal < coupon.MinAmount {
		return Coupon{}, fmt.Errorf("%w: requires %.0f", ErrCouponMinimum, coupon.MinAmount)
	}
	for _, a := range c.Applied {
		if a.Code == code {
			return Coupon{}, ErrCouponApplied
		}
		// one percentage coupon and one free-shipping coupon at most
		if (a.Percentage > 0 && coupon.Percentage > 0) || (a.FreeShipping && coupon.FreeShipping) {
			return Coupon{}, ErrCouponIncompatible
		}
	}
	return coupon, nil
}

func (c *Coupons) Apply(code string, subtotal float64, now time.Time) (Coupon, error) {
	coupon, err := c.Check(code, subtotal)
	if err != nil {
		return Coupon{}, err
	}
	coupon.AppliedAt = now
	c.Applied = append(c.Applied, coupon)
	return coupon, nil
}

func (c *Coupons) Remove(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, a := range c.Applied {
		if a.Code == code {
			c.Applied = append(c.Applied[:i], c.Applied[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coupons) Clear() int {
	n := len(c.Applied)
	c.Applied = nil
	return n
}

// Discount sums percentage and fixed coupons over subtotal.
func (c *Coupons) Discount(subtotal float64) float64 {
	var d float64
	for _, a := range c.Applied {
		switch {
		case a.Percentage > 0:
			d += subtotal * a.Percentage / 100
		case a.Amount > 0:
			d += a.Amount
		}
	}
	return d
}

func (c *Coupons) FreeShipping() bool {
	for _, a := range c.Applied {
		if a.FreeShipping {
			return true
		}
	}
	return false
}
