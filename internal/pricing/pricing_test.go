package pricing

import (
	"testing"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tiers = []domain.PriceTier{
	{MinQuantity: 100, Price: 800},
	{MinQuantity: 10, Price: 900},
	{MinQuantity: 50, Price: 850},
}

func TestUnitPrice(t *testing.T) {
	tests := []struct {
		name string
		qty  int
		want float64
	}{
		{"below every tier", 5, 1000},
		{"exact tier boundary", 10, 900},
		{"between tiers", 70, 850},
		{"largest tier", 500, 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnitPrice(1000, tiers, tt.qty))
		})
	}
	assert.Equal(t, 1000.0, UnitPrice(1000, nil, 500))
}

func TestLinePrice_OfferIgnoresTiers(t *testing.T) {
	l := domain.CartLine{BasePrice: 1000, PriceTiers: tiers, Quantity: 200, OfferID: "o1", OfferedPrice: 950}
	assert.Equal(t, 950.0, LinePrice(l))

	l.OfferID, l.OfferedPrice = "", 0
	Reprice(&l)
	assert.Equal(t, 800.0, l.UnitPrice)
}

func TestSubtotalAndCount(t *testing.T) {
	lines := []domain.CartLine{
		{BasePrice: 1000, PriceTiers: tiers, Quantity: 10},
		{BasePrice: 2500, Quantity: 2},
	}
	assert.Equal(t, 9000.0+5000.0, Subtotal(lines))
	assert.Equal(t, 12, ItemCount(lines))
	assert.Equal(t, 0.0, Subtotal(nil))
}

func TestShippingCost(t *testing.T) {
	assert.Equal(t, 5990.0, ShippingCost("standard", 1000, false))
	assert.Equal(t, 9990.0, ShippingCost("express", 99999, false))
	assert.Equal(t, 0.0, ShippingCost("express", FreeShippingThreshold, false))
	assert.Equal(t, 0.0, ShippingCost("premium", 1000, true))
	assert.Equal(t, 0.0, ShippingCost("drone", 1000, false))

	_, err := FindShipping("drone")
	assert.ErrorIs(t, err, ErrUnknownShipping)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	at, ok := EstimatedDelivery("express", from)
	require.True(t, ok)
	assert.Equal(t, from.AddDate(0, 0, 2), at)
}

func TestCoupons(t *testing.T) {
	var c Coupons
	now := time.Now()

	_, err := c.Apply("nope", 1_000_000, now)
	assert.ErrorIs(t, err, ErrUnknownCoupon)

	_, err = c.Apply("descuento10", 10000, now)
	assert.ErrorIs(t, err, ErrCouponMinimum)

	applied, err := c.Apply("descuento10", 60000, now)
	require.NoError(t, err)
	assert.Equal(t, "DESCUENTO10", applied.Code)

	_, err = c.Apply("DESCUENTO10", 60000, now)
	assert.ErrorIs(t, err, ErrCouponApplied)

	_, err = c.Apply("DESCUENTO20", 200000, now)
	assert.ErrorIs(t, err, ErrCouponIncompatible)

	_, err = c.Apply("FIJO5000", 60000, now)
	require.NoError(t, err)
	_, err = c.Apply("ENVIOGRATIS", 60000, now)
	require.NoError(t, err)

	assert.Equal(t, 6000.0+5000.0, c.Discount(60000))
	assert.True(t, c.FreeShipping())

	assert.True(t, c.Remove("envioGratis"))
	assert.False(t, c.FreeShipping())
	assert.False(t, c.Remove("ENVIOGRATIS"))
	assert.Equal(t, 2, c.Clear())
}

func TestSummarize(t *testing.T) {
	lines := []domain.CartLine{{BasePrice: 30000, Quantity: 2}}
	c := &Coupons{}
	_, err := c.Apply("FIJO5000", 60000, time.Now())
	require.NoError(t, err)

	s := Summarize(lines, "standard", c)
	assert.Equal(t, 60000.0, s.Subtotal)
	assert.Equal(t, 5000.0, s.Discount)
	assert.Equal(t, 5990.0, s.Shipping)
	assert.Equal(t, 60990.0, s.Total)
	assert.Equal(t, 2, s.ItemCount)

	empty := Summarize(nil, "standard", nil)
	assert.Equal(t, 0.0, empty.Total)
}

func TestTotalNeverNegative(t *testing.T) {
	assert.Equal(t, 5990.0, Total(1000, 5000, 5990))
}

func TestComputeStats(t *testing.T) {
	lines := []domain.CartLine{
		{BasePrice: 1000, PriceTiers: tiers, Quantity: 10, Product: domain.ProductSnapshot{SupplierID: "s1"}},
		{BasePrice: 2000, Quantity: 2, OfferID: "o", OfferedPrice: 1500, Product: domain.ProductSnapshot{SupplierID: "s1"}},
		{BasePrice: 500, Quantity: 4, Product: domain.ProductSnapshot{SupplierID: "s2"}},
	}
	s := ComputeStats(lines)
	assert.Equal(t, 3, s.Lines)
	assert.Equal(t, 16, s.Items)
	assert.Equal(t, 1, s.OfferedLines)
	assert.Equal(t, 2, s.Suppliers)
	assert.Equal(t, 1000.0, s.TierSavings)
	assert.InDelta(t, (9000.0+3000+2000)/16, s.AverageUnitPrice, 0.001)
}
