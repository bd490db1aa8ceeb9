package pricing

import (
	"errors"
	"time"
)

// FreeShippingThreshold is the subtotal from which every option ships free.
const FreeShippingThreshold = 100000

var ErrUnknownShipping = errors.New("unknown shipping option")

type ShippingOption struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	DeliveryDays int     `json:"delivery_days"`
}

const DefaultShipping = "standard"

var ShippingOptions = []ShippingOption{
	{ID: "standard", Name: "Standard", Price: 5990, DeliveryDays: 5},
	{ID: "express", Name: "Express", Price: 9990, DeliveryDays: 2},
	{ID: "premium", Name: "Premium", Price: 14990, DeliveryDays: 1},
}

func FindShipping(id string) (ShippingOption, error) {
	for _, o := range ShippingOptions {
		if o.ID == id {
			return o, nil
		}
	}
	return ShippingOption{}, ErrUnknownShipping
}

// ShippingCost is zero with a free-shipping coupon or above the threshold.
func ShippingCost(optionID string, subtotal float64, freeShipping bool) float64 {
	opt, err := FindShipping(optionID)
	if err != nil || freeShipping || subtotal >= FreeShippingThreshold {
		return 0
	}
	return opt.Price
}

// EstimatedDelivery adds the option's delivery days to from.
func EstimatedDelivery(optionID string, from time.Time) (time.Time, bool) {
	opt, err := FindShipping(optionID)
	if err != nil || opt.DeliveryDays == 0 {
		return time.Time{}, false
	}
	return from.AddDate(0, 0, opt.DeliveryDays), true
}
