package profile

import (
	"strings"

	"github.com/fjod/cartsync/internal/cache"
	"github.com/fjod/cartsync/internal/domain"
)

type requirement struct {
	field string
	value string
}

func missingOf(reqs []requirement) []string {
	var missing []string
	for _, r := range reqs {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.field)
		}
	}
	return missing
}

// Billing checks the fields needed to issue an invoice.
func Billing(b *domain.BillingInfo) cache.Validation {
	if b == nil {
		b = &domain.BillingInfo{}
	}
	v := cache.Validation{Missing: missingOf([]requirement{
		{"businessName", b.BusinessName},
		{"billingRut", b.BillingRut},
		{"businessLine", b.BusinessLine},
		{"billingAddress", b.BillingAddress},
		{"billingRegion", b.BillingRegion},
		{"billingCommune", b.BillingCommune},
	})}
	if strings.TrimSpace(b.BillingRut) != "" && !ValidRut(b.BillingRut) {
		v.Errors = append(v.Errors, cache.FieldError{Field: "billingRut", Message: "invalid billing RUT"})
	}
	v.Complete = len(v.Missing) == 0 && len(v.Errors) == 0
	return v
}

// Transfer checks the bank details a supplier needs to receive payments.
func Transfer(t *domain.TransferInfo) cache.Validation {
	if t == nil {
		t = &domain.TransferInfo{}
	}
	v := cache.Validation{Missing: missingOf([]requirement{
		{"accountHolder", t.AccountHolder},
		{"bank", t.Bank},
		{"accountNumber", t.AccountNumber},
		{"transferRut", t.TransferRut},
		{"confirmationEmail", t.ConfirmationEmail},
	})}
	if strings.TrimSpace(t.TransferRut) != "" && !ValidRut(t.TransferRut) {
		v.Errors = append(v.Errors, cache.FieldError{Field: "transferRut", Message: "invalid RUT format"})
	}
	if strings.TrimSpace(t.ConfirmationEmail) != "" && !ValidEmail(t.ConfirmationEmail) {
		v.Errors = append(v.Errors, cache.FieldError{Field: "confirmationEmail", Message: "invalid email format"})
	}
	v.Complete = len(v.Missing) == 0 && len(v.Errors) == 0
	return v
}

// Shipping requires region and commune. Street address and number are
// reported but do not block completeness.
func Shipping(s *domain.ShippingInfo) cache.Validation {
	if s == nil {
		s = &domain.ShippingInfo{}
	}
	v := cache.Validation{
		Missing: missingOf([]requirement{
			{"shippingRegion", s.Region},
			{"shippingCommune", s.Commune},
		}),
		OptionalMissing: missingOf([]requirement{
			{"shippingAddress", s.Address},
			{"shippingNumber", s.Number},
		}),
	}
	v.Complete = len(v.Missing) == 0
	return v
}
