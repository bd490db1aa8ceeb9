package domain

import "time"

type BillingInfo struct {
	BusinessName   string `json:"business_name"`
	BillingRut     string `json:"billing_rut"`
	BusinessLine   string `json:"business_line"`
	BillingAddress string `json:"billing_address"`
	BillingRegion  string `json:"billing_region"`
	BillingCommune string `json:"billing_commune"`
}

type TransferInfo struct {
	AccountHolder     string `json:"account_holder"`
	Bank              string `json:"bank"`
	AccountNumber     string `json:"account_number"`
	AccountType       string `json:"account_type,omitempty"`
	TransferRut       string `json:"transfer_rut"`
	ConfirmationEmail string `json:"confirmation_email"`
}

type ShippingInfo struct {
	Region  string `json:"shipping_region"`
	Commune string `json:"shipping_commune"`
	Address string `json:"shipping_address"`
	Number  string `json:"shipping_number"`
}

// Thumbnail is the first product image with its generated variants and the
// signature that changes whenever the variants are regenerated.
type Thumbnail struct {
	ProductID    string            `json:"product_id"`
	ThumbnailURL string            `json:"thumbnail_url"`
	Variants     map[string]string `json:"thumbnails,omitempty"`
	Signature    string            `json:"signature"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type Order struct {
	ID            string        `json:"order_id"`
	CartID        string        `json:"cart_id"`
	UserID        string        `json:"user_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalAmount   float64       `json:"total_amount"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
