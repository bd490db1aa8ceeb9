package domain

import "time"

// MaxLineQuantity is the upper bound for any single cart line.
const MaxLineQuantity = 15000

type DocumentType string

const (
	DocumentNone    DocumentType = "none"
	DocumentReceipt DocumentType = "receipt"
	DocumentInvoice DocumentType = "invoice"
)

// NormalizeDocumentType maps stored values (including the legacy spanish
// tags still present in old rows) onto the three known document types.
func NormalizeDocumentType(v string) DocumentType {
	switch v {
	case "receipt", "boleta":
		return DocumentReceipt
	case "invoice", "factura":
		return DocumentInvoice
	default:
		return DocumentNone
	}
}

type CartStatus string

const (
	CartStatusActive  CartStatus = "active"
	CartStatusPending CartStatus = "pending"
)

type PriceTier struct {
	MinQuantity int     `bson:"min_quantity" json:"min_quantity"`
	Price       float64 `bson:"price" json:"price"`
}

// ProductSnapshot is the display data captured when a line is created so the
// cart can render without going back to the catalog.
type ProductSnapshot struct {
	Name             string `bson:"name" json:"name"`
	ImageURL         string `bson:"image_url,omitempty" json:"image_url,omitempty"`
	ThumbnailURL     string `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"`
	SupplierID       string `bson:"supplier_id,omitempty" json:"supplier_id,omitempty"`
	SupplierName     string `bson:"supplier_name,omitempty" json:"supplier_name,omitempty"`
	SupplierVerified bool   `bson:"supplier_verified" json:"supplier_verified"`
	Stock            int    `bson:"stock" json:"stock"`
	MinimumPurchase  int    `bson:"minimum_purchase" json:"minimum_purchase"`
}

type CartLine struct {
	ID           string          `bson:"_id" json:"id"`
	CartID       string          `bson:"cart_id,omitempty" json:"-"`
	ProductID    string          `bson:"product_id" json:"product_id"`
	Quantity     int             `bson:"quantity" json:"quantity"`
	BasePrice    float64         `bson:"price_at_addition" json:"base_price"`
	UnitPrice    float64         `bson:"unit_price" json:"unit_price"`
	PriceTiers   []PriceTier     `bson:"price_tiers,omitempty" json:"price_tiers,omitempty"`
	OfferID      string          `bson:"offer_id,omitempty" json:"offer_id,omitempty"`
	OfferedPrice float64         `bson:"offered_price,omitempty" json:"offered_price,omitempty"`
	DocumentType DocumentType    `bson:"document_type" json:"document_type"`
	Product      ProductSnapshot `bson:"product" json:"product"`
	AddedAt      time.Time       `bson:"added_at" json:"added_at"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updated_at"`
}

// IsOffered reports whether the line was created from a negotiated offer.
func (l CartLine) IsOffered() bool {
	return l.OfferID != "" || l.OfferedPrice > 0
}

// MergesWith tells whether an incoming add for the same product may be folded
// into this line. Offered and regular lines never merge; two offered lines
// merge only when both carry the same offer id.
func (l CartLine) MergesWith(offered bool, offerID string) bool {
	if !offered && !l.IsOffered() {
		return true
	}
	if offered && l.IsOffered() {
		return offerID != "" && l.OfferID != "" && l.OfferID == offerID
	}
	return false
}

// QuantityBounds returns the allowed quantity range for the line.
func (l CartLine) QuantityBounds() (int, int) {
	lo := l.Product.MinimumPurchase
	if lo < 1 {
		lo = 1
	}
	hi := MaxLineQuantity
	if l.Product.Stock > 0 && l.Product.Stock < hi {
		hi = l.Product.Stock
	}
	return lo, hi
}

// LineTotal is the unit price times quantity.
func (l CartLine) LineTotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

type Cart struct {
	ID        string     `bson:"_id" json:"id"`
	UserID    string     `bson:"user_id" json:"user_id"`
	Status    CartStatus `bson:"status" json:"status"`
	Lines     []CartLine `bson:"-" json:"lines"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// CloneLines returns a deep copy of lines so snapshots never alias live state.
func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	out := make([]CartLine, len(lines))
	for i, l := range lines {
		out[i] = l
		if l.PriceTiers != nil {
			out[i].PriceTiers = append([]PriceTier(nil), l.PriceTiers...)
		}
	}
	return out
}
