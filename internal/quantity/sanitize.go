package quantity

import "github.com/fjod/cartsync/internal/domain"

type SanitizeResult struct {
	Valid     []domain.CartLine
	Removed   int
	Corrected int
}

// Sanitize drops lines without an identity or display name and clamps the
// quantity of every surviving line.
func Sanitize(lines []domain.CartLine) SanitizeResult {
	res := SanitizeResult{Valid: make([]domain.CartLine, 0, len(lines))}
	for _, l := range lines {
		if l.ID == "" || l.ProductID == "" || l.Product.Name == "" {
			res.Removed++
			continue
		}
		q := Validate(l.Quantity)
		if q != l.Quantity {
			l.Quantity = q
			res.Corrected++
		}
		res.Valid = append(res.Valid, l)
	}
	return res
}
