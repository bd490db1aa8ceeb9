package quantity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fjod/cartsync/internal/domain"
)

const (
	Min = 1
	Max = domain.MaxLineQuantity
)

var (
	// ErrNotNumeric is returned alongside the fallback quantity of 1.
	ErrNotNumeric = errors.New("quantity is not numeric")
	// ErrOutOfRange marks storage-level overflow of a quantity column.
	ErrOutOfRange = errors.New("quantity out of range for type integer")
)

// overflowMarkers are fragments of the messages remote stores produce when a
// quantity does not fit the column type.
var overflowMarkers = []string{
	"out of range for type integer",
	"out of range",
	"numeric field overflow",
	"integer overflow",
	"value too large",
}

// Clamp bounds q to [lo, hi]. A non-positive hi means no upper bound besides Max.
func Clamp(q, lo, hi int) int {
	if lo < Min {
		lo = Min
	}
	if hi <= 0 || hi > Max {
		hi = Max
	}
	if lo > hi {
		lo = hi
	}
	if q < lo {
		return lo
	}
	if q > hi {
		return hi
	}
	return q
}

// Validate bounds q to the global [Min, Max] range.
func Validate(q int) int {
	return Clamp(q, Min, Max)
}

// Parse validates raw user input. Non-numeric input yields Min together with
// ErrNotNumeric so callers can warn without failing.
func Parse(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		return Validate(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Min, fmt.Errorf("%w: %q", ErrNotNumeric, raw)
	}
	return fromFloat(f, raw)
}

// FromAny revalidates a value decoded from storage or a remote payload.
func FromAny(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return Validate(t), nil
	case int32:
		return Validate(int(t)), nil
	case int64:
		if t > int64(Max) {
			return Max, nil
		}
		return Validate(int(t)), nil
	case float64:
		return fromFloat(t, t)
	case json.Number:
		return Parse(t.String())
	case string:
		return Parse(t)
	default:
		return Min, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}

func fromFloat(f float64, raw any) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Min, fmt.Errorf("%w: %v", ErrNotNumeric, raw)
	}
	if f >= float64(Max) {
		return Max, nil
	}
	return Validate(int(math.Floor(f))), nil
}

// IsQuantityError reports whether err is a storage overflow on a quantity.
func IsQuantityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfRange) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range overflowMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
