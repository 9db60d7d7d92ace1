package assign

import (
	"errors"
	"unicode/utf16"

	"github.com/adsplit/adsplit/internal/abconfig"
)

var ErrNoVariants = errors.New("no variants to select from")

// buckets is the modulus used to normalize a hash into [0, 1).
const buckets = 10000

// Hash maps a user identifier to a non-negative bucket value. It is a
// rolling hash over the identifier's UTF-16 code units with 32-bit signed
// wraparound, matching the browser tracker bit for bit so that client- and
// server-side assignment land the same user in the same bucket.
func Hash(id string) int64 {
	var h int32
	for _, u := range utf16.Encode([]rune(id)) {
		h = (h << 5) - h + int32(u)
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// Normalize reduces a hash to a value in [0, 1).
func Normalize(hash int64) float64 {
	return float64(hash%buckets) / buckets
}

// Select picks a variant for the given hash by walking cumulative weight
// thresholds in variant order. Weights are normalized by their sum, so they
// need not add up to 1 or 100. The same hash always selects the same
// variant; across many distinct hashes the selection approximates the
// configured weight ratios.
func Select(hash int64, variants []abconfig.Variant) (*abconfig.Variant, error) {
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	var total float64
	for i := range variants {
		total += variants[i].Weight
	}
	if total <= 0 {
		return nil, errors.New("variant weights must sum to a positive total")
	}

	norm := Normalize(hash)

	var cum float64
	for i := range variants {
		cum += variants[i].Weight / total
		if norm < cum {
			return &variants[i], nil
		}
	}

	// Rounding can leave the final threshold a hair under 1.0.
	return &variants[len(variants)-1], nil
}
