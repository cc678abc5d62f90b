package lms

import (
	"math"

	"github.com/coursekit/coursekit-lms/internal/docstore"
)

// RoundPercent computes round(score/total*100), 0 when total is 0 or
// negative. All percent math in the system funnels through here.
func RoundPercent(score, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(score / total * 100)
}

// ClampPercent bounds a percent to [0,100].
func ClampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ResolveLegacyNumeric reads the first present numeric field from an ordered
// list of legacy names, isolating scoring logic from schema drift on old
// documents.
func ResolveLegacyNumeric(f docstore.Fields, names ...string) (float64, bool) {
	for _, name := range names {
		v, ok := docstore.FieldAt(f, name)
		if !ok {
			continue
		}
		if n, ok := docstore.AsFloat(v); ok {
			return n, true
		}
	}
	return 0, false
}
