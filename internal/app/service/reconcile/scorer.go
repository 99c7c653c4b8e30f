package reconcile

import (
	"strings"

	"github.com/pulsetel/simhub/pkg/types"
)

// zeroLikeValues are the placeholder forms the vendors emit for bundles
// that have never passed traffic. A usage field carrying one of these is
// present but uninformative, so it earns no usage points. Keys are
// uppercase; comparison ignores case and surrounding whitespace.
var zeroLikeValues = map[string]struct{}{
	"":     {},
	"0":    {},
	"0.0":  {},
	"0 GB": {},
	"0 MB": {},
	"N/A":  {},
}

func usableUsage(v *string) bool {
	if v == nil {
		return false
	}
	_, zero := zeroLikeValues[strings.ToUpper(strings.TrimSpace(*v))]
	return !zero
}

// Score rates how complete a provider record is: 50 points each for a
// usable consumed and remaining value, 30 for the record existing at all,
// 20 for an active-like status. The ceiling is 150.
func Score(rec *types.ProviderRecord) int {
	if rec == nil {
		return 0
	}
	score := 30
	if usableUsage(rec.DataConsumed) {
		score += 50
	}
	if usableUsage(rec.DataRemaining) {
		score += 50
	}
	if rec.ActivationStatus.ActiveLike() {
		score += 20
	}
	return score
}
