package tool

import "strings"

// NormalizeICCID strips spaces and hyphens and lowercases, producing the
// canonical form used to join subscriptions across providers.
func NormalizeICCID(iccid string) string {
	s := strings.ReplaceAll(iccid, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ToLower(s)
}

// ICCIDMatches reports whether two ICCIDs identify the same SIM. Providers
// disagree on formatting and some return truncated or suffixed ids, so the
// comparison is substring-tolerant in either direction after normalization.
func ICCIDMatches(a, b string) bool {
	na, nb := NormalizeICCID(a), NormalizeICCID(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}
