package bundlematch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/provider"
	"github.com/pulsetel/simhub/pkg/logctx"
)

// ErrNoMatch means the catalogue holds no bundle for the plan. Terminal:
// callers surface it, they do not retry with looser criteria.
var ErrNoMatch = errors.New("bundlematch: no catalogue bundle matches plan")

var (
	dataPattern = regexp.MustCompile(`(?i)(\d+)\s*GB`)
	daysPattern = regexp.MustCompile(`(?i)(\d+)\s*Day`)
	// countryPattern picks the first comma-delimited word run out of a
	// label such as "eSIM, 1GB, 7 Days, Turkey, V2".
	countryPattern = regexp.MustCompile(`,\s*([A-Za-z\s]+?)\s*,`)
)

// Catalog is the searchable bundle inventory, implemented by the
// travelroam client.
type Catalog interface {
	SearchCatalogue(ctx context.Context, countries, description string) ([]provider.CatalogueBundle, error)
}

// Matcher resolves a renewal plan label to a purchasable catalogue bundle
// id.
type Matcher interface {
	// FindBundle returns the first catalogue bundle matching the plan
	// label, or ErrNoMatch. countryCode is an optional ISO code that
	// scopes the catalogue and tightens the id match.
	FindBundle(ctx context.Context, planLabel, countryCode string) (string, error)
}

type matcher struct {
	catalog Catalog
	log     *zap.SugaredLogger
}

func NewMatcher(catalog Catalog, l *zap.SugaredLogger) Matcher {
	return &matcher{catalog: catalog, log: l}
}

// FindBundle extracts the data amount and duration tokens from the plan
// label, scopes the catalogue by country code when one is supplied (by
// data-amount description search otherwise), and scans it in order. Per
// bundle, an exact description match is tried before the token match on
// the bundle id; the first hit of either kind wins.
func (m *matcher) FindBundle(ctx context.Context, planLabel, countryCode string) (string, error) {
	log := logctx.FromCtx(ctx, m.log)

	plan := strings.ToLower(strings.TrimSpace(planLabel))
	if plan == "" {
		log.Warnw("bundle match requested with empty plan label")
		return "", ErrNoMatch
	}

	dataToken := firstGroup(dataPattern, planLabel)
	daysToken := firstGroup(daysPattern, planLabel)
	countryName := ""
	if countryCode == "" {
		countryName = firstGroup(countryPattern, planLabel)
	}
	log.Infow("searching catalogue for renewal bundle",
		"plan", planLabel, "data_gb", dataToken, "days", daysToken,
		"country_code", countryCode, "country_name", countryName)

	var (
		bundles []provider.CatalogueBundle
		err     error
	)
	if countryCode != "" {
		bundles, err = m.catalog.SearchCatalogue(ctx, countryCode, "")
	} else {
		search := ""
		if dataToken != "" {
			search = dataToken + "GB"
		}
		bundles, err = m.catalog.SearchCatalogue(ctx, "", search)
	}
	if err != nil {
		return "", fmt.Errorf("catalogue search: %w", err)
	}

	for _, b := range bundles {
		desc := strings.ToLower(strings.TrimSpace(b.Description))
		if desc != "" && (strings.Contains(desc, plan) || strings.Contains(plan, desc)) {
			log.Infow("matched bundle by description", "bundle", b.ID, "description", b.Description)
			return b.ID, nil
		}
		id := strings.ToLower(b.ID)
		matchData := dataToken != "" && strings.Contains(id, dataToken+"gb")
		matchDays := daysToken != "" && strings.Contains(id, daysToken+"d")
		matchCountry := countryCode == "" || strings.Contains(id, strings.ToLower(countryCode))
		if matchData && matchDays && matchCountry {
			log.Infow("matched bundle by tokens", "bundle", b.ID)
			return b.ID, nil
		}
	}

	log.Warnw("no catalogue bundle matches plan", "plan", planLabel, "country_code", countryCode)
	return "", ErrNoMatch
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
