package reconcile

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetel/simhub/pkg/types"
)

const bytesPerGB = 1024 * 1024 * 1024

// genericAPNs are placeholder access point names. A network-derived value
// is allowed to displace these, nothing else.
var genericAPNs = map[string]struct{}{
	"n/a":       {},
	"internet":  {},
	"wholesale": {},
}

var validityDaysPattern = regexp.MustCompile(`(\d+)\s*Days?`)

// Merger folds per-provider records into one MergedRecord. Precedence is
// positional: airhub seeds the view, esimcard and travelroam apply on top
// of it, in that order. The default rule is fill-if-empty; esimcard and
// travelroam each carry a small set of override exceptions, see the apply
// methods.
type Merger struct {
	log *zap.SugaredLogger
	now func() time.Time
}

func NewMerger(l *zap.SugaredLogger) *Merger {
	return &Merger{log: l, now: time.Now}
}

// Merge combines the found records for one ICCID. Absent providers simply
// contribute nothing; callers guarantee at least one record is present.
// PrimaryProvider is left unset, selection belongs to the coordinator.
func (m *Merger) Merge(iccid string, records map[types.Provider]*types.ProviderRecord) *types.MergedRecord {
	merged := &types.MergedRecord{ICCID: iccid}
	for _, p := range types.AllProviders {
		rec := records[p]
		if rec == nil {
			continue
		}
		switch p {
		case types.ProviderAirhub:
			m.applyAirhub(merged, rec)
		case types.ProviderESIMCard:
			m.applyESIMCard(merged, rec)
		case types.ProviderTravelRoam:
			m.applyTravelRoam(merged, rec)
		}
		merged.DataSources = append(merged.DataSources, p.DisplayName())
	}
	m.applyExpiry(merged)
	if merged.ActivationStatus == "" {
		merged.ActivationStatus = types.ActivationStatusUnknown
	}
	return merged
}

func (m *Merger) applyAirhub(merged *types.MergedRecord, rec *types.ProviderRecord) {
	m.fillCommon(merged, rec)
	fillPtr(&merged.DataCapacity, rec.DataCapacity)
	fillPtr(&merged.DataConsumed, rec.DataConsumed)
	fillPtr(&merged.DataRemaining, rec.DataRemaining)
}

// applyESIMCard layers the inventory provider on top of the merged view.
// Its capacity replaces the merged one whenever present, and consumed and
// remaining replace as a pair when both are supplied. Its status wins
// whenever it disagrees. Validity still unset after the fill is parsed
// out of the esimcard plan label.
func (m *Merger) applyESIMCard(merged *types.MergedRecord, rec *types.ProviderRecord) {
	m.fillCommon(merged, rec)
	if rec.DataCapacity != nil {
		merged.DataCapacity = rec.DataCapacity
	}
	fillPtr(&merged.DataConsumed, rec.DataConsumed)
	fillPtr(&merged.DataRemaining, rec.DataRemaining)
	if rec.DataConsumed != nil && rec.DataRemaining != nil {
		merged.DataConsumed = rec.DataConsumed
		merged.DataRemaining = rec.DataRemaining
	}
	if statusKnown(rec.ActivationStatus) && rec.ActivationStatus != merged.ActivationStatus {
		merged.ActivationStatus = rec.ActivationStatus
	}
	if merged.ValidityDays == nil {
		if n, ok := parseValidityDays(rec.PlanLabel); ok {
			merged.ValidityDays = &n
		}
	}
}

// applyTravelRoam layers the bundle provider on top of the merged view.
// Its usage arrives as raw byte counts and never lands verbatim:
// quantities are converted to GB (two decimals) before any arithmetic,
// consumed is recomputed as initial-remaining clamped at zero, and the
// trio only lands when the merged view still has no consumption numbers.
// Validity still unset falls back to the bundle window. A network-derived
// APN displaces generic placeholders.
func (m *Merger) applyTravelRoam(merged *types.MergedRecord, rec *types.ProviderRecord) {
	m.fillCommon(merged, rec)
	if merged.DataConsumed == nil || merged.DataRemaining == nil {
		if initial, ok := parseByteQuantity(rec.DataCapacity); ok && initial > 0 {
			remaining, _ := parseByteQuantity(rec.DataRemaining)
			initialGB := roundGB(initial / bytesPerGB)
			remainingGB := roundGB(remaining / bytesPerGB)
			consumedGB := initialGB - remainingGB
			if consumedGB < 0 {
				m.log.Warnw("remaining exceeds bundle capacity, clamping consumed to zero",
					"iccid", merged.ICCID, "initial_gb", initialGB, "remaining_gb", remainingGB)
				consumedGB = 0
			}
			capacity := fmt.Sprintf("%.2f GB", initialGB)
			consumed := fmt.Sprintf("%.2f GB", consumedGB)
			left := fmt.Sprintf("%.2f GB", remainingGB)
			merged.DataCapacity = &capacity
			merged.DataConsumed = &consumed
			merged.DataRemaining = &left
		}
	}
	if merged.ValidityDays == nil && rec.BundleStartTime != nil && rec.BundleEndTime != nil {
		if days := int(rec.BundleEndTime.Sub(*rec.BundleStartTime).Hours() / 24); days > 0 {
			merged.ValidityDays = &days
		}
	}
	if rec.AccessPointName != nil && apnReplaceable(merged.AccessPointName) {
		merged.AccessPointName = rec.AccessPointName
	}
}

// fillCommon is the fill-if-empty pass for everything except the usage
// counters, which each provider phase handles itself.
func (m *Merger) fillCommon(merged *types.MergedRecord, rec *types.ProviderRecord) {
	if merged.ExternalID == "" {
		merged.ExternalID = rec.ExternalID
	}
	if merged.PlanLabel == "" {
		merged.PlanLabel = rec.PlanLabel
	}
	if !statusKnown(merged.ActivationStatus) && statusKnown(rec.ActivationStatus) {
		merged.ActivationStatus = rec.ActivationStatus
	}
	fillPtr(&merged.PurchaseTime, rec.PurchaseTime)
	fillPtr(&merged.ValidityDays, rec.ValidityDays)
	fillPtr(&merged.ActivationCode, rec.ActivationCode)
	fillPtr(&merged.AccessPointName, rec.AccessPointName)
	fillPtr(&merged.BundleStartTime, rec.BundleStartTime)
	fillPtr(&merged.BundleEndTime, rec.BundleEndTime)
}

// applyExpiry forces the status to Expired once the bundle window has
// closed, regardless of what any provider still reports.
func (m *Merger) applyExpiry(merged *types.MergedRecord) {
	if merged.BundleEndTime == nil {
		return
	}
	if m.now().After(*merged.BundleEndTime) {
		merged.ActivationStatus = types.ActivationStatusExpired
	}
}

func statusKnown(s types.ActivationStatus) bool {
	return s != "" && s != types.ActivationStatusUnknown
}

func apnReplaceable(apn *string) bool {
	if apn == nil {
		return true
	}
	_, generic := genericAPNs[strings.ToLower(strings.TrimSpace(*apn))]
	return generic
}

func fillPtr[T any](dst **T, src *T) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

// parseValidityDays extracts the day count from a plan label such as
// "eSIM, 5GB, 30 Days, Turkey".
func parseValidityDays(label string) (int, bool) {
	m := validityDaysPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// parseByteQuantity reads a byte-denominated usage string such as
// "3221225472 B".
func parseByteQuantity(v *string) (float64, bool) {
	if v == nil {
		return 0, false
	}
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(*v), "B"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func roundGB(v float64) float64 {
	return math.Round(v*100) / 100
}
