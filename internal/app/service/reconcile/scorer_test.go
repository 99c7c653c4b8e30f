package reconcile

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/pulsetel/simhub/pkg/types"
)

func TestScore_NilRecordIsZero(t *testing.T) {
	require.Equal(t, 0, Score(nil))
}

func TestScore_PresenceAlone(t *testing.T) {
	rec := &types.ProviderRecord{Provider: types.ProviderAirhub, ICCID: "8988"}
	require.Equal(t, 30, Score(rec))
}

func TestScore_FullRecordHitsCeiling(t *testing.T) {
	rec := &types.ProviderRecord{
		Provider:         types.ProviderESIMCard,
		ICCID:            "8988",
		ActivationStatus: types.ActivationStatusActive,
		DataConsumed:     lo.ToPtr("0.50 GB"),
		DataRemaining:    lo.ToPtr("4.50 GB"),
	}
	require.Equal(t, 150, Score(rec))
}

func TestScore_ZeroLikeUsageEarnsNoUsagePoints(t *testing.T) {
	for _, v := range []string{"", "0", "0.0", "0 GB", "0 MB", "N/A", " 0 gb "} {
		rec := &types.ProviderRecord{
			Provider:      types.ProviderAirhub,
			DataConsumed:  lo.ToPtr(v),
			DataRemaining: lo.ToPtr(v),
		}
		require.Equal(t, 30, Score(rec), "value %q should be zero-like", v)
	}
}

func TestScore_ActiveLikeStatuses(t *testing.T) {
	for status, want := range map[types.ActivationStatus]int{
		types.ActivationStatusActive:    50,
		types.ActivationStatusEnabled:   50,
		types.ActivationStatusInstalled: 50,
		types.ActivationStatusInactive:  30,
		types.ActivationStatusExpired:   30,
		types.ActivationStatusUnknown:   30,
	} {
		rec := &types.ProviderRecord{ActivationStatus: status}
		require.Equal(t, want, Score(rec), "status %s", status)
	}
}

// Filling in a real usage value must strictly raise the score, everything
// else held fixed.
func TestScore_StrictlyIncreasingInUsage(t *testing.T) {
	base := &types.ProviderRecord{
		Provider:         types.ProviderTravelRoam,
		ActivationStatus: types.ActivationStatusActive,
		DataConsumed:     lo.ToPtr("0 GB"),
		DataRemaining:    lo.ToPtr("0 GB"),
	}
	withConsumed := *base
	withConsumed.DataConsumed = lo.ToPtr("1.00 GB")
	withBoth := withConsumed
	withBoth.DataRemaining = lo.ToPtr("2.00 GB")

	require.Greater(t, Score(&withConsumed), Score(base))
	require.Greater(t, Score(&withBoth), Score(&withConsumed))
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	recs := []*types.ProviderRecord{
		nil,
		{},
		{ActivationStatus: types.ActivationStatusEnabled},
		{DataConsumed: lo.ToPtr("123.45 GB"), DataRemaining: lo.ToPtr("6.78 GB"), ActivationStatus: types.ActivationStatusInstalled},
	}
	for _, rec := range recs {
		s := Score(rec)
		require.GreaterOrEqual(t, s, 0)
		require.LessOrEqual(t, s, 150)
	}
}
