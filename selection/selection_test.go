// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package selection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/telemetry"
)

func idWithByte(b byte) address.ID {
	var id address.ID
	id[0] = b
	return id
}

func TestSeedDeterministic(t *testing.T) {
	var root [32]byte
	s1 := Seed(42, root)
	s2 := Seed(42, root)
	require.Equal(t, s1, s2)

	s3 := Seed(43, root)
	require.NotEqual(t, s1, s3)
}

// TestSelectDeterministic: five validators with
// reputations [8000,7000,6000,5000,4000], round=42, prev_state_root all
// zero, K=3 (one primary, two shadows). The outcome must be stable across
// repeated calls with identical inputs.
func TestSelectDeterministic(t *testing.T) {
	candidates := []Candidate{
		{ID: idWithByte(1), ReputationScaled: 8000},
		{ID: idWithByte(2), ReputationScaled: 7000},
		{ID: idWithByte(3), ReputationScaled: 6000},
		{ID: idWithByte(4), ReputationScaled: 5000},
		{ID: idWithByte(5), ReputationScaled: 4000},
	}
	var root [32]byte

	sel1, err := Select(42, root, candidates, 2, DefaultMinReputationScaled)
	require.NoError(t, err)
	sel2, err := Select(42, root, candidates, 2, DefaultMinReputationScaled)
	require.NoError(t, err)

	require.Equal(t, sel1.Primary, sel2.Primary)
	require.Equal(t, sel1.Shadows, sel2.Shadows)
	require.Len(t, sel1.Shadows, 2)
	require.NotEqual(t, sel1.Primary, sel1.Shadows[0])
	require.NotEqual(t, sel1.Primary, sel1.Shadows[1])
}

func TestSelectRetriesOnInsufficientEligible(t *testing.T) {
	candidates := []Candidate{
		{ID: idWithByte(1), ReputationScaled: 2900},
		{ID: idWithByte(2), ReputationScaled: 2800},
		{ID: idWithByte(3), ReputationScaled: 2700},
	}
	var root [32]byte

	sel, err := Select(1, root, candidates, 2, DefaultMinReputationScaled)
	require.NoError(t, err)
	require.Greater(t, sel.Proof.RetriesUsed, 0)
	require.LessOrEqual(t, sel.Proof.EffectiveMinRep, int64(DefaultMinReputationScaled))
}

func TestSelectFailsAfterMaxRetries(t *testing.T) {
	candidates := []Candidate{
		{ID: idWithByte(1), ReputationScaled: 100},
	}
	var root [32]byte

	_, err := Select(1, root, candidates, 2, DefaultMinReputationScaled)
	require.ErrorIs(t, err, ErrSelectionFailed)
}

func TestVerifySelectionRoundTrips(t *testing.T) {
	candidates := []Candidate{
		{ID: idWithByte(1), ReputationScaled: 8000},
		{ID: idWithByte(2), ReputationScaled: 7000},
		{ID: idWithByte(3), ReputationScaled: 6000},
		{ID: idWithByte(4), ReputationScaled: 5000},
	}
	var root [32]byte

	sel, err := Select(7, root, candidates, 1, DefaultMinReputationScaled)
	require.NoError(t, err)

	err = VerifySelection(candidates, 1, sel.Proof)
	require.NoError(t, err)
}

func TestVerifySelectionDetectsTamperedPrimary(t *testing.T) {
	candidates := []Candidate{
		{ID: idWithByte(1), ReputationScaled: 8000},
		{ID: idWithByte(2), ReputationScaled: 7000},
		{ID: idWithByte(3), ReputationScaled: 6000},
	}
	var root [32]byte

	sel, err := Select(7, root, candidates, 1, DefaultMinReputationScaled)
	require.NoError(t, err)

	tampered := sel.Proof
	tampered.Primary = idWithByte(99)
	err = VerifySelection(candidates, 1, tampered)
	require.Error(t, err)
}

// Over 1200 rounds with 30 equal-reputation validators, no validator may be
// chosen primary more than 3x the average rate.
func TestSelectFairnessOverManyRounds(t *testing.T) {
	const nValidators = 30
	const nRounds = 1200

	candidates := make([]Candidate, 0, nValidators)
	for i := 0; i < nValidators; i++ {
		candidates = append(candidates, Candidate{ID: idWithByte(byte(i + 1)), ReputationScaled: 5000})
	}

	primaries := make(map[address.ID]int, nValidators)
	var root [32]byte
	for round := uint64(0); round < nRounds; round++ {
		sel, err := Select(round, root, candidates, 2, DefaultMinReputationScaled)
		require.NoError(t, err)
		primaries[sel.Primary]++
	}

	maxCount := 0
	for _, c := range primaries {
		if c > maxCount {
			maxCount = c
		}
	}
	avg := float64(nRounds) / float64(nValidators)
	require.LessOrEqual(t, float64(maxCount)/avg, 3.0)
}

func flatModel(leafVal int64) gbdt.Model {
	v := leafVal
	return gbdt.Model{
		Scale:     1000,
		PostScale: 10_000,
		Trees: []gbdt.Tree{
			{Weight: 1000, Nodes: []gbdt.Node{{ID: 0, Leaf: &v}}},
		},
	}
}

func TestExtractCandidatesSortedByID(t *testing.T) {
	model := flatModel(5000)
	features := map[address.ID]telemetry.Features{
		idWithByte(3): {},
		idWithByte(1): {},
		idWithByte(2): {},
	}

	candidates, err := ExtractCandidates(model, features)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	require.Equal(t, idWithByte(1), candidates[0].ID)
	require.Equal(t, idWithByte(2), candidates[1].ID)
	require.Equal(t, idWithByte(3), candidates[2].ID)
	// Leaf 5000 on Scale 1000: 5000*10_000/1000 clamps to 10_000.
	for _, c := range candidates {
		require.Equal(t, int64(10_000), c.ReputationScaled)
	}
}
