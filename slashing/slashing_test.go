// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package slashing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/address"
)

func idWithByte(b byte) address.ID {
	var id address.ID
	id[0] = b
	return id
}

func TestApplyDoubleSigningTakesHalfBond(t *testing.T) {
	v, err := Apply(idWithByte(1), OffenseDoubleSigning, 1_000_000, 10, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), v.PenaltyMicroIPN)
	require.Equal(t, uint64(500_000), v.BondAfter)
	require.Equal(t, uint64(10+CooldownRounds), v.SelectionBanUntil)
}

func TestApplyInvalidProposalTakesTenPercent(t *testing.T) {
	v, err := Apply(idWithByte(1), OffenseInvalidProposal, 1_000_000, 10, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000), v.PenaltyMicroIPN)
}

func TestApplyExtendedDowntimeCapsAt25Percent(t *testing.T) {
	v, err := Apply(idWithByte(1), OffenseExtendedDowntime, 1_000_000, 10, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(250_000), v.PenaltyMicroIPN)
}

func TestApplyExtendedDowntimeScalesPerRound(t *testing.T) {
	v, err := Apply(idWithByte(1), OffenseExtendedDowntime, 1_000_000, 10, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(50_000), v.PenaltyMicroIPN)
}

func TestApplyRemovesValidatorBelowMinimumBond(t *testing.T) {
	v, err := Apply(idWithByte(1), OffenseDoubleSigning, MinimumBondMicroIPN+1, 0, 0)
	require.NoError(t, err)
	require.True(t, v.RemovedFromSet)
}

func TestApplyUnknownOffense(t *testing.T) {
	_, err := Apply(idWithByte(1), Offense(99), 1_000_000, 0, 0)
	require.ErrorIs(t, err, ErrUnknownOffense)
}

func TestIsExtendedDowntime(t *testing.T) {
	require.True(t, IsExtendedDowntime(400_000, 50))
	require.False(t, IsExtendedDowntime(400_000, 49))
	require.False(t, IsExtendedDowntime(600_000, 50))
}
