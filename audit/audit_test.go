// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package audit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/emission"
)

func idWithByte(b byte) address.ID {
	var id address.ID
	id[0] = b
	return id
}

func TestShouldCheckpointOnInterval(t *testing.T) {
	require.True(t, ShouldCheckpoint(0, 3_024_000))
	require.True(t, ShouldCheckpoint(3_024_000, 3_024_000))
	require.False(t, ShouldCheckpoint(1, 3_024_000))
	require.False(t, ShouldCheckpoint(100, 0))
}

func TestBuildCheckpointDeterministicRegardlessOfOrder(t *testing.T) {
	distA := []emission.Distribution{
		{Payouts: []emission.Payout{
			{Validator: idWithByte(2), AmountMicroIPN: 100},
			{Validator: idWithByte(1), AmountMicroIPN: 200},
		}},
	}
	distB := []emission.Distribution{
		{Payouts: []emission.Payout{
			{Validator: idWithByte(1), AmountMicroIPN: 200},
			{Validator: idWithByte(2), AmountMicroIPN: 100},
		}},
	}

	c1, err := BuildCheckpoint(10, 5000, distA)
	require.NoError(t, err)
	c2, err := BuildCheckpoint(10, 5000, distB)
	require.NoError(t, err)

	require.Equal(t, c1.Digest, c2.Digest)
}

func TestBuildCheckpointChangesWithAmount(t *testing.T) {
	dist1 := []emission.Distribution{{Payouts: []emission.Payout{{Validator: idWithByte(1), AmountMicroIPN: 100}}}}
	dist2 := []emission.Distribution{{Payouts: []emission.Payout{{Validator: idWithByte(1), AmountMicroIPN: 999}}}}

	c1, err := BuildCheckpoint(10, 5000, dist1)
	require.NoError(t, err)
	c2, err := BuildCheckpoint(10, 5000, dist2)
	require.NoError(t, err)

	require.NotEqual(t, c1.Digest, c2.Digest)
}
