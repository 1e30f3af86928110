// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package roundchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/hashtimer"
)

func blockID(b byte) dag.BlockID {
	var id dag.BlockID
	id[0] = b
	return id
}

func makeBlock(id dag.BlockID, round uint64, timeUs int64, parents ...dag.BlockID) dag.Block {
	return dag.Block{
		Header: dag.Header{
			ID:        id,
			Round:     round,
			HashTimer: hashtimer.HashTimer{TimeUs: timeUs},
			ParentIDs: parents,
		},
	}
}

func TestAttestationThreshold(t *testing.T) {
	// K=3 -> ceil(7/3) = 3; K=5 -> ceil(11/3) = 4.
	require.Equal(t, 3, AttestationThreshold(3))
	require.Equal(t, 4, AttestationThreshold(5))
}

func TestWindowClosedOnTimeout(t *testing.T) {
	w := Window{Number: 1, StartUs: 1000, DurationUs: 200_000}
	require.False(t, w.Closed(1000+199_999, false))
	require.True(t, w.Closed(1000+200_000, false))
}

func TestWindowClosedOnNextRoundBlock(t *testing.T) {
	w := Window{Number: 1, StartUs: 1000, DurationUs: 200_000}
	require.True(t, w.Closed(1001, true))
}

func TestRecordAttestationDeduplicatesVerifier(t *testing.T) {
	d := dag.New(100)
	tr := NewTracker(d, 3)

	id := blockID(1)
	var v [32]byte
	v[0] = 7
	tr.RecordAttestation(Attestation{BlockID: id, Verifier: v, Valid: true})
	tr.RecordAttestation(Attestation{BlockID: id, Verifier: v, Valid: true})
	require.Equal(t, 1, tr.AttestationCount(id))
}

func TestMeetsQuorum(t *testing.T) {
	d := dag.New(100)
	tr := NewTracker(d, 3) // threshold = 3

	id := blockID(1)
	for i := 0; i < 2; i++ {
		var v [32]byte
		v[0] = byte(i + 1)
		tr.RecordAttestation(Attestation{BlockID: id, Verifier: v, Valid: true})
	}
	require.False(t, tr.MeetsQuorum(id))

	var v3 [32]byte
	v3[0] = 3
	tr.RecordAttestation(Attestation{BlockID: id, Verifier: v3, Valid: true})
	require.True(t, tr.MeetsQuorum(id))
}

// TestFinalityAdvance: append D(round=2, parents=[B]) and E(round=3,
// parents=[D]). After E is admitted, A and B sit two rounds below the tip
// and are finalized.
func TestFinalityAdvance(t *testing.T) {
	d := dag.New(100)
	tr := NewTracker(d, 3)

	a := makeBlock(blockID(0xA), 0, 50)
	require.NoError(t, d.Genesis(a, 0))
	b := makeBlock(blockID(0xB), 1, 100, a.Header.ID)
	require.NoError(t, d.Admit(b, 1000))
	dBlock := makeBlock(blockID(0xD), 2, 200, b.Header.ID)
	require.NoError(t, d.Admit(dBlock, 1000))
	e := makeBlock(blockID(0xE), 3, 300, dBlock.Header.ID)
	require.NoError(t, d.Admit(e, 1000))

	newly, err := tr.Advance()
	require.NoError(t, err)
	require.Contains(t, newly, a.Header.ID)
	require.Contains(t, newly, b.Header.ID)
	require.True(t, tr.IsFinalized(a.Header.ID))
	require.True(t, tr.IsFinalized(b.Header.ID))
}

// Any attempt to admit C' (round=1) that would displace an already
// finalized B must fail with ErrFinalityViolation.
func TestCheckReorgRejectsFinalityViolation(t *testing.T) {
	d := dag.New(100)
	tr := NewTracker(d, 3)

	a := makeBlock(blockID(0xA), 0, 50)
	require.NoError(t, d.Genesis(a, 0))
	b := makeBlock(blockID(0xB), 1, 100, a.Header.ID)
	require.NoError(t, d.Admit(b, 1000))
	dBlock := makeBlock(blockID(0xD), 2, 200, b.Header.ID)
	require.NoError(t, d.Admit(dBlock, 1000))
	e := makeBlock(blockID(0xE), 3, 300, dBlock.Header.ID)
	require.NoError(t, d.Admit(e, 1000))

	_, err := tr.Advance()
	require.NoError(t, err)

	cPrime := makeBlock(blockID(0xC1), 1, 150, a.Header.ID)
	err = tr.CheckReorg(cPrime)
	require.ErrorIs(t, err, ErrFinalityViolation)
}

func TestCheckReorgAllowsNonConflictingBlock(t *testing.T) {
	d := dag.New(100)
	tr := NewTracker(d, 3)

	a := makeBlock(blockID(0xA), 0, 50)
	require.NoError(t, d.Genesis(a, 0))
	b := makeBlock(blockID(0xB), 1, 100, a.Header.ID)
	require.NoError(t, d.Admit(b, 1000))
	dBlock := makeBlock(blockID(0xD), 2, 200, b.Header.ID)
	require.NoError(t, d.Admit(dBlock, 1000))
	e := makeBlock(blockID(0xE), 3, 300, dBlock.Header.ID)
	require.NoError(t, d.Admit(e, 1000))

	_, err := tr.Advance()
	require.NoError(t, err)

	// A new block extending the already-finalized chain, not conflicting
	// with it, must be allowed.
	fBlock := makeBlock(blockID(0xF), 4, 400, e.Header.ID)
	err = tr.CheckReorg(fBlock)
	require.NoError(t, err)
}
