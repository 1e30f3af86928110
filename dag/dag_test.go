// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/hashtimer"
)

func blockID(b byte) BlockID {
	var id BlockID
	id[0] = b
	return id
}

func makeBlock(id BlockID, round uint64, timeUs int64, parents ...BlockID) Block {
	return Block{
		Header: Header{
			ID:        id,
			Round:     round,
			HashTimer: hashtimer.HashTimer{TimeUs: timeUs},
			ParentIDs: parents,
		},
	}
}

func TestGenesisIsSoleTip(t *testing.T) {
	d := New(100)
	g := makeBlock(blockID(0), 0, 0)
	require.NoError(t, d.Genesis(g, 0))

	tips := d.Tips()
	require.Len(t, tips, 1)
	require.Equal(t, g.Header.ID, tips[0].ID)
}

func TestAdmitRejectsUnknownParent(t *testing.T) {
	d := New(100)
	b := makeBlock(blockID(1), 1, 100, blockID(9))
	err := d.Admit(b, 0)
	require.ErrorIs(t, err, ErrUnknownParent)
}

func TestAdmitRejectsInvalidParentRound(t *testing.T) {
	d := New(100)
	require.NoError(t, d.Genesis(makeBlock(blockID(0), 0, 0), 0))

	// parent round 0, block round 5: not in {5, 4}.
	b := makeBlock(blockID(1), 5, 100, blockID(0))
	err := d.Admit(b, 0)
	require.ErrorIs(t, err, ErrInvalidParentRound)
}

func TestAdmitRejectsTooManyParents(t *testing.T) {
	d := New(1000)
	require.NoError(t, d.Genesis(makeBlock(blockID(0), 0, 0), 0))

	parents := make([]BlockID, 0, MaxParents+1)
	for i := 0; i < MaxParents+1; i++ {
		parents = append(parents, blockID(0))
	}
	b := makeBlock(blockID(1), 1, 100, parents...)
	err := d.Admit(b, 0)
	require.ErrorIs(t, err, ErrTooManyParents)
}

func TestAdmitUpdatesTipSet(t *testing.T) {
	d := New(100)
	require.NoError(t, d.Genesis(makeBlock(blockID(0), 0, 0), 0))

	b1 := makeBlock(blockID(1), 1, 100, blockID(0))
	b2 := makeBlock(blockID(2), 1, 200, blockID(0))
	require.NoError(t, d.Admit(b1, 0))
	require.NoError(t, d.Admit(b2, 0))

	tips := d.Tips()
	ids := []BlockID{tips[0].ID, tips[1].ID}
	require.Len(t, tips, 2)
	require.Contains(t, ids, b1.Header.ID)
	require.Contains(t, ids, b2.Header.ID)

	// Genesis is no longer a tip once it has children.
	_, isTip := d.tips[blockID(0)]
	require.False(t, isTip)
}

func TestAdmitEnforcesDagOverloaded(t *testing.T) {
	d := New(2) // bound includes genesis
	require.NoError(t, d.Genesis(makeBlock(blockID(0), 0, 0), 0))
	require.NoError(t, d.Admit(makeBlock(blockID(1), 1, 100, blockID(0)), 0))

	err := d.Admit(makeBlock(blockID(2), 1, 200, blockID(0)), 0)
	require.ErrorIs(t, err, ErrDagOverloaded)
}

func TestAdmitRejectsDuplicateBlock(t *testing.T) {
	d := New(100)
	require.NoError(t, d.Genesis(makeBlock(blockID(0), 0, 0), 0))

	b := makeBlock(blockID(1), 1, 100, blockID(0))
	require.NoError(t, d.Admit(b, 0))
	err := d.Admit(b, 0)
	require.ErrorIs(t, err, ErrDuplicateBlock)
}

// TestCanonicalTipSelection: admit B and C at the same round and time with
// different creator weights; the canonical tip is B (tie on time broken by
// higher weight).
func TestCanonicalTipSelection(t *testing.T) {
	d := New(100)
	a := makeBlock(blockID(0xA), 0, 50)
	require.NoError(t, d.Genesis(a, 0))

	bBlock := makeBlock(blockID(0xB), 1, 200, a.Header.ID)
	cBlock := makeBlock(blockID(0xC), 1, 200, a.Header.ID)
	require.NoError(t, d.Admit(bBlock, 7000))
	require.NoError(t, d.Admit(cBlock, 6000))

	tip, ok := d.CanonicalTip()
	require.True(t, ok)
	require.Equal(t, bBlock.Header.ID, tip.ID)
}

func TestCanonicalTipPrefersLowerTime(t *testing.T) {
	d := New(100)
	g := makeBlock(blockID(0), 0, 0)
	require.NoError(t, d.Genesis(g, 0))

	early := makeBlock(blockID(1), 1, 100, g.Header.ID)
	late := makeBlock(blockID(2), 1, 500, g.Header.ID)
	require.NoError(t, d.Admit(early, 1000))
	require.NoError(t, d.Admit(late, 9999))

	tip, ok := d.CanonicalTip()
	require.True(t, ok)
	require.Equal(t, early.Header.ID, tip.ID)
}

func TestChildrenSortedLexicographically(t *testing.T) {
	d := New(100)
	g := makeBlock(blockID(0), 0, 0)
	require.NoError(t, d.Genesis(g, 0))

	require.NoError(t, d.Admit(makeBlock(blockID(9), 1, 100, g.Header.ID), 0))
	require.NoError(t, d.Admit(makeBlock(blockID(1), 1, 200, g.Header.ID), 0))

	children := d.Children(g.Header.ID)
	require.Len(t, children, 2)
	require.Equal(t, blockID(1), children[0])
	require.Equal(t, blockID(9), children[1])
}

func TestNoParentsRejected(t *testing.T) {
	d := New(100)
	b := makeBlock(blockID(1), 1, 100)
	err := d.Admit(b, 0)
	require.ErrorIs(t, err, ErrNoParents)
}

// Admission must block at the pending bound and come back once
// finalization retires blocks from the pending set.
func TestFinalizeDrainsPendingAndReopensAdmission(t *testing.T) {
	d := New(3)
	g := makeBlock(blockID(0), 0, 0)
	require.NoError(t, d.Genesis(g, 0))
	b1 := makeBlock(blockID(1), 1, 100, blockID(0))
	require.NoError(t, d.Admit(b1, 0))
	b2 := makeBlock(blockID(2), 2, 200, blockID(1))
	require.NoError(t, d.Admit(b2, 0))

	blocked := makeBlock(blockID(3), 2, 300, blockID(1))
	require.ErrorIs(t, d.Admit(blocked, 0), ErrDagOverloaded)

	d.Finalize([]BlockID{blockID(0), blockID(1)})
	require.Equal(t, 1, d.PendingCount())

	next := makeBlock(blockID(4), 3, 300, blockID(2))
	require.NoError(t, d.Admit(next, 0))

	// Retiring an unknown id is a no-op, not a fault.
	d.Finalize([]BlockID{blockID(0xEE)})
}

func TestConcurrentAdmitIsSafe(t *testing.T) {
	d := New(1000)
	g := makeBlock(blockID(0), 0, 0)
	require.NoError(t, d.Genesis(g, 0))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var id BlockID
			id[0] = byte(i)
			id[1] = byte(i >> 8)
			_ = d.Admit(makeBlock(id, 1, int64(i), g.Header.ID), Weight(i))
		}(i)
	}
	wg.Wait()

	require.GreaterOrEqual(t, d.PendingCount(), 1)
	require.Greater(t, d.TipCount(), 0)
}
