// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package selection implements deterministic verifier selection (VRNG):
// a weighted-random draw of primary and shadow verifiers seeded from a
// public, replayable entropy source.
package selection

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/set"
	"github.com/ippan/dlc/telemetry"
)

var (
	ErrNoEligibleValidators = errors.New("selection: no eligible validators")
	ErrSelectionFailed      = errors.New("selection: failed after retry backoff")
)

// entropyDomain is the domain-separation prefix for the VRNG seed:
// BLAKE3("DLC_VERIFIER_SELECTION" || LE64(round) || prev_state_root).
const entropyDomain = "DLC_VERIFIER_SELECTION"

// DefaultMinReputationScaled is the default reputation floor, expressed on
// the D-GBDT selection scale [0, 10_000].
const DefaultMinReputationScaled = 3000

// ReputationStepDown is how much the floor drops per retry when too few
// validators clear it.
const ReputationStepDown = 500

// MaxRetries bounds the floor-lowering retry loop.
const MaxRetries = 3

// Candidate is one validator's input to a selection round: its identity and
// its pre-computed D-GBDT selection score.
type Candidate struct {
	ID               address.ID
	ReputationScaled int64 // [0, 10_000], from gbdt.Model.ScoreSelection
}

// Proof is the replayable selection proof: enough to let any verifier
// recompute and confirm the outcome.
type Proof struct {
	Round            uint64
	PrevStateRoot    [32]byte
	Entropy          [32]byte
	EligibleCount    int
	RetriesUsed      int
	EffectiveMinRep  int64
	Primary          address.ID
	Shadows          []address.ID
}

// Selection is the resolved outcome of a verifier-selection round.
type Selection struct {
	Primary address.ID
	Shadows []address.ID
	Proof   Proof
}

// Seed computes the deterministic VRNG entropy for (round, prevStateRoot).
func Seed(round uint64, prevStateRoot [32]byte) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(entropyDomain)
	buf.Write(canon.LE64(round))
	buf.Write(prevStateRoot[:])
	return canon.HashBytes(buf.Bytes())
}

// ExtractCandidates scores each validator's telemetry.Features through the
// pinned D-GBDT model, producing the Candidate list Select consumes.
// Candidates are returned sorted by ID ascending for deterministic input
// ordering regardless of caller iteration order.
func ExtractCandidates(model gbdt.Model, features map[address.ID]telemetry.Features) ([]Candidate, error) {
	idSet := set.Of[address.ID]()
	for id := range features {
		idSet.Add(id)
	}
	ids := set.SortedList(idSet, address.Less)

	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		f := features[id]
		score, err := model.ScoreSelection(f[:])
		if err != nil {
			return nil, fmt.Errorf("selection: scoring %x: %w", id, err)
		}
		out = append(out, Candidate{ID: id, ReputationScaled: score})
	}
	return out, nil
}

// Select performs the deterministic verifier draw for a round: one primary
// plus shadowCount shadow verifiers, weighted by reputation score, retrying
// with a lowered reputation floor up to MaxRetries times if too few
// validators clear the bar.
//
// candidates MUST already be sorted by ID ascending (ExtractCandidates does
// this); Select does not re-sort defensively so callers cannot silently
// depend on map iteration order upstream of it.
func Select(round uint64, prevStateRoot [32]byte, candidates []Candidate, shadowCount int, minReputationScaled int64) (Selection, error) {
	entropy := Seed(round, prevStateRoot)

	minRep := minReputationScaled
	var eligible []Candidate
	retries := 0
	for {
		eligible = eligible[:0]
		for _, c := range candidates {
			if c.ReputationScaled >= minRep {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) >= 1+shadowCount {
			break
		}
		if retries >= MaxRetries {
			return Selection{}, fmt.Errorf("%w: round=%d eligible=%d need=%d after %d retries",
				ErrSelectionFailed, round, len(eligible), 1+shadowCount, retries)
		}
		minRep -= ReputationStepDown
		if minRep < 0 {
			minRep = 0
		}
		retries++
	}

	if len(eligible) == 0 {
		return Selection{}, ErrNoEligibleValidators
	}

	drawn, err := weightedDrawWithoutReplacement(entropy, eligible, 1+shadowCount)
	if err != nil {
		return Selection{}, err
	}

	sel := Selection{
		Primary: drawn[0].ID,
		Shadows: make([]address.ID, 0, len(drawn)-1),
		Proof: Proof{
			Round:           round,
			PrevStateRoot:   prevStateRoot,
			Entropy:         entropy,
			EligibleCount:   len(eligible),
			RetriesUsed:     retries,
			EffectiveMinRep: minRep,
			Primary:         drawn[0].ID,
		},
	}
	for _, c := range drawn[1:] {
		sel.Shadows = append(sel.Shadows, c.ID)
	}
	sel.Proof.Shadows = sel.Shadows
	return sel, nil
}

// VerifySelection replays Select against the recorded proof and reports
// whether the outcome matches, letting any node independently confirm a
// peer-announced selection.
func VerifySelection(candidates []Candidate, shadowCount int, proof Proof) error {
	sel, err := Select(proof.Round, proof.PrevStateRoot, candidates, shadowCount, proof.EffectiveMinRep+int64(proof.RetriesUsed)*ReputationStepDown)
	if err != nil {
		return err
	}
	if sel.Proof.Entropy != proof.Entropy {
		return fmt.Errorf("selection: entropy mismatch")
	}
	if sel.Primary != proof.Primary {
		return fmt.Errorf("selection: primary mismatch: got %x want %x", sel.Primary, proof.Primary)
	}
	if len(sel.Shadows) != len(proof.Shadows) {
		return fmt.Errorf("selection: shadow count mismatch")
	}
	for i := range sel.Shadows {
		if sel.Shadows[i] != proof.Shadows[i] {
			return fmt.Errorf("selection: shadow[%d] mismatch", i)
		}
	}
	return nil
}

// weightedDrawWithoutReplacement draws n distinct candidates using weighted
// sampling keyed by reputation score, consuming a ChaCha20-derived
// deterministic stream seeded by entropy. Ties in weight break on ID
// ascending, never iteration order.
func weightedDrawWithoutReplacement(entropy [32]byte, pool []Candidate, n int) ([]Candidate, error) {
	if n > len(pool) {
		return nil, fmt.Errorf("%w: requested %d from pool of %d", ErrNoEligibleValidators, n, len(pool))
	}

	remaining := append([]Candidate(nil), pool...)
	stream, err := newDeterministicStream(entropy)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		var total int64
		for _, c := range remaining {
			total += weightOf(c)
		}
		if total == 0 {
			// All remaining candidates have zero weight: fall back to
			// uniform selection over ID-sorted order so the draw stays
			// total and deterministic.
			total = int64(len(remaining))
		}
		draw := stream.nextUint64() % uint64(total)

		idx := 0
		var acc int64
		for j, c := range remaining {
			w := weightOf(c)
			if w == 0 && total == int64(len(remaining)) {
				w = 1
			}
			acc += w
			if draw < uint64(acc) {
				idx = j
				break
			}
		}
		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out, nil
}

// weightOf maps a candidate's reputation score to a nonnegative sampling
// weight. Reputation is already on [0, 10_000], used directly as the weight.
func weightOf(c Candidate) int64 {
	if c.ReputationScaled < 0 {
		return 0
	}
	return c.ReputationScaled
}

// deterministicStream produces a reproducible uint64 sequence from a
// ChaCha20 keystream keyed by entropy, zero nonce. The cipher is used
// purely as a deterministic PRG, never for secrecy.
type deterministicStream struct {
	cipher *chacha20.Cipher
	buf    [8]byte
}

func newDeterministicStream(seed [32]byte) (*deterministicStream, error) {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("selection: building deterministic stream: %w", err)
	}
	return &deterministicStream{cipher: c}, nil
}

func (s *deterministicStream) nextUint64() uint64 {
	var zero, out [8]byte
	s.cipher.XORKeyStream(out[:], zero[:])
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(out[i]) << (8 * i)
	}
	return v
}
