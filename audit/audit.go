// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audit implements periodic audit checkpoints: a canonical digest
// of the distribution table emitted every audit_interval_rounds, used for
// long-range verification.
package audit

import (
	"sort"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/emission"
)

// Checkpoint is one audit-interval's recorded digest.
type Checkpoint struct {
	Round           uint64   `json:"round"`
	CumulativeSupply uint64  `json:"cumulative_supply"`
	Digest          [32]byte `json:"digest"`
}

// entry is the sorted, canon-hashable view of one payout used to build the
// digest preimage.
type entry struct {
	Validator address.ID `json:"validator"`
	Amount    uint64     `json:"amount"`
}

// ShouldCheckpoint reports whether round closes an audit interval.
func ShouldCheckpoint(round uint64, auditIntervalRounds uint64) bool {
	if auditIntervalRounds == 0 {
		return false
	}
	return round%auditIntervalRounds == 0
}

// BuildCheckpoint computes the canonical digest of a round's distribution
// table: every payout in the given distributions (the executor passes the
// current round's), sorted by validator id
// ascending, hashed with canon/BLAKE3.
func BuildCheckpoint(round uint64, cumulativeSupply uint64, distributions []emission.Distribution) (Checkpoint, error) {
	entries := make([]entry, 0)
	for _, d := range distributions {
		for _, p := range d.Payouts {
			entries = append(entries, entry{Validator: p.Validator, Amount: p.AmountMicroIPN})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return address.Less(entries[i].Validator, entries[j].Validator) })

	digest, err := canon.Hash(struct {
		Round   uint64  `json:"round"`
		Entries []entry `json:"entries"`
	}{Round: round, Entries: entries})
	if err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{
		Round:            round,
		CumulativeSupply: cumulativeSupply,
		Digest:           digest,
	}, nil
}
