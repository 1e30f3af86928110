// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package slashing implements offense detection bookkeeping and bond-delta
// application: deterministic penalties routed to the treasury, never
// burned.
package slashing

import (
	"errors"

	"github.com/ippan/dlc/address"
)

var ErrUnknownOffense = errors.New("slashing: unknown offense type")

// Offense identifies a slashable act.
type Offense int

const (
	OffenseDoubleSigning Offense = iota
	OffenseInvalidProposal
	OffenseExtendedDowntime
	OffenseEquivocation
)

func (o Offense) String() string {
	switch o {
	case OffenseDoubleSigning:
		return "double_signing"
	case OffenseInvalidProposal:
		return "invalid_proposal"
	case OffenseExtendedDowntime:
		return "extended_downtime"
	case OffenseEquivocation:
		return "equivocation"
	default:
		return "unknown"
	}
}

// Penalty basis points per offense, applied to current bond.
const (
	bpsDoubleSigning    = 5_000 // 50%
	bpsInvalidProposal  = 1_000 // 10%
	bpsEquivocation     = 5_000 // 50%
	bpsDowntimePerRound = 100   // 1% per missed round
	bpsDowntimeCap      = 2_500 // capped at 25%

	// MinimumBondMicroIPN is the floor below which a validator is removed
	// from the active set at the next round boundary.
	MinimumBondMicroIPN uint64 = 10 * 1_000_000
)

// CooldownRounds is how long a double-signer is excluded from selection.
const CooldownRounds uint64 = 100

// Verdict is the deterministic outcome of applying one offense to a
// validator's bond.
type Verdict struct {
	Validator        address.ID
	Offense          Offense
	BondBefore       uint64
	PenaltyMicroIPN  uint64
	BondAfter        uint64
	RemovedFromSet   bool
	SelectionBanUntil uint64 // round, only set for double-signing
}

// bpsOf computes floor(amount * bps / 10_000).
func bpsOf(amount uint64, bps uint64) uint64 {
	return amount * bps / 10_000
}

// Apply computes the bond delta for a single offense occurrence.
// currentRound is used to set the double-signing cooldown
// expiry; missedRounds is only meaningful for OffenseExtendedDowntime.
func Apply(validator address.ID, offense Offense, bondMicroIPN uint64, currentRound uint64, missedRounds uint64) (Verdict, error) {
	var penalty uint64
	var banUntil uint64

	switch offense {
	case OffenseDoubleSigning:
		penalty = bpsOf(bondMicroIPN, bpsDoubleSigning)
		banUntil = currentRound + CooldownRounds
	case OffenseInvalidProposal:
		penalty = bpsOf(bondMicroIPN, bpsInvalidProposal)
	case OffenseExtendedDowntime:
		bps := missedRounds * bpsDowntimePerRound
		if bps > bpsDowntimeCap {
			bps = bpsDowntimeCap
		}
		penalty = bpsOf(bondMicroIPN, bps)
	case OffenseEquivocation:
		penalty = bpsOf(bondMicroIPN, bpsEquivocation)
	default:
		return Verdict{}, ErrUnknownOffense
	}

	if penalty > bondMicroIPN {
		penalty = bondMicroIPN
	}
	bondAfter := bondMicroIPN - penalty

	return Verdict{
		Validator:         validator,
		Offense:           offense,
		BondBefore:        bondMicroIPN,
		PenaltyMicroIPN:   penalty,
		BondAfter:         bondAfter,
		RemovedFromSet:    bondAfter < MinimumBondMicroIPN,
		SelectionBanUntil: banUntil,
	}, nil
}

// DowntimeThresholdScaled is the uptime ratio below which extended downtime
// begins accruing penalties.
const DowntimeThresholdScaled = 500_000

// DowntimeWindowRounds is the observation window for the downtime offense.
const DowntimeWindowRounds = 50

// IsExtendedDowntime reports whether a validator's uptime ratio over the
// configured window qualifies as extended downtime.
func IsExtendedDowntime(uptimeRatioScaled int64, roundsObserved uint64) bool {
	return roundsObserved >= DowntimeWindowRounds && uptimeRatioScaled < DowntimeThresholdScaled
}
