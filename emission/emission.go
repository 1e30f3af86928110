// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package emission implements DAG-Fair emission and reward distribution:
// the integer halving schedule, supply-cap enforcement, basis point
// distribution buckets, and per-validator contribution weighting.
package emission

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ippan/dlc/address"
)

var (
	ErrNonSequentialRound = errors.New("emission: round processed out of order")
	ErrSupplyCapExceeded  = errors.New("emission: distribution would exceed supply cap")
)

// Protocol distribution constants, all in integer basis points.
const (
	bpsDenominator   = 10_000
	bpsBaseEmission  = 6_000
	bpsTxFees        = 2_500
	bpsAICommissions = 1_000
	bpsNetworkPool   = 500

	// Role multipliers, integer basis points.
	RoleMultiplierPrimary = 12_000
	RoleMultiplierShadow  = 10_000
	RoleMultiplierAI      = 11_000

	// DefaultAuditIntervalRounds is the default cadence for audit
	// checkpoint emission.
	DefaultAuditIntervalRounds uint64 = 3_024_000
)

// Schedule parameterizes the halving/supply-cap emission schedule from
// configuration (r0_micro_ipn, halving_rounds, supply_cap_ipn), so a
// deployment or a test fixture can set its own r0/halving/cap instead of
// the mainnet constants.
type Schedule struct {
	R0MicroIPN        uint64
	HalvingRounds     uint64
	SupplyCapMicroIPN uint64
}

// DefaultSchedule returns the mainnet schedule: R0 = 10,000 µIPN, halving
// every 315,360,000 rounds (~2 years at 200ms rounds), 21M IPN cap.
func DefaultSchedule() Schedule {
	return Schedule{
		R0MicroIPN:        10_000,
		HalvingRounds:     315_360_000,
		SupplyCapMicroIPN: 21_000_000 * 1_000_000,
	}
}

// RoundReward computes R(t) = R0 >> floor(t / halving_rounds).
func (s Schedule) RoundReward(round uint64) uint64 {
	if s.HalvingRounds == 0 {
		return 0
	}
	shift := round / s.HalvingRounds
	if shift >= 64 {
		return 0
	}
	return s.R0MicroIPN >> shift
}

// Buckets is the per-round distribution split: base emission, transaction
// fees, AI commissions, and the network pool.
type Buckets struct {
	BaseEmission  uint64
	TxFees        uint64
	AICommissions uint64
	NetworkPool   uint64
}

// ComputeBuckets splits a round's minted reward into the four distribution
// buckets by basis points (60/25/10/5%) and adds the round's collected fees
// and AI commissions into the tx-fee and AI-commission buckets.
func ComputeBuckets(reward, feesCollected, aiCommissionsCollected uint64) Buckets {
	return Buckets{
		BaseEmission:  reward * bpsBaseEmission / bpsDenominator,
		TxFees:        reward*bpsTxFees/bpsDenominator + feesCollected,
		AICommissions: reward*bpsAICommissions/bpsDenominator + aiCommissionsCollected,
		NetworkPool:   reward * bpsNetworkPool / bpsDenominator,
	}
}

func (b Buckets) Total() uint64 {
	return b.BaseEmission + b.TxFees + b.AICommissions + b.NetworkPool
}

// Role identifies a validator's function in a round for the reward role
// multiplier.
type Role int

const (
	RolePrimary Role = iota
	RoleShadow
	RoleAIServiceProvider
)

func (r Role) multiplierBps() uint64 {
	switch r {
	case RolePrimary:
		return RoleMultiplierPrimary
	case RoleAIServiceProvider:
		return RoleMultiplierAI
	default:
		return RoleMultiplierShadow
	}
}

// Contribution is the per-validator input to reward weighting.
type Contribution struct {
	Validator                 address.ID
	Role                      Role
	BlocksProposedThisRound   uint64
	BlocksVerifiedThisRound   uint64
	ReputationScaled          int64 // 0..1_000_000
	UptimeScaled              int64 // 0..1_000_000
	StakeNormalizedScaled     int64 // 0..1_000_000
}

// Weight computes the integer contribution weight:
//
//	weight = (blocks_proposed*40 + blocks_verified*15
//	       + reputation_scaled/100*20 + uptime_scaled/100*10
//	       + stake_normalized_scaled/100*5 + 30) / 100
func (c Contribution) Weight() uint64 {
	w := c.BlocksProposedThisRound*40 +
		c.BlocksVerifiedThisRound*15 +
		uint64(c.ReputationScaled/100)*20 +
		uint64(c.UptimeScaled/100)*10 +
		uint64(c.StakeNormalizedScaled/100)*5 +
		30
	return w / 100
}

// Payout is one validator's final reward for a round, after weighting and
// role-multiplier application.
type Payout struct {
	Validator      address.ID
	AmountMicroIPN uint64
}

// Distribution is the full result of distributing one round's reward pool.
type Distribution struct {
	Round          uint64
	Buckets        Buckets
	Payouts        []Payout
	NetworkPoolAdd uint64 // network-pool bucket plus integer-division remainders
}

// Tracker enforces the sequential-round and supply-cap invariants while
// computing distributions.
type Tracker struct {
	schedule           Schedule
	lastProcessedRound uint64
	hasProcessed       bool
	cumulativeSupply   uint64
}

// NewTracker builds a Tracker over the given schedule, starting from a given
// cumulative supply (nonzero when resuming from a persisted checkpoint).
func NewTracker(schedule Schedule, cumulativeSupply uint64) *Tracker {
	return &Tracker{schedule: schedule, cumulativeSupply: cumulativeSupply}
}

// CumulativeSupply returns the tracker's current cumulative minted supply.
func (t *Tracker) CumulativeSupply() uint64 { return t.cumulativeSupply }

// Distribute processes round N's emission and distribution. contributions
// need not be pre-sorted; Distribute sorts by validator id ascending
// before iterating, so the result is independent of caller iteration order.
func (t *Tracker) Distribute(round uint64, feesCollected, aiCommissionsCollected uint64, contributions []Contribution) (Distribution, error) {
	if t.hasProcessed && round != t.lastProcessedRound+1 {
		return Distribution{}, fmt.Errorf("%w: expected=%d got=%d", ErrNonSequentialRound, t.lastProcessedRound+1, round)
	}
	if !t.hasProcessed && round != 0 {
		return Distribution{}, fmt.Errorf("%w: expected=0 got=%d", ErrNonSequentialRound, round)
	}

	reward := t.schedule.RoundReward(round)
	if t.cumulativeSupply+reward > t.schedule.SupplyCapMicroIPN {
		reward = clampResidual(t.cumulativeSupply, t.schedule.SupplyCapMicroIPN)
	}

	buckets := ComputeBuckets(reward, feesCollected, aiCommissionsCollected)

	sorted := sortContributionsByValidator(contributions)

	distributable := buckets.BaseEmission + buckets.TxFees + buckets.AICommissions
	payouts, poolAdd := allocate(sorted, distributable)

	t.cumulativeSupply += reward
	if t.cumulativeSupply > t.schedule.SupplyCapMicroIPN {
		return Distribution{}, ErrSupplyCapExceeded
	}
	t.lastProcessedRound = round
	t.hasProcessed = true

	return Distribution{
		Round:          round,
		Buckets:        buckets,
		Payouts:        payouts,
		NetworkPoolAdd: buckets.NetworkPool + poolAdd,
	}, nil
}

// SkipRound records round as processed with no emission at all, keeping
// the sequential-round invariant intact across rounds that close empty
// (selection failure). Cumulative supply is unchanged.
func (t *Tracker) SkipRound(round uint64) error {
	if t.hasProcessed && round != t.lastProcessedRound+1 {
		return fmt.Errorf("%w: expected=%d got=%d", ErrNonSequentialRound, t.lastProcessedRound+1, round)
	}
	if !t.hasProcessed && round != 0 {
		return fmt.Errorf("%w: expected=0 got=%d", ErrNonSequentialRound, round)
	}
	t.lastProcessedRound = round
	t.hasProcessed = true
	return nil
}

// clampResidual returns the remaining headroom to the supply cap.
func clampResidual(cumulative, cap uint64) uint64 {
	if cumulative >= cap {
		return 0
	}
	return cap - cumulative
}

// allocate distributes pool weighted by each contribution's role-adjusted
// weight. Remainders after integer division accrue to the network pool.
func allocate(contributions []Contribution, pool uint64) ([]Payout, uint64) {
	type weighted struct {
		validator address.ID
		weight    uint64
	}
	ws := make([]weighted, 0, len(contributions))
	var totalWeight uint64
	for _, c := range contributions {
		w := c.Weight() * c.Role.multiplierBps() / bpsDenominator
		ws = append(ws, weighted{validator: c.Validator, weight: w})
		totalWeight += w
	}

	if totalWeight == 0 {
		return nil, pool
	}

	payouts := make([]Payout, 0, len(ws))
	var distributed uint64
	for _, w := range ws {
		amount := pool * w.weight / totalWeight
		distributed += amount
		payouts = append(payouts, Payout{Validator: w.validator, AmountMicroIPN: amount})
	}
	remainder := pool - distributed
	return payouts, remainder
}

// sortContributionsByValidator orders contributions by validator id
// ascending, independent of caller iteration order. This sorts Contribution
// values by key rather than through set.SortedList: a Set would collapse
// contributions that happen to compare equal on every field.
func sortContributionsByValidator(contributions []Contribution) []Contribution {
	sorted := append([]Contribution(nil), contributions...)
	sort.Slice(sorted, func(i, j int) bool { return address.Less(sorted[i].Validator, sorted[j].Validator) })
	return sorted
}
