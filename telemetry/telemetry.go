// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package telemetry implements per-validator metrics and reputation
// bookkeeping, feeding D-GBDT feature vectors. All arithmetic is
// integer-only; ratios are expressed as scaled integers in [0, 1_000_000].
package telemetry

import (
	"sort"
	"sync"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/config"
)

// scale is the fixed-point denominator used for every *_scaled ratio field.
const scale = 1_000_000

// DefaultReputationSeed is the neutral score returned for validators with no
// recorded history.
const DefaultReputationSeed = 5000

// BondState models the validator lifecycle: bond (locks stake), active,
// optional slash, unbond request, cooldown, withdrawable.
type BondState int

const (
	BondStateUnbonded BondState = iota
	BondStateBonded
	BondStateActive
	BondStateUnbondRequested
	BondStateCooldown
	BondStateWithdrawable
)

func (s BondState) String() string {
	switch s {
	case BondStateUnbonded:
		return "unbonded"
	case BondStateBonded:
		return "bonded"
	case BondStateActive:
		return "active"
	case BondStateUnbondRequested:
		return "unbond_requested"
	case BondStateCooldown:
		return "cooldown"
	case BondStateWithdrawable:
		return "withdrawable"
	default:
		return "unknown"
	}
}

// Telemetry is the persisted per-validator record.
type Telemetry struct {
	BlocksProposed            uint64
	BlocksVerified            uint64
	RoundsActive              uint64
	RoundsSinceBond           uint64
	AvgLatencyUs              uint64
	SlashCount                uint64
	StakeMicroIPN             uint64
	UptimeRatioScaled         int64
	RecentPerformanceScaled   int64
	NetworkContributionScaled int64
	LastUpdateRound           uint64
	Bond                      BondState
	UnbondRequestedRound      uint64
}

// Default returns the canonical zero-history record for an unknown
// validator: a neutral reputation seed and zero counters.
func Default() Telemetry {
	return Telemetry{
		RecentPerformanceScaled: DefaultReputationSeed * (scale / 10_000),
	}
}

// Store is the persistence contract telemetry relies on. Concrete
// implementations live outside the core.
type Store interface {
	PutValidatorTelemetry(v address.ID, t Telemetry) error
	GetValidatorTelemetry(v address.ID) (Telemetry, bool, error)
	GetAllValidatorTelemetry() (map[address.ID]Telemetry, error)
}

// Tracker is the in-process telemetry engine: it mutates a persisted Store
// under a reader-writer lock. Mutation is confined to round boundaries by
// the executor's calling discipline.
type Tracker struct {
	mu    sync.RWMutex
	store Store
}

// NewTracker builds a Tracker over the given Store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Get returns a validator's telemetry, or the canonical default for unknown
// validators.
func (t *Tracker) Get(v address.ID) (Telemetry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok, err := t.store.GetValidatorTelemetry(v)
	if err != nil {
		return Telemetry{}, err
	}
	if !ok {
		return Default(), nil
	}
	return rec, nil
}

// RecordBlockProposal increments blocks_proposed and updates the integer EMA
// of avg_latency_us: new = (old*7 + sample) / 8.
func (t *Tracker) RecordBlockProposal(v address.ID, round uint64, latencyUs uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(v)
	if err != nil {
		return err
	}
	rec.BlocksProposed++
	if rec.AvgLatencyUs == 0 {
		rec.AvgLatencyUs = latencyUs
	} else {
		rec.AvgLatencyUs = (rec.AvgLatencyUs*7 + latencyUs) / 8
	}
	rec.LastUpdateRound = round
	return t.store.PutValidatorTelemetry(v, rec)
}

// RecordBlockVerification increments blocks_verified.
func (t *Tracker) RecordBlockVerification(v address.ID, round uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(v)
	if err != nil {
		return err
	}
	rec.BlocksVerified++
	rec.LastUpdateRound = round
	return t.store.PutValidatorTelemetry(v, rec)
}

// RecordSlash increments slash_count by one occurrence; bond-amount
// penalties are applied by the slashing package, telemetry only
// tracks the count that feeds the slash-penalty feature (FeatureSlashPenalty).
func (t *Tracker) RecordSlash(v address.ID, round uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(v)
	if err != nil {
		return err
	}
	rec.SlashCount++
	rec.LastUpdateRound = round
	return t.store.PutValidatorTelemetry(v, rec)
}

// AdvanceRound updates uptime_ratio_scaled for every validator in activeSet:
// uptime_ratio_scaled = (rounds_active * 1_000_000) / rounds_since_bond.
// Validators present in activeSet have rounds_active and
// rounds_since_bond both incremented for this round.
func (t *Tracker) AdvanceRound(activeSet []address.ID, round uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := append([]address.ID(nil), activeSet...)
	sort.Slice(sorted, func(i, j int) bool { return address.Less(sorted[i], sorted[j]) })

	for _, v := range sorted {
		rec, err := t.getLocked(v)
		if err != nil {
			return err
		}
		rec.RoundsActive++
		rec.RoundsSinceBond++
		if rec.RoundsSinceBond > 0 {
			rec.UptimeRatioScaled = int64(rec.RoundsActive*scale) / int64(rec.RoundsSinceBond)
		}
		rec.LastUpdateRound = round
		if err := t.store.PutValidatorTelemetry(v, rec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStake sets the validator's recorded stake.
func (t *Tracker) UpdateStake(v address.ID, newStakeMicroIPN uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(v)
	if err != nil {
		return err
	}
	rec.StakeMicroIPN = newStakeMicroIPN
	return t.store.PutValidatorTelemetry(v, rec)
}

// SetBondState transitions a validator's lifecycle state. Transitions are
// not validated: any state may be set after any other, and only the new
// state is persisted.
func (t *Tracker) SetBondState(v address.ID, state BondState, round uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(v)
	if err != nil {
		return err
	}
	rec.Bond = state
	if state == BondStateUnbondRequested {
		rec.UnbondRequestedRound = round
	}
	return t.store.PutValidatorTelemetry(v, rec)
}

func (t *Tracker) getLocked(v address.ID) (Telemetry, error) {
	rec, ok, err := t.store.GetValidatorTelemetry(v)
	if err != nil {
		return Telemetry{}, err
	}
	if !ok {
		return Default(), nil
	}
	return rec, nil
}

// Features is the fixed six-entry feature schema, all fixed-point integers
// in [0, 1_000_000].
type Features [6]int64

const (
	FeatureProposalRate = iota
	FeatureVerificationRate
	FeatureLatencyScore
	FeatureSlashPenalty
	FeatureStakeWeight
	FeatureLongevity
)

// Extract computes the fixed feature schema for t against the deployment's
// configured scaling caps.
func Extract(t Telemetry, caps config.FeatureScalingConfig) Features {
	var f Features

	f[FeatureProposalRate] = minI64(scale, int64(t.BlocksProposed)*scale/maxI64(1, int64(t.RoundsActive)))
	f[FeatureVerificationRate] = minI64(scale, int64(t.BlocksVerified)*scale/maxI64(1, int64(t.RoundsActive)))

	latencyCap := int64(caps.LatencyCapUs)
	if latencyCap <= 0 {
		latencyCap = 1
	}
	f[FeatureLatencyScore] = scale - minI64(scale, int64(t.AvgLatencyUs)*scale/latencyCap)

	f[FeatureSlashPenalty] = minI64(scale, int64(t.SlashCount)*100_000)

	stakeCap := int64(caps.StakeCapMicroIPN)
	if stakeCap <= 0 {
		stakeCap = 1
	}
	f[FeatureStakeWeight] = minI64(scale, int64(t.StakeMicroIPN)*scale/stakeCap)

	longevityCap := int64(caps.LongevityCapRounds)
	if longevityCap <= 0 {
		longevityCap = 1
	}
	f[FeatureLongevity] = minI64(scale, int64(t.RoundsSinceBond)*scale/longevityCap)

	return f
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
