// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the node configuration surface (config/dlc.toml)
// and its validation. Every numeric field is an integer: consensus-critical code
// must stay float-free, so no float ever enters through configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/naoina/toml"
)

var (
	ErrConfigInvalid      = errors.New("config: invalid configuration")
	ErrMissingFeatureCap  = errors.New("config: required feature-scaling constant absent")
	ErrModelHashMalformed = errors.New("config: ai_model_hash must be 64 hex characters")
)

// Config is the complete `config/dlc.toml` surface.
type Config struct {
	RoundDurationUs    uint64 `toml:"round_duration_us"`
	VerifierCount      int    `toml:"verifier_count"`
	MinReputationScore int64  `toml:"min_reputation_score"`

	HalvingRounds uint64 `toml:"halving_rounds"`
	R0MicroIPN    uint64 `toml:"r0_micro_ipn"`
	SupplyCapIPN  uint64 `toml:"supply_cap_ipn"`

	AIModelPath string `toml:"ai_model_path"`
	AIModelHash string `toml:"ai_model_hash"`

	AuditIntervalRounds uint64 `toml:"audit_interval_rounds"`

	BondMinimumIPN       uint64 `toml:"bond_minimum_ipn"`
	UnbondCooldownRounds uint64 `toml:"unbond_cooldown_rounds"`

	// Transaction admission bounds enforced by the state-transition layer.
	MinFeeMicroIPN uint64 `toml:"min_fee_micro_ipn"`
	MaxFeeMicroIPN uint64 `toml:"max_fee_micro_ipn"`
	MaxBlockBytes  int    `toml:"max_block_bytes"`

	// FeatureScaling carries the feature-extraction caps, which have no
	// protocol-fixed values and must come from deployment configuration:
	// latency_cap_us, stake_cap_micro_ipn, longevity_cap_rounds.
	FeatureScaling FeatureScalingConfig `toml:"feature_scaling"`
}

// FeatureScalingConfig holds the per-deployment feature-extraction caps.
type FeatureScalingConfig struct {
	LatencyCapUs       uint64 `toml:"latency_cap_us"`
	StakeCapMicroIPN   uint64 `toml:"stake_cap_micro_ipn"`
	LongevityCapRounds uint64 `toml:"longevity_cap_rounds"`
}

// DefaultConfig returns the documented protocol defaults. FeatureScaling has
// no protocol-fixed default; DefaultConfig still supplies values so the type
// is directly usable in tests, but Load always prefers what is on disk and
// LoadStrict fails loudly if the loaded file omits the section entirely.
func DefaultConfig() Config {
	return Config{
		RoundDurationUs:      200_000,
		VerifierCount:        5,
		MinReputationScore:   3000,
		HalvingRounds:        315_360_000,
		R0MicroIPN:           10_000,
		SupplyCapIPN:         21_000_000,
		AuditIntervalRounds:  3_024_000,
		BondMinimumIPN:       10,
		UnbondCooldownRounds: 3_024_000, // ~7 days at 200ms rounds
		MinFeeMicroIPN:       1,
		MaxFeeMicroIPN:       1_000_000,
		MaxBlockBytes:        8 * 1024 * 1024,
		FeatureScaling: FeatureScalingConfig{
			LatencyCapUs:       500_000,
			StakeCapMicroIPN:   1_000_000 * 1_000_000,
			LongevityCapRounds: 1_576_800,
		},
	}
}

// Load reads and parses a TOML config file over DefaultConfig, so fields
// absent from the file keep their defaults. Deployments that must not start
// without explicit feature-scaling constants should call LoadStrict.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadStrict loads path and fails with ErrMissingFeatureCap if the
// feature_scaling section (latency_cap_us, stake_cap_micro_ipn,
// longevity_cap_rounds) is absent. Feature normalization depends on these
// caps; a silent default would let two operators disagree on every score.
func LoadStrict(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	// Zeroed so a file that omits the section is detectable: the default
	// caps must never silently stand in for missing deployment values.
	cfg.FeatureScaling = FeatureScalingConfig{}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.FeatureScaling.LatencyCapUs == 0 || cfg.FeatureScaling.StakeCapMicroIPN == 0 || cfg.FeatureScaling.LongevityCapRounds == 0 {
		return Config{}, ErrMissingFeatureCap
	}
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Verify validates the configuration against its documented ranges.
func (c Config) Verify() error {
	if c.RoundDurationUs == 0 {
		return fmt.Errorf("%w: round_duration_us must be > 0", ErrConfigInvalid)
	}
	if c.VerifierCount < 3 || c.VerifierCount > 5 {
		return fmt.Errorf("%w: verifier_count=%d must be in [3,5]", ErrConfigInvalid, c.VerifierCount)
	}
	if c.MinReputationScore < 0 || c.MinReputationScore > 10_000 {
		return fmt.Errorf("%w: min_reputation_score=%d must be in [0,10000]", ErrConfigInvalid, c.MinReputationScore)
	}
	if c.HalvingRounds == 0 {
		return fmt.Errorf("%w: halving_rounds must be > 0", ErrConfigInvalid)
	}
	if c.SupplyCapIPN == 0 {
		return fmt.Errorf("%w: supply_cap_ipn must be > 0", ErrConfigInvalid)
	}
	if c.AuditIntervalRounds == 0 {
		return fmt.Errorf("%w: audit_interval_rounds must be > 0", ErrConfigInvalid)
	}
	if c.BondMinimumIPN == 0 {
		return fmt.Errorf("%w: bond_minimum_ipn must be > 0", ErrConfigInvalid)
	}
	if c.MaxFeeMicroIPN < c.MinFeeMicroIPN {
		return fmt.Errorf("%w: max_fee_micro_ipn must be >= min_fee_micro_ipn", ErrConfigInvalid)
	}
	if c.MaxBlockBytes <= 0 {
		return fmt.Errorf("%w: max_block_bytes must be > 0", ErrConfigInvalid)
	}
	if len(c.AIModelHash) != 0 && len(c.AIModelHash) != 64 {
		return ErrModelHashMalformed
	}
	for _, ch := range c.AIModelHash {
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F') {
			return ErrModelHashMalformed
		}
	}
	return nil
}

// SupplyCapMicroIPN returns the configured supply cap expressed in µIPN.
func (c Config) SupplyCapMicroIPN() uint64 {
	return c.SupplyCapIPN * 1_000_000
}
