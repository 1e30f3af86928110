// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis builds the zero-state a node bootstraps from: the
// genesis DAG block, initial treasury/validator accounts, and the pinned
// D-GBDT model hash that Build verifies.
package genesis

import (
	"fmt"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/storageapi"
)

// ValidatorBond is one validator's genesis bond allocation.
type ValidatorBond struct {
	Validator    address.ID
	BondMicroIPN uint64
}

// Spec is the set of inputs needed to construct a genesis state.
type Spec struct {
	TreasuryAddress address.Address
	TreasuryBalance uint64
	ValidatorBonds  []ValidatorBond
	Model           gbdt.Model
	ModelPath       string
	PinnedModelHash string
}

// State is the resolved genesis artifact: the seed DAG block. The account
// writes come from the Spec and are made by Apply.
type State struct {
	GenesisBlock dag.Block
}

// Build validates spec.Model against the configured hash pin and
// constructs the zero-round genesis block. It does not itself write to
// storage; callers apply the returned State (and spec's accounts/bonds)
// via Apply.
func Build(spec Spec) (State, error) {
	if err := spec.Model.VerifyHash(spec.PinnedModelHash); err != nil {
		return State{}, fmt.Errorf("genesis: model hash check failed: %w", err)
	}
	if err := spec.Model.Validate(6); err != nil {
		return State{}, fmt.Errorf("genesis: model validation failed: %w", err)
	}

	header := dag.Header{
		Round:     0,
		HashTimer: hashtimer.HashTimer{TimeUs: 0},
		ParentIDs: nil,
	}
	header.ID = computeGenesisID(spec)

	return State{
		GenesisBlock: dag.Block{Header: header},
	}, nil
}

// Apply writes the genesis accounts, validator bonds, and seed block into
// storage and returns the constructed DAG with the genesis block inserted.
func Apply(store storageapi.Storage, state State, spec Spec, maxPendingBlocks int) (*dag.DAG, error) {
	if err := store.PutAccount(spec.TreasuryAddress, storageapi.Account{BalanceMicroIPN: spec.TreasuryBalance}); err != nil {
		return nil, fmt.Errorf("genesis: writing treasury account: %w", err)
	}
	for _, vb := range spec.ValidatorBonds {
		addr := address.DeriveAddress(vb.Validator)
		if err := store.PutAccount(addr, storageapi.Account{BalanceMicroIPN: vb.BondMicroIPN}); err != nil {
			return nil, fmt.Errorf("genesis: writing validator bond for %x: %w", vb.Validator, err)
		}
	}
	if err := store.PutBlock(state.GenesisBlock); err != nil {
		return nil, fmt.Errorf("genesis: writing genesis block: %w", err)
	}

	d := dag.New(maxPendingBlocks)
	if err := d.Genesis(state.GenesisBlock, 0); err != nil {
		return nil, fmt.Errorf("genesis: inserting genesis block into dag: %w", err)
	}
	return d, nil
}

// computeGenesisID derives a deterministic id for the genesis block from
// the treasury address and bond list, so every honest node that starts
// from the same Spec produces the identical genesis block id.
func computeGenesisID(spec Spec) dag.BlockID {
	type preimage struct {
		Treasury address.Address `json:"treasury"`
		Bonds    []ValidatorBond `json:"bonds"`
		ModelID  string          `json:"model_id"`
	}
	modelID, _ := spec.Model.ModelID()
	h, err := canon.Hash(preimage{Treasury: spec.TreasuryAddress, Bonds: spec.ValidatorBonds, ModelID: modelID})
	if err != nil {
		// Genesis construction happens once at startup with static,
		// already-validated inputs; a hashing failure here means the
		// model/preimage is malformed in a way VerifyHash should already
		// have caught.
		panic(fmt.Sprintf("genesis: unreachable hashing failure: %v", err))
	}
	return dag.BlockID(h)
}
