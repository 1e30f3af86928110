// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storageapi defines the persistence and mempool contracts the
// consensus core depends on, specialized to DLC's domain types instead of
// raw key-value bytes.
package storageapi

import (
	"errors"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/telemetry"
)

var (
	ErrStorageUnavailable   = errors.New("storageapi: storage unavailable")
	ErrStorageWriteConflict = errors.New("storageapi: write conflict")
	ErrNotFound             = errors.New("storageapi: not found")
)

// Account is the persisted account record.
type Account struct {
	BalanceMicroIPN uint64
	Nonce           uint64
	Handles         []string
}

// Transaction is the opaque, already-validated transaction the storage
// layer persists; the state-machine layer owns its full structure.
type Transaction struct {
	Hash [32]byte
	Raw  []byte
}

// RoundSummary is the atomic per-round write: state root delta, emitted
// rewards, slashing deltas, selection proof, and audit digest, persisted
// in one transaction.
type RoundSummary struct {
	Round            uint64
	FinalizedBlocks  []dag.BlockID
	StateRootDelta   [32]byte
	EmittedMicroIPN  uint64
	SlashingDeltas   []byte // canon-encoded []slashing.Verdict, opaque here
	SelectionProof   []byte // canon-encoded selection.Proof, opaque here
	AuditDigest      [32]byte
}

// Storage is the persistence contract required by the core. Concrete
// implementations (disk-backed, in-memory, remote) live outside the
// consensus core.
type Storage interface {
	PutBlock(b dag.Block) error
	GetBlock(id dag.BlockID) (dag.Block, bool, error)
	ContainsBlock(id dag.BlockID) (bool, error)

	PutTx(tx Transaction) error
	GetTx(hash [32]byte) (Transaction, bool, error)

	PutAccount(addr address.Address, acc Account) error
	GetAccount(addr address.Address) (Account, bool, error)

	telemetry.Store

	// WriteRoundAtomic durably persists an entire round summary in one
	// transaction.
	WriteRoundAtomic(summary RoundSummary) error

	// LoadModel returns the raw bytes at path; hash-pinning against the
	// configured ai_model_hash happens in the gbdt package, not here.
	LoadModel(path string) ([]byte, error)
}

// Mempool is the pending-transaction pool contract.
type Mempool interface {
	// TakeTransactions returns up to limit transactions, bounded to
	// maxSizeBytes total, in admission order.
	TakeTransactions(limit int, maxSizeBytes int) ([]Transaction, error)
	Has(hash [32]byte) (bool, error)
}

// AccountLister is implemented by Storage backends that can enumerate every
// account, needed to recompute the account-state Merkle root. It is kept
// separate from Storage itself so a backend that
// only ever serves single-account lookups is not forced to support a full
// scan.
type AccountLister interface {
	GetAllAccounts() (map[address.Address]Account, error)
}
