// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storageapi

import (
	"sync"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/telemetry"
)

// MemoryStorage is a process-local, non-durable Storage implementation for
// tests and single-node experimentation. It is never the right choice for
// production; durable storage is the host binary's job.
type MemoryStorage struct {
	mu sync.RWMutex

	blocks    map[dag.BlockID]dag.Block
	txs       map[[32]byte]Transaction
	accounts  map[address.Address]Account
	telemetry map[address.ID]telemetry.Telemetry
	rounds    map[uint64]RoundSummary
	models    map[string][]byte
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blocks:    make(map[dag.BlockID]dag.Block),
		txs:       make(map[[32]byte]Transaction),
		accounts:  make(map[address.Address]Account),
		telemetry: make(map[address.ID]telemetry.Telemetry),
		rounds:    make(map[uint64]RoundSummary),
		models:    make(map[string][]byte),
	}
}

func (m *MemoryStorage) PutBlock(b dag.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Header.ID] = b
	return nil
}

func (m *MemoryStorage) GetBlock(id dag.BlockID) (dag.Block, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[id]
	return b, ok, nil
}

func (m *MemoryStorage) ContainsBlock(id dag.BlockID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[id]
	return ok, nil
}

func (m *MemoryStorage) PutTx(tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.Hash] = tx
	return nil
}

func (m *MemoryStorage) GetTx(hash [32]byte) (Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[hash]
	return tx, ok, nil
}

func (m *MemoryStorage) PutAccount(addr address.Address, acc Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[addr] = acc
	return nil
}

func (m *MemoryStorage) GetAccount(addr address.Address) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[addr]
	return acc, ok, nil
}

// GetAllAccounts returns a snapshot of every known account, implementing
// AccountLister.
func (m *MemoryStorage) GetAllAccounts() (map[address.Address]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[address.Address]Account, len(m.accounts))
	for k, v := range m.accounts {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStorage) PutValidatorTelemetry(v address.ID, t telemetry.Telemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry[v] = t
	return nil
}

func (m *MemoryStorage) GetValidatorTelemetry(v address.ID) (telemetry.Telemetry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.telemetry[v]
	return t, ok, nil
}

func (m *MemoryStorage) GetAllValidatorTelemetry() (map[address.ID]telemetry.Telemetry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[address.ID]telemetry.Telemetry, len(m.telemetry))
	for k, v := range m.telemetry {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStorage) WriteRoundAtomic(summary RoundSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[summary.Round] = summary
	return nil
}

func (m *MemoryStorage) GetRoundSummary(round uint64) (RoundSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rounds[round]
	return s, ok
}

func (m *MemoryStorage) LoadModel(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.models[path]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// SetModel seeds the in-memory model bytes at path, for tests that need
// LoadModel to resolve.
func (m *MemoryStorage) SetModel(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[path] = data
}

// MemoryMempool is a FIFO, non-durable Mempool for tests.
type MemoryMempool struct {
	mu      sync.Mutex
	pending []Transaction
	known   map[[32]byte]struct{}
}

// NewMemoryMempool constructs an empty MemoryMempool.
func NewMemoryMempool() *MemoryMempool {
	return &MemoryMempool{known: make(map[[32]byte]struct{})}
}

// Submit adds tx to the pool if not already known.
func (m *MemoryMempool) Submit(tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[tx.Hash]; ok {
		return
	}
	m.known[tx.Hash] = struct{}{}
	m.pending = append(m.pending, tx)
}

func (m *MemoryMempool) TakeTransactions(limit int, maxSizeBytes int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transaction
	var size int
	var consumed int
	for _, tx := range m.pending {
		if len(out) >= limit {
			break
		}
		if size+len(tx.Raw) > maxSizeBytes {
			break
		}
		out = append(out, tx)
		size += len(tx.Raw)
		consumed++
	}
	m.pending = m.pending[consumed:]
	return out, nil
}

func (m *MemoryMempool) Has(hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.known[hash]
	return ok, nil
}
