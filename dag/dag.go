// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dag implements the block-DAG engine: parent/child
// graph storage, admission validation, tip tracking, and canonical tip
// selection feeding the roundchain's fork-choice and finality rule.
package dag

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/set"
)

const (
	// MaxParents is the per-block parent bound.
	MaxParents = 16
	// MinParents is the per-block parent floor; genesis is the sole
	// exception and is inserted directly via Genesis, bypassing Admit.
	MinParents = 1
)

var (
	ErrUnknownParent      = errors.New("dag: unknown parent")
	ErrInvalidParentRound = errors.New("dag: parent round not in {B.round, B.round-1}")
	ErrCycleDetected      = errors.New("dag: cycle detected")
	ErrTooManyParents     = errors.New("dag: too many parents")
	ErrNoParents          = errors.New("dag: block must have at least one parent")
	ErrDagOverloaded      = errors.New("dag: pending block bound exceeded")
	ErrDuplicateBlock     = errors.New("dag: block already admitted")
	ErrInvalidSignature   = errors.New("dag: invalid block signature")
	ErrHashTimerInvalid   = errors.New("dag: hashtimer verification failed")
)

// BlockID is the 32-byte BLAKE3 id of a block's canonical header bytes.
type BlockID [32]byte

func (id BlockID) String() string { return fmt.Sprintf("%x", id[:]) }

// Header is the canonical block header.
type Header struct {
	ID            BlockID
	Creator       address.ID
	Round         uint64
	HashTimer     hashtimer.HashTimer
	ParentIDs     []BlockID
	StateRoot     [32]byte
	TxMerkleRoot  [32]byte
	Signature     [64]byte
}

// Block is a header plus its ordered transaction payload. The transaction
// type itself is owned by the state layer; the DAG only needs opaque bytes
// to compute id-preimages and merkle roots.
type Block struct {
	Header Header
	TxData [][]byte
}

// Weight is the D-GBDT selection weight snapshot recorded for a block's
// creator at admission time, used by canonical tip selection.
type Weight int64

// entry is the DAG's bookkeeping record for one admitted block.
type entry struct {
	block    Block
	weight   Weight
	children set.Set[BlockID]
}

// DAG is the admitted-block store plus tip set.
type DAG struct {
	mu    sync.RWMutex
	nodes map[BlockID]*entry
	tips  set.Set[BlockID]

	maxPendingBlocks int
}

// New constructs an empty DAG. maxPendingBlocks bounds non-finalized blocks;
// admission rejects once the bound is hit until finalization drains the set.
func New(maxPendingBlocks int) *DAG {
	return &DAG{
		nodes:            make(map[BlockID]*entry),
		tips:             set.Of[BlockID](),
		maxPendingBlocks: maxPendingBlocks,
	}
}

// Genesis inserts the zero-parent root block directly, bypassing Admit's
// parent checks (there is nothing to verify a genesis block's parents
// against).
func (d *DAG) Genesis(b Block, weight Weight) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[b.Header.ID]; exists {
		return ErrDuplicateBlock
	}
	d.nodes[b.Header.ID] = &entry{block: b, weight: weight}
	d.tips[b.Header.ID] = struct{}{}
	return nil
}

// Admit validates and inserts a block. Signature verification, HashTimer
// domain/drift, and transaction-level checks are the caller's responsibility
// (they require state/mempool access this package does not own), but Admit
// still enforces the structural invariants that belong to the DAG itself:
// parent existence, round adjacency, acyclicity, and the pending bound.
func (d *DAG) Admit(b Block, weight Weight) error {
	if len(b.Header.ParentIDs) < MinParents {
		return ErrNoParents
	}
	if len(b.Header.ParentIDs) > MaxParents {
		return fmt.Errorf("%w: got %d", ErrTooManyParents, len(b.Header.ParentIDs))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[b.Header.ID]; exists {
		return ErrDuplicateBlock
	}

	if d.pendingCountLocked() >= d.maxPendingBlocks {
		return fmt.Errorf("%w: pending=%d bound=%d", ErrDagOverloaded, d.pendingCountLocked(), d.maxPendingBlocks)
	}

	for _, pid := range b.Header.ParentIDs {
		parent, ok := d.nodes[pid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParent, pid)
		}
		if parent.block.Header.Round != b.Header.Round && parent.block.Header.Round != b.Header.Round-1 {
			return fmt.Errorf("%w: parent round=%d block round=%d", ErrInvalidParentRound, parent.block.Header.Round, b.Header.Round)
		}
	}

	if d.wouldCreateCycle(b.Header.ID, b.Header.ParentIDs) {
		return ErrCycleDetected
	}

	d.nodes[b.Header.ID] = &entry{block: b, weight: weight}
	d.tips[b.Header.ID] = struct{}{}
	for _, pid := range b.Header.ParentIDs {
		parent := d.nodes[pid]
		if parent.children == nil {
			parent.children = set.Of[BlockID]()
		}
		parent.children.Add(b.Header.ID)
		delete(d.tips, pid)
	}
	return nil
}

// wouldCreateCycle reports whether adding an edge from each parent to the
// new id would introduce a cycle, via a DFS bounded by the existing block
// set. Since
// parents must already be admitted and block ids are content hashes, a
// cycle can only occur if the new id happens to equal one of its own
// ancestors, which this walk detects directly.
func (d *DAG) wouldCreateCycle(newID BlockID, parents []BlockID) bool {
	visited := make(map[BlockID]bool)
	var walk func(id BlockID) bool
	walk = func(id BlockID) bool {
		if id == newID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		n, ok := d.nodes[id]
		if !ok {
			return false
		}
		for _, pid := range n.block.Header.ParentIDs {
			if walk(pid) {
				return true
			}
		}
		return false
	}
	for _, pid := range parents {
		if walk(pid) {
			return true
		}
	}
	return false
}

// pendingCountLocked is the non-finalized block count: Finalize removes
// entries from d.nodes, so what remains is exactly the pending set the
// admission bound applies to.
func (d *DAG) pendingCountLocked() int {
	return len(d.nodes)
}

// Finalize retires finalized blocks from the pending set so admission
// unblocks once finalization drains the queue. Finalized blocks live on in
// storage; the DAG only tracks blocks still subject to fork choice. Ids not
// present (already retired, or never admitted here) are ignored.
func (d *DAG) Finalize(ids []BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		n, ok := d.nodes[id]
		if !ok {
			continue
		}
		// Drop the block from any surviving parent's child set; parents
		// are usually finalized first and already gone.
		for _, pid := range n.block.Header.ParentIDs {
			if parent, ok := d.nodes[pid]; ok && parent.children != nil {
				parent.children.Remove(id)
			}
		}
		delete(d.nodes, id)
		delete(d.tips, id)
	}
}

// Get returns the admitted block for id, if any.
func (d *DAG) Get(id BlockID) (Block, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return Block{}, false
	}
	return n.block, true
}

// Children returns the known children of id, sorted lexicographically for
// deterministic iteration.
func (d *DAG) Children(id BlockID) []BlockID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil
	}
	return set.SortedList(n.children, func(a, b BlockID) bool { return bytes.Compare(a[:], b[:]) < 0 })
}

// Tips returns the current tip set (blocks with no children yet), sorted
// by the canonical tip order: max round, min hashtimer
// time_us, max weight, min block_id — so index 0 is always the canonical
// tip.
func (d *DAG) Tips() []TipCandidate {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]TipCandidate, 0, len(d.tips))
	for id := range d.tips {
		n := d.nodes[id]
		out = append(out, TipCandidate{
			ID:     id,
			Round:  n.block.Header.Round,
			TimeUs: n.block.Header.HashTimer.TimeUs,
			Weight: n.weight,
		})
	}
	sort.Slice(out, func(i, j int) bool { return tipLess(out[i], out[j]) })
	return out
}

// CanonicalTip returns the single canonical tip, or false if
// the DAG is empty.
func (d *DAG) CanonicalTip() (TipCandidate, bool) {
	tips := d.Tips()
	if len(tips) == 0 {
		return TipCandidate{}, false
	}
	return tips[0], true
}

// PendingCount returns the current count of admitted (non-pruned) blocks,
// exposed for metrics.
func (d *DAG) PendingCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pendingCountLocked()
}

// TipCount returns the current tip-set size, exposed for metrics.
func (d *DAG) TipCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tips)
}

// TipCandidate is one entry of the tip set under canonical ordering.
type TipCandidate struct {
	ID     BlockID
	Round  uint64
	TimeUs int64
	Weight Weight
}

// tipLess implements the four-step fork-choice comparator: max round, min
// time_us, max weight, min block_id — expressed as a "less" relation so
// the sorted-first element is the canonical tip.
func tipLess(a, b TipCandidate) bool {
	if a.Round != b.Round {
		return a.Round > b.Round
	}
	if a.TimeUs != b.TimeUs {
		return a.TimeUs < b.TimeUs
	}
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// HeaderPreimage returns the canonical bytes a header's id and signature are
// derived from: every header field except ID and Signature themselves,
// c14n-JSON encoded. id = BLAKE3 of these bytes; the Ed25519 signature is
// over the same preimage.
func HeaderPreimage(h Header) ([]byte, error) {
	type preimage struct {
		Creator      address.ID          `json:"creator"`
		Round        uint64              `json:"round"`
		HashTimer    hashtimer.HashTimer `json:"hashtimer"`
		ParentIDs    []BlockID           `json:"parent_ids"`
		StateRoot    [32]byte            `json:"state_root"`
		TxMerkleRoot [32]byte            `json:"tx_merkle_root"`
	}
	return canon.Encode(preimage{
		Creator:      h.Creator,
		Round:        h.Round,
		HashTimer:    h.HashTimer,
		ParentIDs:    h.ParentIDs,
		StateRoot:    h.StateRoot,
		TxMerkleRoot: h.TxMerkleRoot,
	})
}

// ComputeHeaderID derives h's BlockID from HeaderPreimage.
func ComputeHeaderID(h Header) (BlockID, error) {
	preimage, err := HeaderPreimage(h)
	if err != nil {
		return BlockID{}, fmt.Errorf("dag: encoding header preimage: %w", err)
	}
	return BlockID(canon.HashBytes(preimage)), nil
}

// VerifyHeaderSignature checks h.Signature against h.Creator over h's
// id-preimage.
func VerifyHeaderSignature(h Header) error {
	preimage, err := HeaderPreimage(h)
	if err != nil {
		return fmt.Errorf("dag: encoding header preimage: %w", err)
	}
	if !h.Creator.Verify(preimage, h.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyAdmission performs the signature and HashTimer checks Admit itself
// does not: those require the caller's own identity
// and clock context, which this package does not own. Callers (the
// executor) run VerifyAdmission before Admit for any block not minted by
// themselves.
func VerifyAdmission(b Block, networkMedianUs int64) error {
	if err := VerifyHeaderSignature(b.Header); err != nil {
		return err
	}
	if !hashtimer.Verify(b.Header.HashTimer, hashtimer.DomainBlock, nil, nil, b.Header.Creator[:]) {
		return ErrHashTimerInvalid
	}
	if !hashtimer.AcceptWithinDrift(b.Header.HashTimer, networkMedianUs) {
		return ErrHashTimerInvalid
	}
	return nil
}
