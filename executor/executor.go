// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package executor implements the round executor: the deterministic state
// machine that drives a round through
// Idle→Selecting→Proposing→Verifying→Closing→Distributing→Idle(N+1),
// wiring together hashtimer, gbdt, telemetry, selection, dag, roundchain,
// emission, slashing and storage.
package executor

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/audit"
	"github.com/ippan/dlc/config"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/emission"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/log"
	"github.com/ippan/dlc/metrics"
	"github.com/ippan/dlc/roundchain"
	"github.com/ippan/dlc/selection"
	"github.com/ippan/dlc/set"
	"github.com/ippan/dlc/slashing"
	"github.com/ippan/dlc/state"
	"github.com/ippan/dlc/storageapi"
	"github.com/ippan/dlc/telemetry"
)

// State is the round-level state machine position.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateProposing
	StateVerifying
	StateClosing
	StateDistributing
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateProposing:
		return "proposing"
	case StateVerifying:
		return "verifying"
	case StateClosing:
		return "closing"
	case StateDistributing:
		return "distributing"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// The executor only recognizes fatal conditions by sentinel; actual process
// exit is the host binary's job.
var (
	ErrHalted = errors.New("executor: node is halted")
)

// Executor drives one node's round pipeline. Round progression is a
// single-threaded cooperative loop: Executor is not safe for concurrent
// RunRound calls from multiple goroutines.
type Executor struct {
	cfg   config.Config
	store storageapi.Storage
	mem   storageapi.Mempool
	log   log.Logger
	met   *metrics.Metrics

	dag       *dag.DAG
	roundTr   *roundchain.Tracker
	telemetry *telemetry.Tracker
	emission  *emission.Tracker
	model     gbdt.Model
	roundMint *hashtimer.Minter
	clock     hashtimer.TimeSource

	selfID     address.ID
	signingKey ed25519.PrivateKey
	isPrimary  bool // resolved per round from selection output
	isShadow   bool

	state State
	round uint64
}

// Deps bundles the external dependencies Executor wires together.
type Deps struct {
	Config     config.Config
	Store      storageapi.Storage
	Mempool    storageapi.Mempool
	Log        log.Logger
	Metrics    *metrics.Metrics
	DAG        *dag.DAG
	RoundTr    *roundchain.Tracker
	Telemetry  *telemetry.Tracker
	Emission   *emission.Tracker
	Model      gbdt.Model
	Clock      hashtimer.TimeSource
	SelfID     address.ID
	SigningKey ed25519.PrivateKey
	StartRound uint64
}

// New constructs an Executor ready to run from StartRound, in StateIdle.
func New(d Deps) *Executor {
	return &Executor{
		cfg:        d.Config,
		store:      d.Store,
		mem:        d.Mempool,
		log:        d.Log,
		met:        d.Metrics,
		dag:        d.DAG,
		roundTr:    d.RoundTr,
		telemetry:  d.Telemetry,
		emission:   d.Emission,
		model:      d.Model,
		roundMint:  hashtimer.NewMinter(d.Clock),
		clock:      d.Clock,
		selfID:     d.SelfID,
		signingKey: d.SigningKey,
		state:      StateIdle,
		round:      d.StartRound,
	}
}

// State returns the executor's current state machine position.
func (e *Executor) State() State { return e.state }

// Round returns the round number currently being (or about to be)
// processed.
func (e *Executor) Round() uint64 { return e.round }

// RoundResult summarizes the outcome of one RunRound call.
type RoundResult struct {
	Round        uint64
	Empty        bool
	Selection    selection.Selection
	Finalized    []dag.BlockID
	Distribution emission.Distribution
	Checkpoint   *audit.Checkpoint
	// StateRoot is the account-state root committed by this round's
	// proposed block, if any; callers pass it as the next round's
	// prevStateRoot input to RunRound, where it feeds the VRNG seed.
	StateRoot [32]byte
}

// RunRound drives the full pipeline for the executor's current round and
// advances to N+1 on success. candidates is the
// pre-extracted, ID-sorted reputation snapshot for this round (produced by
// selection.ExtractCandidates against this round's telemetry).
func (e *Executor) RunRound(candidates []selection.Candidate, prevStateRoot [32]byte) (RoundResult, error) {
	if e.state == StateHalted {
		return RoundResult{}, ErrHalted
	}

	e.state = StateSelecting
	roundHT, err := e.roundMint.Mint(hashtimer.DomainRound, nil, nil, e.selfID[:])
	if err != nil {
		return e.halt(fmt.Errorf("executor: minting round hashtimer: %w", err))
	}

	sel, err := selection.Select(e.round, prevStateRoot, candidates, e.shadowCount(), e.cfg.MinReputationScore)
	if err != nil {
		if e.met != nil {
			e.met.SelectionFailures.Inc()
		}
		e.log.Warn("round produced no selection, marking empty", "round", e.round, "error", err)
		return e.closeEmptyRound(roundHT)
	}
	e.isPrimary = sel.Primary == e.selfID
	e.isShadow = containsID(sel.Shadows, e.selfID)

	e.state = StateProposing
	var stateRoot [32]byte
	var feesCollected uint64
	if e.isPrimary {
		block, fees, err := e.propose(candidates, prevStateRoot)
		if err != nil {
			e.log.Error("propose failed, continuing round as empty for self", "round", e.round, "error", err)
		} else {
			stateRoot = block.Header.StateRoot
			feesCollected = fees
			if err := e.telemetry.RecordBlockProposal(e.selfID, e.round, uint64(block.Header.HashTimer.TimeUs-roundHT.TimeUs)); err != nil {
				e.log.Error("recording block proposal telemetry failed", "round", e.round, "error", err)
			}
		}
	}

	e.state = StateVerifying
	e.shadowVerify(sel)

	e.state = StateClosing
	finalized, err := e.roundTr.Advance()
	if err != nil {
		return e.halt(fmt.Errorf("executor: roundchain advance: %w", err))
	}
	// Finalized blocks are already durable via PutBlock; retiring them
	// from the DAG drains the pending set so admission stays live.
	e.dag.Finalize(finalized)

	contributions := e.buildContributions(sel)

	e.state = StateDistributing
	aiCommissions := uint64(0) // no AI service provider flow wired yet
	dist, err := e.emission.Distribute(e.round, feesCollected, aiCommissions, contributions)
	if err != nil {
		if errors.Is(err, emission.ErrNonSequentialRound) {
			return e.halt(fmt.Errorf("executor: %w", err))
		}
		return e.halt(fmt.Errorf("executor: distribution failed: %w", err))
	}

	var checkpoint *audit.Checkpoint
	if audit.ShouldCheckpoint(e.round, e.cfg.AuditIntervalRounds) {
		cp, err := audit.BuildCheckpoint(e.round, e.emission.CumulativeSupply(), []emission.Distribution{dist})
		if err != nil {
			e.log.Error("audit checkpoint build failed (non-fatal, round continues without a checkpoint)", "round", e.round, "error", err)
		} else {
			checkpoint = &cp
		}
	}

	if err := e.persist(sel, finalized, dist, checkpoint); err != nil {
		return e.halt(fmt.Errorf("executor: %w", err))
	}

	if e.met != nil {
		e.met.RoundsClosed.Inc()
		e.met.CumulativeSupply.Set(float64(e.emission.CumulativeSupply()))
		e.met.DAGTips.Set(float64(e.dag.TipCount()))
		e.met.PendingBlocks.Set(float64(e.dag.PendingCount()))
	}

	result := RoundResult{Round: e.round, Selection: sel, Finalized: finalized, Distribution: dist, Checkpoint: checkpoint, StateRoot: stateRoot}
	e.round++
	e.state = StateIdle
	return result, nil
}

// closeEmptyRound marks round N empty: no rewards distributed, cumulative
// supply unchanged, and the executor advances to N+1 for liveness. The
// emission tracker still records the round so its sequential-round
// invariant holds when round N+1 distributes.
func (e *Executor) closeEmptyRound(roundHT hashtimer.HashTimer) (RoundResult, error) {
	if err := e.emission.SkipRound(e.round); err != nil {
		return e.halt(fmt.Errorf("executor: recording empty round: %w", err))
	}
	if e.met != nil {
		e.met.RoundsEmpty.Inc()
	}
	result := RoundResult{Round: e.round, Empty: true}
	e.round++
	e.state = StateIdle
	return result, nil
}

// propose builds, signs, executes, and admits this round's block as the
// primary validator: it takes
// transactions from the mempool, re-executes them against the current
// account state to derive state_root/tx_merkle_root, mints a block
// HashTimer, signs the header, runs it through the finality/reorg check
// and DAG admission, then commits the resulting state view and persists
// the block. Gossip broadcast belongs to the external transport; this
// method owns everything up to and including local admission.
func (e *Executor) propose(candidates []selection.Candidate, prevStateRoot [32]byte) (dag.Block, uint64, error) {
	txs, err := e.takeTransactions()
	if err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: taking mempool transactions: %w", err)
	}

	bounds := state.BoundsFromConfig(e.cfg)
	view, stateRoot, txRoot, feesCollected, err := state.ExecuteBlock(e.store, txs, bounds)
	if err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: executing proposed block: %w", err)
	}

	parents := e.parentIDs()
	if len(parents) == 0 {
		return dag.Block{}, 0, fmt.Errorf("executor: no dag tips to extend")
	}

	blockHT, err := e.roundMint.Mint(hashtimer.DomainBlock, nil, nil, e.selfID[:])
	if err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: minting block hashtimer: %w", err)
	}

	header := dag.Header{
		Creator:      e.selfID,
		Round:        e.round,
		HashTimer:    blockHT,
		ParentIDs:    parents,
		StateRoot:    stateRoot,
		TxMerkleRoot: txRoot,
	}
	header.ID, err = dag.ComputeHeaderID(header)
	if err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: computing header id: %w", err)
	}
	preimage, err := dag.HeaderPreimage(header)
	if err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: encoding header preimage: %w", err)
	}
	copy(header.Signature[:], address.Sign(e.signingKey, preimage))

	txData := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		raw, err := state.EncodeTx(tx)
		if err != nil {
			return dag.Block{}, 0, fmt.Errorf("executor: encoding tx for block: %w", err)
		}
		txData = append(txData, raw)
	}
	block := dag.Block{Header: header, TxData: txData}

	if err := e.roundTr.CheckReorg(block); err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: reorg check: %w", err)
	}

	weight := e.creatorWeight(candidates, e.selfID)
	if err := e.dag.Admit(block, weight); err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: admitting proposed block: %w", err)
	}
	if err := view.Commit(); err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: committing state view: %w", err)
	}
	if err := e.store.PutBlock(block); err != nil {
		return dag.Block{}, 0, fmt.Errorf("executor: persisting block: %w", err)
	}

	return block, feesCollected, nil
}

// AdmitRemoteBlock validates and admits a block proposed by another
// validator: signature and HashTimer checks the
// executor's own proposals skip (they are self-minted), the finality/
// reorg check, structural DAG admission, then full re-execution of the
// block's transactions to confirm its declared state_root/tx_merkle_root.
// weight is the creator's D-GBDT selection weight at admission time.
func (e *Executor) AdmitRemoteBlock(b dag.Block, weight dag.Weight, networkMedianUs int64) error {
	if err := dag.VerifyAdmission(b, networkMedianUs); err != nil {
		return fmt.Errorf("executor: remote block failed admission checks: %w", err)
	}
	if err := e.roundTr.CheckReorg(b); err != nil {
		return fmt.Errorf("executor: remote block reorg check: %w", err)
	}
	if err := e.dag.Admit(b, weight); err != nil {
		return fmt.Errorf("executor: admitting remote block: %w", err)
	}

	txs := make([]state.Transaction, 0, len(b.TxData))
	for _, raw := range b.TxData {
		tx, err := state.DecodeTx(raw)
		if err != nil {
			return fmt.Errorf("executor: decoding remote block tx: %w", err)
		}
		txs = append(txs, tx)
	}
	bounds := state.BoundsFromConfig(e.cfg)
	view, _, err := state.VerifyBlockRoots(e.store, txs, bounds, b.Header.StateRoot, b.Header.TxMerkleRoot)
	if err != nil {
		return fmt.Errorf("executor: remote block state verification: %w", err)
	}
	if err := view.Commit(); err != nil {
		return fmt.Errorf("executor: committing remote block state: %w", err)
	}
	return e.store.PutBlock(b)
}

// shadowVerify performs this node's shadow-verifier duty for the round:
// for every current DAG tip created by the selected primary this round,
// check its signature and record an attestation. A signature failure is an
// invalid-proposal offense, slashed immediately against the primary's bond.
func (e *Executor) shadowVerify(sel selection.Selection) {
	if !e.isShadow {
		return
	}
	for _, tip := range e.dag.Tips() {
		block, ok := e.dag.Get(tip.ID)
		if !ok || block.Header.Creator != sel.Primary || block.Header.Round != e.round {
			continue
		}
		valid := dag.VerifyHeaderSignature(block.Header) == nil
		e.roundTr.RecordAttestation(roundchain.Attestation{BlockID: tip.ID, Verifier: e.selfID, Valid: valid})
		if err := e.telemetry.RecordBlockVerification(e.selfID, e.round); err != nil {
			e.log.Error("recording block verification failed", "round", e.round, "error", err)
		}
		if !valid {
			addr := address.DeriveAddress(sel.Primary)
			acc, _, err := e.store.GetAccount(addr)
			if err != nil {
				e.log.Error("loading primary bond for slashing failed", "round", e.round, "error", err)
				continue
			}
			if _, err := e.ApplySlashing(sel.Primary, slashing.OffenseInvalidProposal, acc.BalanceMicroIPN, 0); err != nil {
				e.log.Error("slashing primary for invalid proposal failed", "round", e.round, "error", err)
			}
		}
	}
}

// takeTransactions drains the mempool and decodes each entry, dropping
// (and logging) any transaction that fails to decode rather than failing
// the whole round over one malformed entry.
func (e *Executor) takeTransactions() ([]state.Transaction, error) {
	raws, err := e.mem.TakeTransactions(1000, e.cfg.MaxBlockBytes)
	if err != nil {
		return nil, err
	}
	out := make([]state.Transaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := state.DecodeTx(raw.Raw)
		if err != nil {
			e.log.Warn("dropping undecodable mempool transaction", "round", e.round, "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// parentIDs returns the current DAG tips (capped at dag.MaxParents) as the
// new block's parent set, in canonical tip order.
func (e *Executor) parentIDs() []dag.BlockID {
	tips := e.dag.Tips()
	n := len(tips)
	if n > dag.MaxParents {
		n = dag.MaxParents
	}
	out := make([]dag.BlockID, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tips[i].ID)
	}
	return out
}

// creatorWeight looks up id's D-GBDT selection score among this round's
// scored candidates, the snapshot dag.Admit records as the block's tip-
// selection weight.
func (e *Executor) creatorWeight(candidates []selection.Candidate, id address.ID) dag.Weight {
	for _, c := range candidates {
		if c.ID == id {
			return dag.Weight(c.ReputationScaled)
		}
	}
	return 0
}

func (e *Executor) shadowCount() int {
	k := e.cfg.VerifierCount - 1
	if k < 2 {
		k = 2
	}
	return k
}

// buildContributions assembles this round's per-validator contribution
// snapshot from recorded telemetry, sorted by validator id ascending.
func (e *Executor) buildContributions(sel selection.Selection) []emission.Contribution {
	idSet := set.Of(sel.Primary)
	idSet.Add(sel.Shadows...)
	ids := set.SortedList(idSet, address.Less)

	out := make([]emission.Contribution, 0, len(ids))
	for _, id := range ids {
		rec, err := e.telemetry.Get(id)
		if err != nil {
			continue
		}
		role := emission.RoleShadow
		if id == sel.Primary {
			role = emission.RolePrimary
		}
		out = append(out, emission.Contribution{
			Validator:               id,
			Role:                    role,
			BlocksProposedThisRound: boolToU64(id == sel.Primary),
			BlocksVerifiedThisRound: boolToU64(containsID(sel.Shadows, id)),
			ReputationScaled:        rec.RecentPerformanceScaled,
			UptimeScaled:            rec.UptimeRatioScaled,
			StakeNormalizedScaled:   0,
		})
	}
	return out
}

// ApplySlashing evaluates a reported offense against validator and, if
// warranted, routes the penalty into the validator's bond account and
// returns the verdict for the caller (transport/telemetry layer) to act on
// (e.g. evicting a removed validator from the selection pool). The
// executor does not detect offenses itself; detection happens in block and
// attestation verification, and the executor only applies verdicts.
func (e *Executor) ApplySlashing(validator address.ID, offense slashing.Offense, bondMicroIPN uint64, missedRounds uint64) (slashing.Verdict, error) {
	verdict, err := slashing.Apply(validator, offense, bondMicroIPN, e.round, missedRounds)
	if err != nil {
		return slashing.Verdict{}, fmt.Errorf("executor: slashing apply: %w", err)
	}
	addr := address.DeriveAddress(validator)
	acc, ok, err := e.store.GetAccount(addr)
	if err != nil {
		return slashing.Verdict{}, fmt.Errorf("executor: loading validator account for slashing: %w", err)
	}
	if !ok {
		acc = storageapi.Account{}
	}
	acc.BalanceMicroIPN = verdict.BondAfter
	if err := e.store.PutAccount(addr, acc); err != nil {
		return slashing.Verdict{}, fmt.Errorf("executor: writing slashed account: %w", err)
	}
	if e.met != nil {
		e.met.SlashEvents.WithLabelValues(offense.String()).Inc()
	}
	return verdict, nil
}

func (e *Executor) persist(sel selection.Selection, finalized []dag.BlockID, dist emission.Distribution, checkpoint *audit.Checkpoint) error {
	summary := storageapi.RoundSummary{
		Round:           e.round,
		FinalizedBlocks: finalized,
		EmittedMicroIPN: dist.Buckets.Total(),
	}
	if checkpoint != nil {
		summary.AuditDigest = checkpoint.Digest
	}
	return e.store.WriteRoundAtomic(summary)
}

// halt transitions the executor to the terminal Halted state.
func (e *Executor) halt(err error) (RoundResult, error) {
	e.state = StateHalted
	e.log.Error("executor halted", "round", e.round, "error", err)
	return RoundResult{}, err
}

func containsID(ids []address.ID, target address.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
