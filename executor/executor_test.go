// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/config"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/emission"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/log"
	"github.com/ippan/dlc/metrics"
	"github.com/ippan/dlc/roundchain"
	"github.com/ippan/dlc/selection"
	"github.com/ippan/dlc/slashing"
	"github.com/ippan/dlc/storageapi"
	"github.com/ippan/dlc/telemetry"
)

// fixedClock is a deterministic hashtimer.TimeSource for tests: each call
// to NowUs advances by one microsecond so HashTimer minting never stalls
// on a duplicate timestamp, without depending on wall-clock time.
type fixedClock struct{ us int64 }

func (c *fixedClock) NowUs() int64 {
	c.us++
	return c.us
}
func (c *fixedClock) NetworkMedianUs() int64 { return c.us }

func idWithByte(b byte) address.ID {
	var id address.ID
	id[0] = b
	return id
}

func flatModel(leafVal int64) gbdt.Model {
	v := leafVal
	return gbdt.Model{
		Scale:     1000,
		PostScale: 10_000,
		Trees: []gbdt.Tree{
			{Weight: 1000, Nodes: []gbdt.Node{{ID: 0, Leaf: &v}}},
		},
	}
}

func newTestExecutor(t *testing.T, nValidators int) (*Executor, *storageapi.MemoryStorage, []selection.Candidate) {
	t.Helper()

	store := storageapi.NewMemoryStorage()
	mempool := storageapi.NewMemoryMempool()
	tel := telemetry.NewTracker(store)

	selfPub, selfPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	self, err := address.IDFromPublicKey(selfPub)
	require.NoError(t, err)

	candidates := make([]selection.Candidate, 0, nValidators)
	for i := 0; i < nValidators; i++ {
		id := self
		if i > 0 {
			id = idWithByte(byte(i + 1))
		}
		candidates = append(candidates, selection.Candidate{ID: id, ReputationScaled: 9000})
		_, err := tel.Get(id)
		require.NoError(t, err)
	}

	d := dag.New(1000)
	genesisHeader := dag.Header{Round: 0}
	genesisBlock := dag.Block{Header: genesisHeader}
	require.NoError(t, d.Genesis(genesisBlock, 0))

	roundTr := roundchain.NewTracker(d, nValidators-1)
	emTr := emission.NewTracker(emission.DefaultSchedule(), 0)
	cfg := config.DefaultConfig()
	cfg.VerifierCount = nValidators

	exec := New(Deps{
		Config:     cfg,
		Store:      store,
		Mempool:    mempool,
		Log:        log.NewNoOpLogger(),
		Metrics:    metrics.Noop(),
		DAG:        d,
		RoundTr:    roundTr,
		Telemetry:  tel,
		Emission:   emTr,
		Model:      flatModel(9000),
		Clock:      &fixedClock{},
		SelfID:     self,
		SigningKey: selfPriv,
		StartRound: 0,
	})
	return exec, store, candidates
}

func TestRunRoundHappyPathAdvancesRound(t *testing.T) {
	exec, _, candidates := newTestExecutor(t, 5)

	result, err := exec.RunRound(candidates, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.Round)
	require.Equal(t, StateIdle, exec.State())
	require.Equal(t, uint64(1), exec.Round())
	require.False(t, result.Empty)
	require.NotEqual(t, address.ID{}, result.Selection.Primary)
}

func TestRunRoundProducesEmptyRoundWhenNoEligibleValidators(t *testing.T) {
	exec, _, _ := newTestExecutor(t, 5)

	// Candidates all below the minimum reputation floor and insufficient
	// to clear even after MaxRetries step-downs.
	starved := []selection.Candidate{
		{ID: idWithByte(1), ReputationScaled: 0},
	}

	result, err := exec.RunRound(starved, [32]byte{})
	require.NoError(t, err)
	require.True(t, result.Empty)
	require.Equal(t, StateIdle, exec.State())
	require.Equal(t, uint64(1), exec.Round())
}

// An empty round must not desynchronize the emission tracker: the next
// round with eligible candidates distributes normally instead of halting
// on a sequential-round violation.
func TestRunRoundRecoversAfterEmptyRound(t *testing.T) {
	exec, _, candidates := newTestExecutor(t, 5)

	starved := []selection.Candidate{{ID: idWithByte(1), ReputationScaled: 0}}
	result, err := exec.RunRound(starved, [32]byte{})
	require.NoError(t, err)
	require.True(t, result.Empty)

	result, err = exec.RunRound(candidates, [32]byte{})
	require.NoError(t, err)
	require.False(t, result.Empty)
	require.Equal(t, uint64(1), result.Round)
	require.Equal(t, StateIdle, exec.State())
}

func TestRunRoundHaltsOnNonSequentialEmission(t *testing.T) {
	exec, _, candidates := newTestExecutor(t, 5)

	// Force the emission tracker out of sequence with the executor's
	// round counter so Distribute returns ErrNonSequentialRound, which is
	// fatal.
	exec.emission = emission.NewTracker(emission.DefaultSchedule(), 0)
	_, err := exec.emission.Distribute(0, 0, 0, nil)
	require.NoError(t, err)
	// Tracker now expects round 1 next; exec.round is still 0, so
	// RunRound's Distribute(exec.round, ...) call is rejected as
	// non-sequential and the executor halts.

	_, err = exec.RunRound(candidates, [32]byte{})
	require.Error(t, err)
	require.Equal(t, StateHalted, exec.State())

	_, err = exec.RunRound(candidates, [32]byte{})
	require.ErrorIs(t, err, ErrHalted)
}

func TestApplySlashingWritesPenalizedBalance(t *testing.T) {
	exec, store, _ := newTestExecutor(t, 5)

	validator := idWithByte(1)
	addr := address.DeriveAddress(validator)
	require.NoError(t, store.PutAccount(addr, storageapi.Account{BalanceMicroIPN: 10_000_000}))

	verdict, err := exec.ApplySlashing(validator, slashing.OffenseDoubleSigning, 10_000_000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), verdict.BondAfter)

	acc, ok, err := store.GetAccount(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5_000_000), acc.BalanceMicroIPN)
}

func TestStateStringCoversAllStates(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "selecting", StateSelecting.String())
	require.Equal(t, "proposing", StateProposing.String())
	require.Equal(t, "verifying", StateVerifying.String())
	require.Equal(t, "closing", StateClosing.String())
	require.Equal(t, "distributing", StateDistributing.String())
	require.Equal(t, "halted", StateHalted.String())
}

func TestHashTimerMinterIsWiredWithDomainRound(t *testing.T) {
	clock := &fixedClock{}
	minter := hashtimer.NewMinter(clock)
	id := idWithByte(1)
	ht, err := minter.Mint(hashtimer.DomainRound, nil, nil, id[:])
	require.NoError(t, err)
	require.NotZero(t, ht.TimeUs)
}
