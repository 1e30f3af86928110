// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command dlcnode is a reference wiring harness for the DLC consensus
// core: it loads a config file, bootstraps an in-memory storage backend
// from a genesis spec, and drives the round executor in a loop. It is
// scaffolding for exercising the core end-to-end, not a production node
// host: no networking, gossip transport, or RPC surface is wired here.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/config"
	"github.com/ippan/dlc/emission"
	"github.com/ippan/dlc/executor"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/genesis"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/log"
	"github.com/ippan/dlc/metrics"
	"github.com/ippan/dlc/roundchain"
	"github.com/ippan/dlc/selection"
	"github.com/ippan/dlc/storageapi"
	"github.com/ippan/dlc/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults applied when empty)")
	rounds := flag.Uint64("rounds", 0, "number of rounds to run before exiting (0 = run until interrupted)")
	flag.Parse()

	logger, err := log.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dlcnode: logger init failed: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *rounds, logger); err != nil {
		logger.Error("dlcnode: fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, maxRounds uint64, logger log.Logger) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadStrict(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Verify(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	store := storageapi.NewMemoryStorage()
	mempool := storageapi.NewMemoryMempool()

	modelBytes, err := os.ReadFile(cfg.AIModelPath)
	if err != nil {
		return fmt.Errorf("reading ai model file %s: %w", cfg.AIModelPath, err)
	}
	store.SetModel(cfg.AIModelPath, modelBytes)
	raw, err := store.LoadModel(cfg.AIModelPath)
	if err != nil {
		return fmt.Errorf("loading ai model through storage: %w", err)
	}
	var model gbdt.Model
	if err := json.Unmarshal(raw, &model); err != nil {
		return fmt.Errorf("parsing ai model: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating node identity: %w", err)
	}
	selfID, err := address.IDFromPublicKey(pub)
	if err != nil {
		return fmt.Errorf("deriving node id: %w", err)
	}

	var treasury address.Address
	treasury[0] = 0xFE

	spec := genesis.Spec{
		TreasuryAddress: treasury,
		TreasuryBalance: 0,
		ValidatorBonds: []genesis.ValidatorBond{
			{Validator: selfID, BondMicroIPN: cfg.BondMinimumIPN * 1_000_000},
		},
		Model:           model,
		ModelPath:       cfg.AIModelPath,
		PinnedModelHash: cfg.AIModelHash,
	}

	genesisState, err := genesis.Build(spec)
	if err != nil {
		return fmt.Errorf("building genesis: %w", err)
	}
	d, err := genesis.Apply(store, genesisState, spec, 10_000)
	if err != nil {
		return fmt.Errorf("applying genesis: %w", err)
	}

	// Seed this node's own telemetry record so the first round has at
	// least one eligible candidate; a real deployment learns peers'
	// telemetry from gossip instead.
	if err := store.PutValidatorTelemetry(selfID, telemetry.Default()); err != nil {
		return fmt.Errorf("seeding self telemetry: %w", err)
	}

	telTracker := telemetry.NewTracker(store)
	roundTr := roundchain.NewTracker(d, cfg.VerifierCount-1)
	schedule := emission.Schedule{
		R0MicroIPN:        cfg.R0MicroIPN,
		HalvingRounds:     cfg.HalvingRounds,
		SupplyCapMicroIPN: cfg.SupplyCapMicroIPN(),
	}
	emTracker := emission.NewTracker(schedule, 0)

	exec := executor.New(executor.Deps{
		Config:     cfg,
		Store:      store,
		Mempool:    mempool,
		Log:        logger,
		Metrics:    metrics.Noop(),
		DAG:        d,
		RoundTr:    roundTr,
		Telemetry:  telTracker,
		Emission:   emTracker,
		Model:      model,
		Clock:      hashtimer.SystemTimeSource{},
		SelfID:     selfID,
		SigningKey: priv,
		StartRound: 0,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var prevStateRoot [32]byte
	for i := uint64(0); maxRounds == 0 || i < maxRounds; i++ {
		select {
		case <-stop:
			logger.Info("dlcnode: received shutdown signal, stopping")
			return nil
		default:
		}

		candidates, err := snapshotCandidates(store, model, cfg.FeatureScaling)
		if err != nil {
			return fmt.Errorf("round %d: building candidate snapshot: %w", exec.Round(), err)
		}

		result, err := exec.RunRound(candidates, prevStateRoot)
		if err != nil {
			return fmt.Errorf("round %d halted: %w", exec.Round(), err)
		}
		if result.Empty {
			logger.Warn("round closed empty", "round", result.Round)
		} else {
			logger.Info("round closed", "round", result.Round, "finalized", len(result.Finalized), "primary", result.Selection.Primary.Hex())
			prevStateRoot = result.StateRoot
		}
	}
	return nil
}

// snapshotCandidates reads every known validator's telemetry and scores it
// through the pinned D-GBDT model, producing the sorted Candidate list the
// executor's selection step consumes.
func snapshotCandidates(store *storageapi.MemoryStorage, model gbdt.Model, caps config.FeatureScalingConfig) ([]selection.Candidate, error) {
	all, err := store.GetAllValidatorTelemetry()
	if err != nil {
		return nil, err
	}
	features := make(map[address.ID]telemetry.Features, len(all))
	for id, rec := range all {
		features[id] = telemetry.Extract(rec, caps)
	}
	return selection.ExtractCandidates(model, features)
}
