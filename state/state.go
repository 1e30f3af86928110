// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state implements the per-round account-state transition:
// transaction signature/nonce/fee/balance validation, account mutation,
// and the state_root/tx_merkle_root computation a block header commits to.
package state

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/config"
	"github.com/ippan/dlc/storageapi"
)

var (
	ErrInvalidTxSignature  = errors.New("state: invalid transaction signature")
	ErrInvalidTxNonce      = errors.New("state: invalid transaction nonce")
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrFeeOutOfRange       = errors.New("state: fee out of configured range")
	ErrInvalidStateRoot    = errors.New("state: state root mismatch")
	ErrBlockSizeExceeded   = errors.New("state: block size exceeded")
)

// TxType enumerates the transaction kinds the account model supports.
type TxType int

const (
	TxPayment TxType = iota
	TxHandleRegistration
	TxValidatorBond
	TxValidatorUnbond
	TxGovernanceVote
)

func (t TxType) String() string {
	switch t {
	case TxPayment:
		return "payment"
	case TxHandleRegistration:
		return "handle_registration"
	case TxValidatorBond:
		return "validator_bond"
	case TxValidatorUnbond:
		return "validator_unbond"
	case TxGovernanceVote:
		return "governance_vote"
	default:
		return "unknown"
	}
}

// Transaction is a signed, structured state transition.
type Transaction struct {
	Type           TxType
	Sender         address.ID
	Recipient      address.Address
	AmountMicroIPN uint64
	Nonce          uint64
	FeeMicroIPN    uint64
	Payload        []byte
	Signature      [64]byte
}

// txPreimage is every Transaction field the signature and hash cover;
// Signature itself is excluded, mirroring dag.HeaderPreimage.
type txPreimage struct {
	Type           TxType          `json:"type"`
	Sender         address.ID      `json:"sender"`
	Recipient      address.Address `json:"recipient"`
	AmountMicroIPN uint64          `json:"amount_micro_ipn"`
	Nonce          uint64          `json:"nonce"`
	FeeMicroIPN    uint64          `json:"fee_micro_ipn"`
	Payload        []byte          `json:"payload"`
}

func (tx Transaction) preimage() ([]byte, error) {
	return canon.Encode(txPreimage{
		Type:           tx.Type,
		Sender:         tx.Sender,
		Recipient:      tx.Recipient,
		AmountMicroIPN: tx.AmountMicroIPN,
		Nonce:          tx.Nonce,
		FeeMicroIPN:    tx.FeeMicroIPN,
		Payload:        tx.Payload,
	})
}

// Hash returns the transaction's content-addressed id: BLAKE3 over its
// c14n-encoded preimage.
func (tx Transaction) Hash() ([32]byte, error) {
	pre, err := tx.preimage()
	if err != nil {
		return [32]byte{}, fmt.Errorf("state: encoding tx preimage: %w", err)
	}
	return canon.HashBytes(pre), nil
}

// Sign signs the transaction's preimage with priv and sets Signature.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) error {
	pre, err := tx.preimage()
	if err != nil {
		return fmt.Errorf("state: encoding tx preimage: %w", err)
	}
	copy(tx.Signature[:], address.Sign(priv, pre))
	return nil
}

// VerifySignature checks tx.Signature against tx.Sender over the tx
// preimage.
func (tx Transaction) VerifySignature() error {
	pre, err := tx.preimage()
	if err != nil {
		return fmt.Errorf("state: encoding tx preimage: %w", err)
	}
	if !tx.Sender.Verify(pre, tx.Signature[:]) {
		return ErrInvalidTxSignature
	}
	return nil
}

// Bounds are the per-deployment transaction admission limits
// (min_fee_micro_ipn, max_fee_micro_ipn, max_block_bytes).
type Bounds struct {
	MinFeeMicroIPN uint64
	MaxFeeMicroIPN uint64
	MaxBlockBytes  int
}

// BoundsFromConfig adapts a node Config into the Bounds ExecuteBlock
// enforces.
func BoundsFromConfig(cfg config.Config) Bounds {
	return Bounds{
		MinFeeMicroIPN: cfg.MinFeeMicroIPN,
		MaxFeeMicroIPN: cfg.MaxFeeMicroIPN,
		MaxBlockBytes:  cfg.MaxBlockBytes,
	}
}

// View is a copy-on-write overlay over a Storage snapshot, accumulating
// account mutations for one block's candidate transaction batch before
// those mutations are committed to durable storage. Nothing is written
// back until the block itself is admitted.
type View struct {
	store   storageapi.Storage
	overlay map[address.Address]storageapi.Account
}

// NewView constructs a View over store with an empty overlay.
func NewView(store storageapi.Storage) *View {
	return &View{store: store, overlay: make(map[address.Address]storageapi.Account)}
}

func (v *View) getAccount(addr address.Address) (storageapi.Account, error) {
	if acc, ok := v.overlay[addr]; ok {
		return acc, nil
	}
	acc, ok, err := v.store.GetAccount(addr)
	if err != nil {
		return storageapi.Account{}, err
	}
	if !ok {
		return storageapi.Account{}, nil
	}
	return acc, nil
}

// ApplyTransaction validates tx against the view's current account state
// and, on success, mutates the sender/recipient balances in the overlay:
// signature check, fee-bound check, strict nonce contiguity (tx.Nonce must
// equal the sender's current account nonce, rejecting replays, gaps, and
// duplicates within the same block), and balance sufficiency for
// amount+fee.
func (v *View) ApplyTransaction(tx Transaction, bounds Bounds) (uint64, error) {
	if err := tx.VerifySignature(); err != nil {
		return 0, err
	}
	if tx.FeeMicroIPN < bounds.MinFeeMicroIPN || tx.FeeMicroIPN > bounds.MaxFeeMicroIPN {
		return 0, fmt.Errorf("%w: fee=%d bounds=[%d,%d]", ErrFeeOutOfRange, tx.FeeMicroIPN, bounds.MinFeeMicroIPN, bounds.MaxFeeMicroIPN)
	}

	senderAddr := address.DeriveAddress(tx.Sender)
	sender, err := v.getAccount(senderAddr)
	if err != nil {
		return 0, err
	}
	if tx.Nonce != sender.Nonce {
		return 0, fmt.Errorf("%w: account nonce=%d tx nonce=%d", ErrInvalidTxNonce, sender.Nonce, tx.Nonce)
	}

	total := tx.AmountMicroIPN + tx.FeeMicroIPN
	if total < tx.AmountMicroIPN {
		return 0, fmt.Errorf("%w: amount+fee overflow", ErrInsufficientBalance)
	}
	if sender.BalanceMicroIPN < total {
		return 0, fmt.Errorf("%w: balance=%d required=%d", ErrInsufficientBalance, sender.BalanceMicroIPN, total)
	}

	sender.BalanceMicroIPN -= total
	sender.Nonce++
	if tx.Type == TxHandleRegistration && len(tx.Payload) > 0 {
		sender.Handles = append(sender.Handles, string(tx.Payload))
	}
	v.overlay[senderAddr] = sender

	if tx.AmountMicroIPN > 0 && tx.Recipient != senderAddr {
		recipient, err := v.getAccount(tx.Recipient)
		if err != nil {
			return 0, err
		}
		recipient.BalanceMicroIPN += tx.AmountMicroIPN
		v.overlay[tx.Recipient] = recipient
	}

	return tx.FeeMicroIPN, nil
}

// Commit flushes every overlaid account mutation to the backing store.
func (v *View) Commit() error {
	for addr, acc := range v.overlay {
		if err := v.store.PutAccount(addr, acc); err != nil {
			return fmt.Errorf("state: committing account %x: %w", addr, err)
		}
	}
	return nil
}

// MerkleRoot computes the account-state Merkle root over the view's
// resulting state: the backing store's full account snapshot with the
// view's overlay applied on top, leaves ordered by address ascending for
// deterministic iteration, hashed with the same binary-tree convention as
// TxMerkleRoot.
func (v *View) MerkleRoot() ([32]byte, error) {
	lister, ok := v.store.(storageapi.AccountLister)
	if !ok {
		return [32]byte{}, fmt.Errorf("state: storage backend does not implement AccountLister")
	}
	base, err := lister.GetAllAccounts()
	if err != nil {
		return [32]byte{}, fmt.Errorf("state: listing accounts: %w", err)
	}
	merged := make(map[address.Address]storageapi.Account, len(base)+len(v.overlay))
	for addr, acc := range base {
		merged[addr] = acc
	}
	for addr, acc := range v.overlay {
		merged[addr] = acc
	}

	addrs := make([]address.Address, 0, len(merged))
	for addr := range merged {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	leaves := make([][32]byte, 0, len(addrs))
	for _, addr := range addrs {
		h, err := canon.Hash(struct {
			Addr address.Address    `json:"addr"`
			Acc  storageapi.Account `json:"account"`
		}{addr, merged[addr]})
		if err != nil {
			return [32]byte{}, fmt.Errorf("state: hashing account leaf: %w", err)
		}
		leaves = append(leaves, h)
	}
	return merkleRoot(leaves), nil
}

// TxMerkleRoot computes the tx_merkle_root leaf set in block order:
// transaction order within a block is meaningful, so unlike the account
// state root this is not re-sorted.
func TxMerkleRoot(txs []Transaction) ([32]byte, error) {
	leaves := make([][32]byte, 0, len(txs))
	for _, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			return [32]byte{}, fmt.Errorf("state: hashing tx: %w", err)
		}
		leaves = append(leaves, h)
	}
	return merkleRoot(leaves), nil
}

// merkleRoot builds a binary Merkle tree over leaves, duplicating the
// final leaf when a level has an odd count, hashing each parent as
// BLAKE3(left || right).
func merkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, concatHash(left, right))
		}
		level = next
	}
	return level[0]
}

func concatHash(a, b [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return canon.HashBytes(buf)
}

// ExecuteBlock validates and applies an ordered transaction batch against
// store's current state, returning the resulting View (not yet
// committed), the computed state_root/tx_merkle_root, and total fees
// collected. Per-sender nonce contiguity (and therefore double-spend and
// duplicate-nonce rejection) falls directly out of View's
// sequential application: a second transaction from the same sender
// reusing a nonce is rejected by ApplyTransaction once the first has
// already advanced that sender's nonce in the overlay.
func ExecuteBlock(store storageapi.Storage, txs []Transaction, bounds Bounds) (*View, [32]byte, [32]byte, uint64, error) {
	if bounds.MaxBlockBytes > 0 {
		var totalBytes int
		for _, tx := range txs {
			pre, err := tx.preimage()
			if err != nil {
				return nil, [32]byte{}, [32]byte{}, 0, fmt.Errorf("state: encoding tx: %w", err)
			}
			totalBytes += len(pre)
		}
		if totalBytes > bounds.MaxBlockBytes {
			return nil, [32]byte{}, [32]byte{}, 0, fmt.Errorf("%w: %d bytes > %d", ErrBlockSizeExceeded, totalBytes, bounds.MaxBlockBytes)
		}
	}

	view := NewView(store)
	var feesCollected uint64
	for i, tx := range txs {
		fee, err := view.ApplyTransaction(tx, bounds)
		if err != nil {
			return nil, [32]byte{}, [32]byte{}, 0, fmt.Errorf("state: tx[%d]: %w", i, err)
		}
		feesCollected += fee
	}

	txRoot, err := TxMerkleRoot(txs)
	if err != nil {
		return nil, [32]byte{}, [32]byte{}, 0, err
	}
	stateRoot, err := view.MerkleRoot()
	if err != nil {
		return nil, [32]byte{}, [32]byte{}, 0, err
	}
	return view, stateRoot, txRoot, feesCollected, nil
}

// VerifyBlockRoots re-executes txs against store and confirms the
// resulting roots match wantStateRoot/wantTxRoot: the check an admitting
// node runs against an externally-proposed block.
func VerifyBlockRoots(store storageapi.Storage, txs []Transaction, bounds Bounds, wantStateRoot, wantTxRoot [32]byte) (*View, uint64, error) {
	view, stateRoot, txRoot, fees, err := ExecuteBlock(store, txs, bounds)
	if err != nil {
		return nil, 0, err
	}
	if stateRoot != wantStateRoot || txRoot != wantTxRoot {
		return nil, 0, ErrInvalidStateRoot
	}
	return view, fees, nil
}

// wireTx is Transaction's encode/decode shape: unlike the hash/sign
// preimage, it includes Signature.
type wireTx struct {
	Type           TxType          `json:"type"`
	Sender         address.ID      `json:"sender"`
	Recipient      address.Address `json:"recipient"`
	AmountMicroIPN uint64          `json:"amount_micro_ipn"`
	Nonce          uint64          `json:"nonce"`
	FeeMicroIPN    uint64          `json:"fee_micro_ipn"`
	Payload        []byte          `json:"payload"`
	Signature      [64]byte        `json:"signature"`
}

// EncodeTx canon-encodes tx for mempool/storage transport, matching
// wireformat's c14n-JSON payload convention.
func EncodeTx(tx Transaction) ([]byte, error) {
	return canon.Encode(wireTx{
		Type:           tx.Type,
		Sender:         tx.Sender,
		Recipient:      tx.Recipient,
		AmountMicroIPN: tx.AmountMicroIPN,
		Nonce:          tx.Nonce,
		FeeMicroIPN:    tx.FeeMicroIPN,
		Payload:        tx.Payload,
		Signature:      tx.Signature,
	})
}

// DecodeTx parses a canon-encoded Transaction, the inverse of EncodeTx.
// c14n-v1 is a restricted, sorted-key JSON dialect, so the standard
// decoder reads it back directly (matching wireformat.decodeJSON).
func DecodeTx(raw []byte) (Transaction, error) {
	var w wireTx
	if err := json.Unmarshal(raw, &w); err != nil {
		return Transaction{}, fmt.Errorf("state: decoding transaction: %w", err)
	}
	return Transaction{
		Type:           w.Type,
		Sender:         w.Sender,
		Recipient:      w.Recipient,
		AmountMicroIPN: w.AmountMicroIPN,
		Nonce:          w.Nonce,
		FeeMicroIPN:    w.FeeMicroIPN,
		Payload:        w.Payload,
		Signature:      w.Signature,
	}, nil
}
