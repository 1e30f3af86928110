// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wireformat

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/dag"
)

// ErrTruncatedHeader is returned when a binary header buffer ends before
// every field has been consumed.
var ErrTruncatedHeader = errors.New("wireformat: truncated binary header")

// EncodeHeaderBinary renders a block header's id-preimage fields in the
// length-prefixed binary alternative encoding:
//
//	creator(32) || LE64(round) || ht_time(8) || ht_hash(32) ||
//	varint(n_parents) || parents(32*n) || state_root(32) || tx_merkle(32)
//
// ID and Signature are excluded, exactly as in the c14n-JSON preimage; the
// two encodings carry identical semantics. Neither genesis.Spec nor
// config.Config records which of the two a deployment uses. The parent
// count uses protobuf's unsigned varint scheme.
func EncodeHeaderBinary(h dag.Header) []byte {
	out := make([]byte, 0, 32+8+8+32+1+32*len(h.ParentIDs)+32+32)
	out = append(out, h.Creator[:]...)
	out = append(out, canon.LE64(h.Round)...)
	out = append(out, canon.LE64(uint64(h.HashTimer.TimeUs))...)
	out = append(out, h.HashTimer.Hash[:]...)
	out = protowire.AppendVarint(out, uint64(len(h.ParentIDs)))
	for _, pid := range h.ParentIDs {
		out = append(out, pid[:]...)
	}
	out = append(out, h.StateRoot[:]...)
	out = append(out, h.TxMerkleRoot[:]...)
	return out
}

// DecodeHeaderBinary parses the encoding produced by EncodeHeaderBinary.
// The returned header has no ID or Signature; callers derive the id from
// the canonical preimage and verify the signature separately.
func DecodeHeaderBinary(b []byte) (dag.Header, error) {
	var h dag.Header

	if len(b) < 32+8+8+32 {
		return h, ErrTruncatedHeader
	}
	copy(h.Creator[:], b[:32])
	b = b[32:]
	h.Round = le64(b[:8])
	b = b[8:]
	h.HashTimer.TimeUs = int64(le64(b[:8]))
	b = b[8:]
	copy(h.HashTimer.Hash[:], b[:32])
	b = b[32:]

	nParents, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return h, fmt.Errorf("%w: malformed parent count", ErrTruncatedHeader)
	}
	b = b[n:]
	if nParents > dag.MaxParents {
		return h, fmt.Errorf("wireformat: parent count %d exceeds bound %d", nParents, dag.MaxParents)
	}
	if uint64(len(b)) < nParents*32+64 {
		return h, ErrTruncatedHeader
	}
	h.ParentIDs = make([]dag.BlockID, nParents)
	for i := range h.ParentIDs {
		copy(h.ParentIDs[i][:], b[:32])
		b = b[32:]
	}
	copy(h.StateRoot[:], b[:32])
	b = b[32:]
	copy(h.TxMerkleRoot[:], b[:32])
	b = b[32:]
	if len(b) != 0 {
		return h, fmt.Errorf("wireformat: %d trailing bytes after binary header", len(b))
	}
	return h, nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
