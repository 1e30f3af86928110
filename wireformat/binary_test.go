// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wireformat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/hashtimer"
)

func testHeader() dag.Header {
	var parent dag.BlockID
	parent[0] = 0xAB
	h := dag.Header{
		Round:     7,
		HashTimer: hashtimer.HashTimer{TimeUs: 123456},
		ParentIDs: []dag.BlockID{parent},
	}
	h.Creator[0] = 0x01
	h.HashTimer.Hash[0] = 0x02
	h.StateRoot[0] = 0x03
	h.TxMerkleRoot[0] = 0x04
	return h
}

func TestHeaderBinaryRoundTrips(t *testing.T) {
	h := testHeader()
	raw := EncodeHeaderBinary(h)
	decoded, err := DecodeHeaderBinary(raw)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHeaderBinaryRejectsTruncation(t *testing.T) {
	raw := EncodeHeaderBinary(testHeader())
	for _, cut := range []int{0, 10, 31, len(raw) - 1} {
		_, err := DecodeHeaderBinary(raw[:cut])
		require.Error(t, err, "cut=%d", cut)
	}
}

func TestDecodeHeaderBinaryRejectsTrailingBytes(t *testing.T) {
	raw := append(EncodeHeaderBinary(testHeader()), 0x00)
	_, err := DecodeHeaderBinary(raw)
	require.Error(t, err)
}

func TestDecodeHeaderBinaryRejectsExcessParents(t *testing.T) {
	h := testHeader()
	h.ParentIDs = make([]dag.BlockID, dag.MaxParents+1)
	raw := EncodeHeaderBinary(h)
	_, err := DecodeHeaderBinary(raw)
	require.Error(t, err)
}
