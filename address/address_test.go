// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package address

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDFromPublicKeyRejectsWrongLength(t *testing.T) {
	_, err := IDFromPublicKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidPublicKeyLength)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, err := IDFromPublicKey(pub)
	require.NoError(t, err)

	msg := []byte("dlc round 42")
	sig := Sign(priv, msg)
	require.True(t, id.Verify(msg, sig))
	require.False(t, id.Verify([]byte("tampered"), sig))
}

func TestAddressBase58CheckRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, err := IDFromPublicKey(pub)
	require.NoError(t, err)

	addr := DeriveAddress(id)
	s := addr.String()
	back, err := ParseAddress(s)
	require.NoError(t, err)
	require.Equal(t, addr, back)
}

func TestParseAddressRejectsTamperedChecksum(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, err := IDFromPublicKey(pub)
	require.NoError(t, err)
	s := DeriveAddress(id).String()

	tampered := []byte(s)
	// flip last character to corrupt checksum (last base58 char encodes low-order bits)
	if tampered[len(tampered)-1] == 'a' {
		tampered[len(tampered)-1] = 'b'
	} else {
		tampered[len(tampered)-1] = 'a'
	}
	_, err = ParseAddress(string(tampered))
	require.Error(t, err)
}

func TestHexIsAlternativeInputOnly(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, err := IDFromPublicKey(pub)
	require.NoError(t, err)

	back, err := IDFromHex(id.Hex())
	require.NoError(t, err)
	require.Equal(t, id, back)
}
