// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wireformat

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/dag"
)

type ed25519Signer struct {
	priv ed25519.PrivateKey
}

func (s ed25519Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

func TestEncodeDecodeRoundAnnounceV1(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sender, err := address.IDFromPublicKey(pub)
	require.NoError(t, err)

	body := RoundAnnounceV1{Round: 42, StartUs: 1000}
	env, err := EncodeEnvelope(MessageTypeRoundAnnounceV1, sender, body)
	require.NoError(t, err)

	env.Sign(ed25519Signer{priv: priv})
	require.True(t, env.Verify())

	decoded, err := DecodeRoundAnnounceV1(env)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func TestVerifyFailsOnTamperedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sender, err := address.IDFromPublicKey(pub)
	require.NoError(t, err)

	env, err := EncodeEnvelope(MessageTypeTxV1, sender, TxV1{Raw: []byte("hello")})
	require.NoError(t, err)
	env.Sign(ed25519Signer{priv: priv})

	env.Payload = []byte(`{"raw":"dGFtcGVyZWQ="}`)
	require.False(t, env.Verify())
}

func TestDecodeWrongTypeFails(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sender, err := address.IDFromPublicKey(pub)
	require.NoError(t, err)

	env, err := EncodeEnvelope(MessageTypeTxV1, sender, TxV1{Raw: []byte("x")})
	require.NoError(t, err)

	_, err = DecodeBlockV1(env)
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestEncodeBlockV1RoundTrips(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sender, err := address.IDFromPublicKey(pub)
	require.NoError(t, err)

	var id dag.BlockID
	id[0] = 1
	body := BlockV1{
		Header: dag.Header{ID: id, Round: 3, ParentIDs: []dag.BlockID{}},
		TxData: [][]byte{[]byte("tx1")},
	}
	env, err := EncodeEnvelope(MessageTypeBlockV1, sender, body)
	require.NoError(t, err)

	decoded, err := DecodeBlockV1(env)
	require.NoError(t, err)
	require.Equal(t, body.Header.ID, decoded.Header.ID)
	require.Equal(t, body.Header.Round, decoded.Header.Round)
	require.Equal(t, body.TxData, decoded.TxData)
}
