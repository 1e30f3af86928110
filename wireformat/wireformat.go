// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wireformat defines the gossip message contract: the signed
// message envelope and the five message types nodes exchange. Canonical
// encoding uses canon's c14n-v1 JSON, matching the block-id encoding rule.
package wireformat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ippan/dlc/address"
	"github.com/ippan/dlc/canon"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/selection"
)

// MaxMessageBytes bounds a single gossip message.
const MaxMessageBytes = 10 * 1024 * 1024

// MaxMessagesPerSecondPerPeer is the per-peer gossip rate limit; the
// transport drops rather than queues past it.
const MaxMessagesPerSecondPerPeer = 1000

var (
	ErrUnknownMessageType = errors.New("wireformat: unknown message type")
	ErrMessageTooLarge    = errors.New("wireformat: message exceeds MaxMessageBytes")
)

// MessageType enumerates the gossip contract's message kinds.
type MessageType string

const (
	MessageTypeBlockV1              MessageType = "BlockV1"
	MessageTypeTxV1                 MessageType = "TxV1"
	MessageTypeRoundAnnounceV1      MessageType = "RoundAnnounceV1"
	MessageTypeSelectionProofV1     MessageType = "SelectionProofV1"
	MessageTypeShadowAttestationV1  MessageType = "ShadowAttestationV1"
)

// Envelope is the signed wrapper every gossip message travels in.
type Envelope struct {
	Type      MessageType `json:"type"`
	Sender    address.ID  `json:"sender"`
	Payload   []byte      `json:"payload"` // canon-encoded body for Type
	Signature [64]byte    `json:"signature"`
}

// Sign populates Signature over (Type || Sender || Payload).
func (e *Envelope) Sign(priv interface {
	Sign(msg []byte) []byte
}) {
	sig := priv.Sign(e.preimage())
	copy(e.Signature[:], sig)
}

// Verify checks the envelope's signature against its declared sender.
func (e Envelope) Verify() bool {
	return e.Sender.Verify(e.preimage(), e.Signature[:])
}

func (e Envelope) preimage() []byte {
	buf := make([]byte, 0, len(e.Type)+32+len(e.Payload))
	buf = append(buf, []byte(e.Type)...)
	buf = append(buf, e.Sender[:]...)
	buf = append(buf, e.Payload...)
	return buf
}

// BlockV1 carries a proposed or admitted block.
type BlockV1 struct {
	Header dag.Header `json:"header"`
	TxData [][]byte   `json:"tx_data"`
}

// TxV1 carries a single transaction for mempool admission.
type TxV1 struct {
	Raw []byte `json:"raw"`
}

// RoundAnnounceV1 announces a round's opening parameters.
type RoundAnnounceV1 struct {
	Round     uint64              `json:"round"`
	StartUs   int64               `json:"start_us"`
	HashTimer hashtimer.HashTimer `json:"hashtimer"`
}

// SelectionProofV1 carries a replayable verifier-selection proof.
type SelectionProofV1 struct {
	Proof selection.Proof `json:"proof"`
}

// ShadowAttestationV1 carries one shadow verifier's attestation on a
// proposed block.
type ShadowAttestationV1 struct {
	BlockID  dag.BlockID `json:"block_id"`
	Verifier address.ID  `json:"verifier"`
	Valid    bool        `json:"valid"`
}

// EncodeEnvelope builds a signed-ready Envelope from a typed payload.
func EncodeEnvelope(msgType MessageType, sender address.ID, body interface{}) (Envelope, error) {
	payload, err := canon.Encode(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("wireformat: encoding %s payload: %w", msgType, err)
	}
	if len(payload) > MaxMessageBytes {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	return Envelope{Type: msgType, Sender: sender, Payload: payload}, nil
}

// DecodeBlockV1 decodes a BlockV1 from an envelope's payload.
func DecodeBlockV1(e Envelope) (BlockV1, error) {
	var b BlockV1
	if e.Type != MessageTypeBlockV1 {
		return b, fmt.Errorf("%w: %s", ErrUnknownMessageType, e.Type)
	}
	return b, decodeJSON(e.Payload, &b)
}

// DecodeTxV1 decodes a TxV1 from an envelope's payload.
func DecodeTxV1(e Envelope) (TxV1, error) {
	var tx TxV1
	if e.Type != MessageTypeTxV1 {
		return tx, fmt.Errorf("%w: %s", ErrUnknownMessageType, e.Type)
	}
	return tx, decodeJSON(e.Payload, &tx)
}

// DecodeRoundAnnounceV1 decodes a RoundAnnounceV1 from an envelope's payload.
func DecodeRoundAnnounceV1(e Envelope) (RoundAnnounceV1, error) {
	var r RoundAnnounceV1
	if e.Type != MessageTypeRoundAnnounceV1 {
		return r, fmt.Errorf("%w: %s", ErrUnknownMessageType, e.Type)
	}
	return r, decodeJSON(e.Payload, &r)
}

// DecodeSelectionProofV1 decodes a SelectionProofV1 from an envelope's payload.
func DecodeSelectionProofV1(e Envelope) (SelectionProofV1, error) {
	var s SelectionProofV1
	if e.Type != MessageTypeSelectionProofV1 {
		return s, fmt.Errorf("%w: %s", ErrUnknownMessageType, e.Type)
	}
	return s, decodeJSON(e.Payload, &s)
}

// DecodeShadowAttestationV1 decodes a ShadowAttestationV1 from an
// envelope's payload.
func DecodeShadowAttestationV1(e Envelope) (ShadowAttestationV1, error) {
	var s ShadowAttestationV1
	if e.Type != MessageTypeShadowAttestationV1 {
		return s, fmt.Errorf("%w: %s", ErrUnknownMessageType, e.Type)
	}
	return s, decodeJSON(e.Payload, &s)
}

// decodeJSON parses a canon-encoded payload back into out. c14n-v1 is a
// restricted, sorted-key JSON dialect, so any standard JSON decoder can
// read it back; only producing it requires canon's canonicalization rules.
func decodeJSON(payload []byte, out interface{}) error {
	return json.Unmarshal(payload, out)
}
