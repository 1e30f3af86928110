// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package address implements validator identity and account address
// handling: 32-byte Ed25519 public keys stored raw internally, Base58Check
// as the only canonical external representation, hex accepted only as an
// alternative input form.
package address

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/base58"
	"github.com/ippan/dlc/canon"
)

// ID is a validator identity: a raw 32-byte Ed25519 public key.
type ID [32]byte

// Address is a 20-byte account address derived from an ID via the BLAKE3
// KDF below.
type Address [20]byte

// checksumVersion is the single version byte prefixed before Base58Check
// encoding; bumped if the address format ever changes.
const checksumVersion byte = 0x01

var (
	ErrInvalidPublicKeyLength = errors.New("address: public key must be 32 bytes")
	ErrInvalidSignatureLength = errors.New("address: signature must be 64 bytes")
	ErrInvalidChecksum        = errors.New("address: base58check checksum mismatch")
	ErrInvalidEncoding        = errors.New("address: malformed encoding")
)

// Less reports whether a sorts strictly before b, the ascending validator-id
// order required wherever consensus math iterates a set of ids.
func Less(a, b ID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// IDFromPublicKey validates and wraps a raw Ed25519 public key.
func IDFromPublicKey(pk []byte) (ID, error) {
	if len(pk) != ed25519.PublicKeySize {
		return ID{}, ErrInvalidPublicKeyLength
	}
	var id ID
	copy(id[:], pk)
	return id, nil
}

// PublicKey returns the Ed25519 public key view of this ID.
func (id ID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

// Verify checks an Ed25519 signature over msg, using id as the public key.
func (id ID) Verify(msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(id.PublicKey(), msg, sig)
}

// Sign signs msg with the given Ed25519 private key, returning a 64-byte
// signature. Callers are responsible for ensuring priv corresponds to an ID
// previously derived via IDFromPublicKey.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Hex returns the non-canonical hex alternative form of id, accepted only
// as input, never produced as the canonical external representation.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IDFromHex parses the hex alternative input form.
func IDFromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return IDFromPublicKey(b)
}

// DeriveAddress computes the account Address for a validator ID via
// BLAKE3(canon-domain || id), truncated to 20 bytes.
func DeriveAddress(id ID) Address {
	digest := canon.HashBytes(append([]byte("ippan_address_kdf_v1"), id[:]...))
	var addr Address
	copy(addr[:], digest[:20])
	return addr
}

// String renders addr as Base58Check: version byte || payload, followed by a
// 4-byte BLAKE3 checksum of (version || payload), all base58-encoded. This
// is the only canonical external representation.
func (addr Address) String() string {
	payload := make([]byte, 0, 1+len(addr)+4)
	payload = append(payload, checksumVersion)
	payload = append(payload, addr[:]...)
	sum := canon.HashBytes(payload)
	payload = append(payload, sum[:4]...)
	return base58.Encode(payload)
}

// ParseAddress decodes the Base58Check external representation produced by
// Address.String, validating the checksum.
func ParseAddress(s string) (Address, error) {
	decoded := base58.Decode(s)
	if len(decoded) != 1+20+4 {
		return Address{}, fmt.Errorf("%w: expected 25 bytes, got %d", ErrInvalidEncoding, len(decoded))
	}
	if decoded[0] != checksumVersion {
		return Address{}, fmt.Errorf("%w: unknown version byte 0x%02x", ErrInvalidEncoding, decoded[0])
	}
	payload := decoded[:21]
	wantChecksum := decoded[21:]
	gotChecksum := canon.HashBytes(payload)
	for i := range wantChecksum {
		if wantChecksum[i] != gotChecksum[i] {
			return Address{}, ErrInvalidChecksum
		}
	}
	var addr Address
	copy(addr[:], payload[1:])
	return addr, nil
}
