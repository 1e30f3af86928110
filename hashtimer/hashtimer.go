// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hashtimer implements the HashTimer / IPPAN Time primitive: a
// microsecond-precision, cryptographically anchored total ordering of
// events.
package hashtimer

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ippan/dlc/canon"
)

// Epoch is the zero point of time_us: 2020-01-01T00:00:00Z.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Domains used to mint HashTimers.
const (
	DomainBlock = "ippan_block_v1"
	DomainRound = "ippan_round_v1"
	DomainTx    = "ippan_tx_v1"
)

// MaxDriftUs is the maximum permitted drift between a minted HashTimer's
// time_us and the local/network-compensated clock: 500 ms.
const MaxDriftUs int64 = 500_000

// ErrClockDriftExceeded is returned when local time strays too far from the
// peer-median network time.
var ErrClockDriftExceeded = errors.New("hashtimer: clock drift exceeded")

// ErrHashTimerMismatch is returned when a HashTimer fails verification.
var ErrHashTimerMismatch = errors.New("hashtimer: hash mismatch")

// TimeSource abstracts the ambient clock so production code can use the
// monotonic OS clock corrected by peer medians while tests inject
// deterministic clocks.
type TimeSource interface {
	// NowUs returns the local clock's current microseconds-since-Epoch.
	NowUs() int64
	// NetworkMedianUs returns the peer-median microseconds-since-Epoch
	// ("IPPAN Time"), used to compensate for local clock drift.
	NetworkMedianUs() int64
}

// SystemTimeSource is a TimeSource backed by the OS wall clock (time.Since a
// fixed Epoch, which carries no monotonic reading), with no
// peer correction (NetworkMedianUs falls back to the local clock). Intended
// for single-node/testing use; multi-node deployments must supply a
// TimeSource that tracks the actual peer median.
type SystemTimeSource struct{}

func (SystemTimeSource) NowUs() int64 {
	return time.Since(Epoch).Microseconds()
}

func (SystemTimeSource) NetworkMedianUs() int64 {
	return time.Since(Epoch).Microseconds()
}

// HashTimer binds an event to a deterministic microsecond timestamp and a
// content hash.
type HashTimer struct {
	TimeUs int64    `json:"time_us"`
	Hash   [32]byte `json:"hash"`
}

// Minter mints monotonically increasing HashTimers and exposes verification.
// time_us strictly increases across every Mint call on one Minter, whatever
// the domain; the executor uses a single Minter for both its round and block
// HashTimers.
type Minter struct {
	mu         sync.Mutex
	clock      TimeSource
	lastTimeUs int64
}

// NewMinter constructs a Minter backed by the given TimeSource.
func NewMinter(clock TimeSource) *Minter {
	return &Minter{clock: clock}
}

// Mint produces a new HashTimer for (domain, domainData, payload, creatorID).
// time_us = max(local_now_us, last_minted.time_us + 1), subject to the drift
// check against the network-median-compensated clock.
func (m *Minter) Mint(domain string, domainData, payload, creatorID []byte) (HashTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	localNow := m.clock.NowUs()
	networkMedian := m.clock.NetworkMedianUs()
	if diff := localNow - networkMedian; absInt64(diff) > MaxDriftUs {
		return HashTimer{}, fmt.Errorf("%w: local=%d network_median=%d diff_us=%d", ErrClockDriftExceeded, localNow, networkMedian, diff)
	}

	timeUs := localNow
	if m.lastTimeUs+1 > timeUs {
		timeUs = m.lastTimeUs + 1
	}
	m.lastTimeUs = timeUs

	h := computeHash(domain, timeUs, domainData, payload, creatorID)
	return HashTimer{TimeUs: timeUs, Hash: h}, nil
}

// Verify recomputes the HashTimer's hash and reports whether it matches.
func Verify(ht HashTimer, domain string, domainData, payload, creatorID []byte) bool {
	return ht.Hash == computeHash(domain, ht.TimeUs, domainData, payload, creatorID)
}

// VerifyOrError is Verify but returning ErrHashTimerMismatch on failure, for
// callers that want a sentinel error directly.
func VerifyOrError(ht HashTimer, domain string, domainData, payload, creatorID []byte) error {
	if !Verify(ht, domain, domainData, payload, creatorID) {
		return ErrHashTimerMismatch
	}
	return nil
}

// AcceptWithinDrift reports whether ht.TimeUs is within MaxDriftUs of the
// given network-median-compensated reference time: blocks whose timestamp
// strays more than 500 ms from compensated local time are not accepted.
func AcceptWithinDrift(ht HashTimer, networkMedianUs int64) bool {
	return absInt64(ht.TimeUs-networkMedianUs) <= MaxDriftUs
}

func computeHash(domain string, timeUs int64, domainData, payload, creatorID []byte) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(domain)
	buf.Write(canon.LE64(uint64(timeUs)))
	buf.Write(domainData)
	buf.Write(payload)
	buf.Write(creatorID)
	return canon.HashBytes(buf.Bytes())
}

// Cmp implements the total order: compare time_us ascending, tie-break by
// hash lexicographic ascending. Returns -1, 0, or 1.
func Cmp(a, b HashTimer) int {
	if a.TimeUs != b.TimeUs {
		if a.TimeUs < b.TimeUs {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Hash[:], b.Hash[:])
}

// Less reports whether a sorts strictly before b under Cmp.
func Less(a, b HashTimer) bool {
	return Cmp(a, b) < 0
}

// EncodeWire returns the 40-byte wire encoding LE64(time_us) || hash.
func (ht HashTimer) EncodeWire() [40]byte {
	var out [40]byte
	copy(out[:8], canon.LE64(uint64(ht.TimeUs)))
	copy(out[8:], ht.Hash[:])
	return out
}

// DecodeWire parses the 40-byte wire encoding produced by EncodeWire.
func DecodeWire(b []byte) (HashTimer, error) {
	if len(b) != 40 {
		return HashTimer{}, fmt.Errorf("hashtimer: wire encoding must be 40 bytes, got %d", len(b))
	}
	var timeUs uint64
	for i := 0; i < 8; i++ {
		timeUs |= uint64(b[i]) << (8 * i)
	}
	var h [32]byte
	copy(h[:], b[8:])
	return HashTimer{TimeUs: int64(timeUs), Hash: h}, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
