// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gbdt implements Deterministic GBDT (D-GBDT) inference: an
// integer-only gradient-boosted decision tree ensemble that scores
// validators from telemetry feature vectors.
package gbdt

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ippan/dlc/canon"
)

var (
	ErrInvalidTree            = errors.New("gbdt: invalid tree")
	ErrFeatureIndexOutOfRange = errors.New("gbdt: feature index out of range")
	ErrOverflow               = errors.New("gbdt: saturating arithmetic overflow")
	ErrModelHashMismatch      = errors.New("gbdt: model hash mismatch")
)

// selectionScaleMax is the clamp ceiling used for reputation scores fed into
// verifier selection.
const selectionScaleMax = 10_000

// Node is a single GBDT tree node. Internal nodes set Feature/Threshold and
// leave Leaf nil; a node with a non-nil Leaf is a leaf, and its
// Feature/Threshold are neither read nor checked against any sentinel.
type Node struct {
	ID        int    `json:"id"`
	Left      int    `json:"left"`
	Right     int    `json:"right"`
	Feature   int    `json:"feature"`
	Threshold int64  `json:"threshold"`
	Leaf      *int64 `json:"leaf"`
}

// IsLeaf reports whether n is a leaf node.
func (n Node) IsLeaf() bool { return n.Leaf != nil }

// Tree is one ensemble member: a node list plus an integer weight applied to
// its leaf contribution.
type Tree struct {
	Nodes  []Node `json:"nodes"`
	Weight int64  `json:"weight"`
}

// Model is the canonical D-GBDT ensemble: {version, scale, trees, bias,
// post_scale}. Model_id = BLAKE3(canonical_json_bytes) hex.
type Model struct {
	Version   int    `json:"version"`
	Scale     int64  `json:"scale"`
	Trees     []Tree `json:"trees"`
	Bias      int64  `json:"bias"`
	PostScale int64  `json:"post_scale"`
}

// ModelID returns the canonical hex model id: BLAKE3 of the model's c14n-v1
// JSON encoding.
func (m Model) ModelID() (string, error) {
	h, err := canon.Hash(m)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// VerifyHash checks that ModelID() equals the configured hash pin
// (lower-case hex), returning ErrModelHashMismatch otherwise. Node startup
// must call this before serving any inference.
func (m Model) VerifyHash(pinnedHex string) error {
	id, err := m.ModelID()
	if err != nil {
		return err
	}
	if id != pinnedHex {
		return fmt.Errorf("%w: computed=%s pinned=%s", ErrModelHashMismatch, id, pinnedHex)
	}
	return nil
}

// Validate checks tree structure invariants: no missing node ids, no cycles,
// feature index of internal nodes bound by numFeatures. The Feature/Threshold
// values of leaves are not checked.
func (m Model) Validate(numFeatures int) error {
	if m.Scale == 0 {
		return fmt.Errorf("%w: scale must be nonzero", ErrInvalidTree)
	}
	for ti, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d has no nodes", ErrInvalidTree, ti)
		}
		byID := make(map[int]Node, len(tree.Nodes))
		for _, n := range tree.Nodes {
			if _, dup := byID[n.ID]; dup {
				return fmt.Errorf("%w: tree %d duplicate node id %d", ErrInvalidTree, ti, n.ID)
			}
			byID[n.ID] = n
		}
		for _, n := range tree.Nodes {
			if n.IsLeaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= numFeatures {
				return fmt.Errorf("%w: tree %d node %d feature %d", ErrFeatureIndexOutOfRange, ti, n.ID, n.Feature)
			}
			if _, ok := byID[n.Left]; !ok {
				return fmt.Errorf("%w: tree %d node %d missing left child %d", ErrInvalidTree, ti, n.ID, n.Left)
			}
			if _, ok := byID[n.Right]; !ok {
				return fmt.Errorf("%w: tree %d node %d missing right child %d", ErrInvalidTree, ti, n.ID, n.Right)
			}
		}
		if err := detectCycle(byID, tree.Nodes[0].ID); err != nil {
			return fmt.Errorf("%w: tree %d: %v", ErrInvalidTree, ti, err)
		}
	}
	return nil
}

func detectCycle(byID map[int]Node, rootID int) error {
	visited := make(map[int]int) // 0=unvisited,1=in-progress,2=done
	var walk func(id int) error
	walk = func(id int) error {
		switch visited[id] {
		case 1:
			return errors.New("cycle detected")
		case 2:
			return nil
		}
		visited[id] = 1
		n, ok := byID[id]
		if !ok {
			return fmt.Errorf("missing node %d", id)
		}
		if !n.IsLeaf() {
			if err := walk(n.Left); err != nil {
				return err
			}
			if err := walk(n.Right); err != nil {
				return err
			}
		}
		visited[id] = 2
		return nil
	}
	return walk(rootID)
}

// Score traverses every tree for the given fixed-point feature vector and
// returns the raw score clamped to [0, model.post_scale].
// Traversal uses only integer comparisons; every accumulation saturates.
func (m Model) Score(features []int64) (int64, error) {
	var sum int64
	for ti, tree := range m.Trees {
		leafValue, err := traverse(tree, features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", ti, err)
		}
		contribution := saturatingMul(leafValue, tree.Weight)
		contribution = saturatingDiv(contribution, m.Scale)
		sum = saturatingAdd(sum, contribution)
	}
	sum = saturatingAdd(sum, m.Bias)
	raw := saturatingDiv(saturatingMul(sum, m.PostScale), m.Scale)
	return clamp(raw, 0, m.PostScale), nil
}

// ScoreSelection is Score but clamped to the verifier-selection scale
// [0, 10_000] regardless of the model's configured post_scale.
func (m Model) ScoreSelection(features []int64) (int64, error) {
	raw, err := m.Score(features)
	if err != nil {
		return 0, err
	}
	// Re-derive on the selection scale directly rather than rescaling the
	// already-clamped raw score, so post_scale != 10_000 models still
	// produce a faithful [0,10000] reputation.
	var sum int64
	for ti, tree := range m.Trees {
		leafValue, err := traverse(tree, features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", ti, err)
		}
		contribution := saturatingMul(leafValue, tree.Weight)
		contribution = saturatingDiv(contribution, m.Scale)
		sum = saturatingAdd(sum, contribution)
	}
	sum = saturatingAdd(sum, m.Bias)
	raw = saturatingDiv(saturatingMul(sum, selectionScaleMax), m.Scale)
	return clamp(raw, 0, selectionScaleMax), nil
}

func traverse(tree Tree, features []int64) (int64, error) {
	if len(tree.Nodes) == 0 {
		return 0, ErrInvalidTree
	}
	byID := make(map[int]Node, len(tree.Nodes))
	for _, n := range tree.Nodes {
		byID[n.ID] = n
	}
	cur := tree.Nodes[0]
	for !cur.IsLeaf() {
		if cur.Feature < 0 || cur.Feature >= len(features) {
			return 0, ErrFeatureIndexOutOfRange
		}
		var next Node
		var ok bool
		if features[cur.Feature] <= cur.Threshold {
			next, ok = byID[cur.Left]
		} else {
			next, ok = byID[cur.Right]
		}
		if !ok {
			return 0, ErrInvalidTree
		}
		cur = next
	}
	return *cur.Leaf, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// saturating arithmetic on int64; scoring never wraps or panics on
// adversarial model values.
const (
	maxI64 = int64(1<<63 - 1)
	minI64 = -maxI64 - 1
)

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		if b > 0 {
			return maxI64
		}
		return minI64
	}
	return sum
}

func saturatingMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if (a == minI64 && b == -1) || (a == -1 && b == minI64) {
		return maxI64
	}
	result := a * b
	if result/b != a {
		if (a > 0) == (b > 0) {
			return maxI64
		}
		return minI64
	}
	return result
}

func saturatingDiv(a, b int64) int64 {
	if b == 0 {
		if a > 0 {
			return maxI64
		} else if a < 0 {
			return minI64
		}
		return 0
	}
	if a == minI64 && b == -1 {
		return maxI64
	}
	return a / b
}
