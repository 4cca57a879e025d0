package transparency

import (
	"bytes"
	"sync"
	"sync/atomic"

	"veilchat/internal/cryptographic/codec"
	"veilchat/internal/model"
)

type (
	// Tree is the append-only Merkle log. Leaves are immutable once
	// appended; indices start at 1 and are strictly increasing. All writes
	// and root computation serialize on one mutex so index assignment and
	// root history stay ordered. size is also published atomically so
	// health checks never touch the lock.
	Tree struct {
		mu     sync.Mutex
		leaves [][32]byte
		root   [32]byte
		size   atomic.Uint64
	}
)

func NewTree() *Tree {
	return &Tree{}
}

// Append assigns the next index to leafHash and recomputes the root.
func (t *Tree) Append(leafHash [32]byte) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.leaves = append(t.leaves, leafHash)
	t.root = reduce(t.leaves)
	t.size.Store(uint64(len(t.leaves)))
	return uint64(len(t.leaves))
}

// Root returns the current root hash and tree size.
func (t *Tree) Root() ([32]byte, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root, uint64(len(t.leaves))
}

// Size is lock-free, for health and readiness probes.
func (t *Tree) Size() uint64 {
	return t.size.Load()
}

// Prove builds the inclusion proof for the leaf at index (1-based).
func (t *Tree) Prove(index uint64) (*model.InclusionProof, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index == 0 || index > uint64(len(t.leaves)) {
		return nil, model.NewError(model.KindProtocolViolation, "leaf index out of range")
	}

	leaf := t.leaves[index-1]
	path := buildPath(t.leaves, int(index-1))
	return &model.InclusionProof{
		LeafHash: leaf[:],
		Index:    index,
		Path:     path,
		RootHash: append([]byte(nil), t.root[:]...),
	}, nil
}

// FindLeaf locates a leaf hash and returns its 1-based index.
func (t *Tree) FindLeaf(leafHash [32]byte) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.leaves {
		if l == leafHash {
			return uint64(i + 1), true
		}
	}
	return 0, false
}

// reduce folds one level at a time. An odd node at any level pairs with
// itself; this duplicate padding is part of the proof format and must match
// verification exactly.
func reduce(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(level[i], right))
		}
		level = next
	}
	return level[0]
}

func buildPath(leaves [][32]byte, pos int) []model.ProofStep {
	var path []model.ProofStep

	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var sibling [32]byte
		var left bool
		if pos%2 == 0 {
			// sibling on the right; an unpaired last node duplicates itself
			if pos+1 < len(level) {
				sibling = level[pos+1]
			} else {
				sibling = level[pos]
			}
			left = false
		} else {
			sibling = level[pos-1]
			left = true
		}
		path = append(path, model.ProofStep{Hash: append([]byte(nil), sibling[:]...), Left: left})

		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(level[i], right))
		}
		level = next
		pos /= 2
	}
	return path
}

// VerifyProof re-folds the path and compares against root. A mismatch is a
// definitive integrity failure, never something to retry.
func VerifyProof(leafHash []byte, path []model.ProofStep, root []byte) bool {
	cur := leafHash
	for _, step := range path {
		var a, b [32]byte
		if step.Left {
			copy(a[:], step.Hash)
			copy(b[:], cur)
		} else {
			copy(a[:], cur)
			copy(b[:], step.Hash)
		}
		h := hashPair(a, b)
		cur = h[:]
	}
	return bytes.Equal(cur, root)
}

// ProofPosition recovers the 1-based leaf index a path attests to. The side
// tag at level k is the k-th bit of the leaf's position: a left sibling
// means the leaf sits in the upper half of its pair at that level. A
// self-paired node under duplicate padding keeps its sibling on the right,
// so the recovery holds for odd tree sizes too.
func ProofPosition(path []model.ProofStep) uint64 {
	var pos uint64
	for k, step := range path {
		if step.Left {
			pos |= 1 << uint(k)
		}
	}
	return pos + 1
}

func hashPair(a, b [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return codec.Hash(buf)
}
