package transparency

import (
	"context"
	"time"

	"go.uber.org/zap"

	"veilchat/internal/model"
	"veilchat/internal/utils/log"
)

type (
	// STHStore persists signed tree heads for the audit history.
	STHStore interface {
		Insert(ctx context.Context, rec *model.STHRecord) error
		Latest(ctx context.Context) (*model.STHRecord, error)
		History(ctx context.Context, limit int64) ([]*model.STHRecord, error)
	}

	// Log ties the Merkle tree to the cosigning policy and STH history.
	// Appends serialize inside Tree; signing happens outside the tree lock.
	Log struct {
		tree   *Tree
		policy *CosignPolicy
		store  STHStore
		now    func() time.Time
	}
)

func NewLog(tree *Tree, policy *CosignPolicy, store STHStore, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{tree: tree, policy: policy, store: store, now: now}
}

// Append adds a leaf, signs the new root, and records the STH. The leaf
// index is returned even when STH persistence fails: the append itself is
// not idempotent and must not be retried by the caller.
func (l *Log) Append(ctx context.Context, leafHash [32]byte) (uint64, *model.STHRecord, error) {
	index := l.tree.Append(leafHash)
	root, size := l.tree.Root()

	rec := l.policy.Sign(root[:], size, l.now().UnixMilli())
	if l.store != nil {
		if err := l.store.Insert(ctx, rec); err != nil {
			log.Error("sth persist failed", zap.Uint64("tree_size", size), zap.Error(err))
			return index, rec, model.WrapError(model.KindTransientStorage, "persist sth", err)
		}
	}
	return index, rec, nil
}

// ProveMessage builds the inclusion proof for a known leaf hash.
func (l *Log) ProveMessage(leafHash [32]byte) (*model.InclusionProof, error) {
	index, ok := l.tree.FindLeaf(leafHash)
	if !ok {
		return nil, model.NewError(model.KindProtocolViolation, "leaf not found")
	}
	return l.tree.Prove(index)
}

// Tree exposes the underlying tree for read paths.
func (l *Log) Tree() *Tree { return l.tree }

// Policy exposes the cosigning policy for STH verification.
func (l *Log) Policy() *CosignPolicy { return l.policy }
