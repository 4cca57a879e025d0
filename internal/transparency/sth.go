package transparency

import (
	"crypto/ed25519"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"veilchat/internal/cryptographic/codec"
	"veilchat/internal/cryptographic/signature"
	"veilchat/internal/model"
	"veilchat/internal/utils/log"
)

// Quorum is the number of cosigner signatures an STH needs to be accepted.
// With three configured cosigners this tolerates one offline or compromised
// signer in either direction.
const Quorum = 2

type (
	// Cosigner is one of the (up to three) independent STH signers.
	Cosigner struct {
		ID      string
		Public  ed25519.PublicKey
		private ed25519.PrivateKey
	}

	// CosignPolicy holds the known cosigner set and produces/validates
	// signed tree heads against it. Sign is called concurrently from every
	// connection's read pump, so the timestamp clamp has its own lock.
	CosignPolicy struct {
		cosigners []Cosigner

		tsMu   sync.Mutex
		lastTS int64
	}
)

// NewCosigner builds a signing cosigner from a private key.
func NewCosigner(id string, priv ed25519.PrivateKey) Cosigner {
	return Cosigner{
		ID:      id,
		Public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}
}

// VerifyOnly builds a cosigner that can validate but not sign.
func VerifyOnly(id string, pub ed25519.PublicKey) Cosigner {
	return Cosigner{ID: id, Public: pub}
}

func NewCosignPolicy(cosigners []Cosigner) *CosignPolicy {
	return &CosignPolicy{cosigners: cosigners}
}

// sthDigest is the signed message: SHA256(root || timestamp_be64).
func sthDigest(root []byte, timestamp int64) []byte {
	buf := make([]byte, 0, len(root)+8)
	buf = append(buf, root...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	sum := codec.Hash(buf)
	return sum[:]
}

// Sign produces an STH over the given root. Every cosigner holding a
// private key contributes a signature; timestamps are clamped non-decreasing
// across records.
func (p *CosignPolicy) Sign(root []byte, treeSize uint64, timestamp int64) *model.STHRecord {
	p.tsMu.Lock()
	if timestamp < p.lastTS {
		timestamp = p.lastTS
	}
	p.lastTS = timestamp
	p.tsMu.Unlock()

	digest := sthDigest(root, timestamp)
	rec := &model.STHRecord{
		TreeSize:  treeSize,
		RootHash:  append([]byte(nil), root...),
		Timestamp: timestamp,
	}
	for _, c := range p.cosigners {
		if c.private == nil {
			continue
		}
		rec.Signatures = append(rec.Signatures, model.CosignerSignature{
			CosignerID: c.ID,
			Signature:  signature.ED25519Sign(c.private, digest),
		})
	}
	if len(rec.Signatures) < Quorum {
		log.Warn("signed tree head below quorum",
			zap.Int("signatures", len(rec.Signatures)),
			zap.Uint64("tree_size", treeSize))
	}
	return rec
}

// Verify checks an STH against the known cosigner set: at least Quorum
// distinct cosigners must have produced valid signatures over the digest.
func (p *CosignPolicy) Verify(rec *model.STHRecord) bool {
	if rec == nil {
		return false
	}
	digest := sthDigest(rec.RootHash, rec.Timestamp)

	valid := make(map[string]struct{})
	for _, sig := range rec.Signatures {
		for _, c := range p.cosigners {
			if c.ID != sig.CosignerID {
				continue
			}
			if signature.ED25519Verify(c.Public, digest, sig.Signature) {
				valid[c.ID] = struct{}{}
			}
		}
	}
	return len(valid) >= Quorum
}
