package model

type (
	// CosignerSignature is one cosigner's signature over a tree head.
	CosignerSignature struct {
		CosignerID string `json:"cosigner_id" bson:"cosigner_id"`
		Signature  []byte `json:"signature" bson:"signature"`
	}

	// STHRecord is a signed snapshot of the transparency tree. It is valid
	// only when at least two of the three known cosigners have signed it.
	STHRecord struct {
		TreeSize   uint64              `json:"tree_size" bson:"tree_size"`
		RootHash   []byte              `json:"root" bson:"root"`
		Timestamp  int64               `json:"timestamp" bson:"timestamp"`
		Signatures []CosignerSignature `json:"signatures" bson:"signatures"`
	}

	// ProofStep is one level of an inclusion proof: the sibling hash and
	// which side of the pair it sits on.
	ProofStep struct {
		Hash []byte `json:"hash"`
		Left bool   `json:"left"`
	}

	// InclusionProof is the sibling path from a leaf to the root it was
	// attested under.
	InclusionProof struct {
		LeafHash []byte      `json:"leaf_hash"`
		Index    uint64      `json:"index"`
		Path     []ProofStep `json:"path"`
		RootHash []byte      `json:"root"`
	}
)
