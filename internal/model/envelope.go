package model

type (
	// AssociatedData travels with a ciphertext and is authenticated by the
	// AEAD but never encrypted.
	AssociatedData struct {
		Timestamp int64  `json:"ts" bson:"ts"`
		Type      string `json:"type" bson:"type"`
		TTL       int64  `json:"ttl,omitempty" bson:"ttl,omitempty"`
	}

	// Envelope is one message unit in transit and at rest. Only ciphertext
	// is ever persisted; Ciphertext and Nonce are empty for tombstones.
	Envelope struct {
		MsgID          string         `json:"msg_id" bson:"msg_id"`
		ConvID         string         `json:"conv_id" bson:"conv_id"`
		SenderDeviceID string         `json:"sender_device_id" bson:"sender_device_id"`
		SenderUserID   string         `json:"sender_user_id" bson:"sender_user_id"`
		Ciphertext     []byte         `json:"cipher,omitempty" bson:"cipher,omitempty"`
		Nonce          []byte         `json:"nonce,omitempty" bson:"nonce,omitempty"`
		AD             AssociatedData `json:"ad" bson:"ad"`
		KeyIndex       uint32         `json:"key_index" bson:"key_index"`
		TreeIndex      uint64         `json:"tree_index,omitempty" bson:"tree_index,omitempty"`
		Edited         bool           `json:"edited,omitempty" bson:"edited,omitempty"`
		Deleted        bool           `json:"deleted,omitempty" bson:"deleted,omitempty"`
		HiddenFor      []string       `json:"-" bson:"hidden_for,omitempty"`
	}
)

// Envelope AD.Type values.
const (
	EnvelopeTypeText   = "text"
	EnvelopeTypeDelete = "delete"
)

// Tombstone clears the encrypted payload in place, leaving the envelope as
// a verifiable placeholder for a globally deleted message.
func (e *Envelope) Tombstone() {
	e.Ciphertext = nil
	e.Nonce = nil
	e.Deleted = true
	e.AD.Type = EnvelopeTypeDelete
}

// LeafContent is the canonical subset of an envelope that is hashed into
// the transparency log. Mutable fields (edit/delete markers, tree index)
// are excluded so the leaf hash is stable for the envelope's lifetime.
func (e *Envelope) LeafContent() any {
	return map[string]any{
		"msg_id":           e.MsgID,
		"conv_id":          e.ConvID,
		"sender_device_id": e.SenderDeviceID,
		"cipher":           e.Ciphertext,
		"nonce":            e.Nonce,
		"ts":               e.AD.Timestamp,
		"key_index":        e.KeyIndex,
	}
}
