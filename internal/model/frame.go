package model

type (
	// Frame is one JSON object on the duplex channel, tagged by Type.
	// Fields beyond Type/ConvID are populated per frame kind.
	Frame struct {
		Type   string `json:"type"`
		ConvID string `json:"conv_id,omitempty"`
		MsgID  string `json:"msg_id,omitempty"`

		// message / edit
		Cipher   []byte          `json:"cipher,omitempty"`
		Nonce    []byte          `json:"nonce,omitempty"`
		AD       *AssociatedData `json:"ad,omitempty"`
		KeyIndex uint32          `json:"key_index,omitempty"`

		// ack
		AckType string `json:"ack_type,omitempty"`

		// delete
		ForEveryone bool   `json:"for_everyone,omitempty"`
		Signature   []byte `json:"signature,omitempty"`

		// presence
		Presence string `json:"presence,omitempty"`
		DeviceID string `json:"device_id,omitempty"`

		// server -> client enrichment
		TreeIndex     uint64 `json:"tree_index,omitempty"`
		Status        string `json:"status,omitempty"`
		RotateKey     bool   `json:"rotate_key,omitempty"`
		NewSessionKey []byte `json:"new_session_key,omitempty"`

		// error
		Kind   string `json:"kind,omitempty"`
		Reason string `json:"reason,omitempty"`
	}
)

// Frame types.
const (
	FrameMessage  = "message"
	FrameAck      = "ack"
	FrameEdit     = "edit"
	FrameDelete   = "delete"
	FramePresence = "presence"
	FrameJoin     = "join"
	FrameLeave    = "leave"
	FrameError    = "error"
)

// Presence states.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Ack statuses attached by the server.
const (
	StatusDelivered = "delivered"
	StatusDuplicate = "duplicate"
)
