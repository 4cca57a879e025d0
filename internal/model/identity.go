package model

type (
	// DeviceIdentity is one device's long-term key material. Public keys are
	// immutable once issued; revocation is a soft flag.
	DeviceIdentity struct {
		DeviceID   string `json:"device_id" bson:"device_id"`
		UserID     string `json:"user_id" bson:"user_id"`
		Ed25519Pub []byte `json:"ed25519_pub" bson:"ed25519_pub"`
		X25519Pub  []byte `json:"x25519_pub" bson:"x25519_pub"`
		Revoked    bool   `json:"revoked" bson:"revoked"`
	}

	// AckRecord is one delivery or read confirmation. At most one record
	// exists per (message, device, type).
	AckRecord struct {
		MsgID     string `json:"msg_id" bson:"msg_id"`
		DeviceID  string `json:"device_id" bson:"device_id"`
		AckType   string `json:"ack_type" bson:"ack_type"`
		Timestamp int64  `json:"ts" bson:"ts"`
	}
)

// Ack types.
const (
	AckDelivered = "delivered"
	AckRead      = "read"
)
