package envelope

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"veilchat/internal/model"
)

type (
	EnvelopeRepo struct {
		collection *mongo.Collection
	}
)

func NewEnvelopeRepo(db *mongo.Database) *EnvelopeRepo {
	return &EnvelopeRepo{
		collection: db.Collection("envelopes"),
	}
}

func (r *EnvelopeRepo) Append(ctx context.Context, env *model.Envelope) error {
	_, err := r.collection.InsertOne(ctx, env)
	return err
}

func (r *EnvelopeRepo) Get(ctx context.Context, msgID string) (*model.Envelope, error) {
	filter := bson.M{
		"msg_id": msgID,
	}

	var env model.Envelope
	err := r.collection.FindOne(ctx, filter).Decode(&env)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &env, nil
}

// MarkEdited replaces the ciphertext in place and flags the envelope.
func (r *EnvelopeRepo) MarkEdited(ctx context.Context, msgID string, cipher, nonce []byte) error {
	filter := bson.M{"msg_id": msgID}
	update := bson.M{"$set": bson.M{
		"cipher": cipher,
		"nonce":  nonce,
		"edited": true,
	}}
	_, err := r.collection.UpdateOne(ctx, filter, update)
	return err
}

// MarkDeleted tombstones the envelope: ciphertext and nonce are cleared for
// everyone, only the placeholder survives.
func (r *EnvelopeRepo) MarkDeleted(ctx context.Context, msgID string) error {
	filter := bson.M{"msg_id": msgID}
	update := bson.M{
		"$unset": bson.M{"cipher": "", "nonce": ""},
		"$set": bson.M{
			"deleted": true,
			"ad.type": model.EnvelopeTypeDelete,
		},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update)
	return err
}

// MarkHidden records a local-only delete for one device.
func (r *EnvelopeRepo) MarkHidden(ctx context.Context, msgID, deviceID string) error {
	filter := bson.M{"msg_id": msgID}
	update := bson.M{"$addToSet": bson.M{"hidden_for": deviceID}}
	_, err := r.collection.UpdateOne(ctx, filter, update)
	return err
}

func (r *EnvelopeRepo) QueryByConversation(ctx context.Context, convID string, since int64) ([]*model.Envelope, error) {
	filter := bson.M{
		"conv_id": convID,
	}
	if since > 0 {
		filter["ad.ts"] = bson.M{"$gte": since}
	}

	opts := options.Find().SetSort(bson.M{"ad.ts": 1})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var envs []*model.Envelope
	if err := cursor.All(ctx, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// SweepExpired removes envelopes whose TTL has elapsed. This is the only
// physical removal path; tombstones without a TTL stay forever.
func (r *EnvelopeRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	filter := bson.M{
		"ad.ttl": bson.M{"$gt": 0},
		"$expr": bson.M{
			"$lt": bson.A{bson.M{"$add": bson.A{"$ad.ts", "$ad.ttl"}}, nowMs},
		},
	}
	res, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
