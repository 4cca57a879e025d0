package ack

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"veilchat/internal/model"
)

type (
	AckRepo struct {
		collection *mongo.Collection
	}
)

func NewAckRepo(db *mongo.Database) *AckRepo {
	return &AckRepo{
		collection: db.Collection("acks"),
	}
}

// Record upserts on (msg_id, device_id, ack_type), so a retransmitted ack
// never produces a second record.
func (r *AckRepo) Record(ctx context.Context, rec *model.AckRecord) error {
	filter := bson.M{
		"msg_id":    rec.MsgID,
		"device_id": rec.DeviceID,
		"ack_type":  rec.AckType,
	}
	update := bson.M{"$setOnInsert": rec}
	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	return err
}

func (r *AckRepo) QueryByMessage(ctx context.Context, msgID string) ([]*model.AckRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"msg_id": msgID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*model.AckRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
