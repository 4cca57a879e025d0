package device

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"veilchat/internal/model"
)

type (
	DeviceRepo struct {
		collection *mongo.Collection
	}
)

func NewDeviceRepo(db *mongo.Database) *DeviceRepo {
	return &DeviceRepo{
		collection: db.Collection("devices"),
	}
}

func (r *DeviceRepo) GetDeviceIdentity(ctx context.Context, deviceID string) (*model.DeviceIdentity, error) {
	filter := bson.M{
		"device_id": deviceID,
	}

	var dev model.DeviceIdentity
	err := r.collection.FindOne(ctx, filter).Decode(&dev)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &dev, nil
}

func (r *DeviceRepo) Create(ctx context.Context, dev *model.DeviceIdentity) error {
	_, err := r.collection.InsertOne(ctx, dev)
	return err
}

// Revoke flips the soft revocation flag; key material is never mutated.
func (r *DeviceRepo) Revoke(ctx context.Context, deviceID string) error {
	filter := bson.M{"device_id": deviceID}
	update := bson.M{"$set": bson.M{"revoked": true}}
	_, err := r.collection.UpdateOne(ctx, filter, update)
	return err
}
