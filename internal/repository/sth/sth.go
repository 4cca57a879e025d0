package sth

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"veilchat/internal/model"
)

type (
	STHRepo struct {
		collection *mongo.Collection
	}
)

func NewSTHRepo(db *mongo.Database) *STHRepo {
	return &STHRepo{
		collection: db.Collection("tree_heads"),
	}
}

func (r *STHRepo) Insert(ctx context.Context, rec *model.STHRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

func (r *STHRepo) Latest(ctx context.Context) (*model.STHRecord, error) {
	opts := options.FindOne().SetSort(bson.M{"tree_size": -1})

	var rec model.STHRecord
	err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// History returns records newest-first.
func (r *STHRepo) History(ctx context.Context, limit int64) ([]*model.STHRecord, error) {
	opts := options.Find().SetSort(bson.M{"tree_size": -1})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*model.STHRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
