package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

// DeclarationsCollection holds one document per declared schema, keyed by
// schema name.
const DeclarationsCollection = "_declaredschemas"

type declarationDoc struct {
	Name        string    `bson:"_id"`
	OwnerModule string    `bson:"ownerModule"`
	Declaration string    `bson:"declaration"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// Store keeps schema declarations in the MongoDB database itself.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// Save upserts the declaration of d.Schema.Name, keeping the creation time
// of an existing document.
func (s *Store) Save(ctx context.Context, d model.Declaration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return dberr.Wrap(dberr.KindInternal, err, "encode declaration")
	}
	now := s.now()
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "ownerModule", Value: d.Schema.OwnerModule},
			{Key: "declaration", Value: string(raw)},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
	}
	_, err = s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: d.Schema.Name}}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save declaration %s: %w", d.Schema.Name, err)
	}
	return nil
}

// Load returns the declaration stored under name.
func (s *Store) Load(ctx context.Context, name string) (model.Declaration, error) {
	var doc declarationDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: name}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Declaration{}, dberr.NotFound("no declaration stored for %s", name)
	}
	if err != nil {
		return model.Declaration{}, fmt.Errorf("load declaration %s: %w", name, err)
	}
	return doc.decode()
}

// List returns every declaration in creation order.
func (s *Store) List(ctx context.Context) ([]model.Declaration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list declarations: %w", err)
	}
	var docs []declarationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode declarations: %w", err)
	}

	out := make([]model.Declaration, 0, len(docs))
	for _, doc := range docs {
		d, err := doc.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Delete removes the declaration stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: name}})
	if err != nil {
		return fmt.Errorf("delete declaration %s: %w", name, err)
	}
	if res.DeletedCount == 0 {
		return dberr.NotFound("no declaration stored for %s", name)
	}
	return nil
}

func (doc declarationDoc) decode() (model.Declaration, error) {
	var d model.Declaration
	if err := json.Unmarshal([]byte(doc.Declaration), &d); err != nil {
		return model.Declaration{}, dberr.Wrap(dberr.KindInternal, err, "decode declaration "+doc.Name)
	}
	return d, nil
}
