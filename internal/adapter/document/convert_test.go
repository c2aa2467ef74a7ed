package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

func postSchema() model.Schema {
	return model.Schema{
		Name: "Post",
		Fields: model.Fields{
			{Name: "title", Kind: model.KindString},
			{Name: "author", Kind: model.KindRelation, Model: "Author"},
			{Name: "ref", Kind: model.KindObjectID},
		},
		Options: model.DefaultOptions(),
	}
}

func TestIDFields(t *testing.T) {
	ids := idFields(postSchema())
	assert.Equal(t, map[string]bool{"_id": true, "author": true, "ref": true}, ids)
}

func TestNormalizeFilter(t *testing.T) {
	oid := bson.NewObjectID()
	other := bson.NewObjectID()
	ids := idFields(postSchema())

	got := normalizeFilter(query.Document{
		"_id":   oid.Hex(),
		"title": oid.Hex(),
		"$or": []any{
			map[string]any{"author": map[string]any{"$in": []any{other.Hex(), "custom-id"}}},
			map[string]any{"ref": map[string]any{"$ne": other.Hex()}},
		},
	}, ids)

	assert.Equal(t, oid, got["_id"])
	assert.Equal(t, oid.Hex(), got["title"], "non-identifier fields keep strings")

	or, ok := got["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 2)
	assert.Equal(t, bson.M{"author": bson.M{"$in": bson.A{other, "custom-id"}}}, or[0])
	assert.Equal(t, bson.M{"ref": bson.M{"$ne": other}}, or[1])
}

func TestToStored(t *testing.T) {
	oid := bson.NewObjectID()
	got := toStored(query.Document{"_id": "plain", "author": oid.Hex(), "title": "x"}, idFields(postSchema()))
	assert.Equal(t, "plain", got["_id"])
	assert.Equal(t, oid, got["author"])
	assert.Equal(t, "x", got["title"])
}

func TestToRecord(t *testing.T) {
	oid := bson.NewObjectID()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := toRecord(bson.M{
		"_id":     oid,
		"created": bson.NewDateTimeFromTime(at),
		"count":   int32(3),
		"meta":    bson.D{{Key: "owner", Value: oid}},
		"tags":    bson.A{"a", int32(1)},
	})

	assert.Equal(t, oid.Hex(), rec["_id"])
	assert.Equal(t, at, rec["created"])
	assert.Equal(t, int64(3), rec["count"])
	assert.Equal(t, map[string]any{"owner": oid.Hex()}, rec["meta"])
	assert.Equal(t, []any{"a", int64(1)}, rec["tags"])
}

func TestCheckOperators(t *testing.T) {
	assert.NoError(t, checkOperators(query.Document{
		"title": map[string]any{"$regex": "^a", "$options": "i"},
		"$and":  []any{map[string]any{"qty": map[string]any{"$gte": 1}}},
	}))

	err := checkOperators(query.Document{"$or": []any{map[string]any{"$where": "1"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrInvalidArgument)
}

func TestProjection(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "title", Value: 1}}, projection([]string{"_id", "title"}))
	assert.Equal(t, bson.D{{Key: "title", Value: 1}, {Key: "_id", Value: 0}}, projection([]string{"title"}))
}

func TestUpdateDocs(t *testing.T) {
	s := model.Schema{
		Name: "Widget",
		Fields: model.Fields{
			{Name: "title", Kind: model.KindString},
			{Name: "qty", Kind: model.KindNumber},
			{Name: "tags", Kind: model.KindString, Array: true},
		},
		Options: model.Options{},
	}
	m := newModel(nil, s, nil, func() time.Time { return time.Unix(0, 0).UTC() })

	u, err := m.splitUpdate(query.Document{
		"title": "t",
		"$inc":  map[string]any{"qty": int64(2)},
		"$push": map[string]any{"tags": map[string]any{"$each": []any{"a", "b"}}},
		"$pull": map[string]any{"tags": "c"},
	})
	require.NoError(t, err)

	first, second, err := m.updateDocs(u, false)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "title", Value: "t"}}},
		{Key: "$inc", Value: bson.D{{Key: "qty", Value: float64(2)}}},
		{Key: "$push", Value: bson.D{{Key: "tags", Value: bson.D{{Key: "$each", Value: bson.A{"a", "b"}}}}}},
	}, first)
	assert.Equal(t, bson.D{{Key: "$pull", Value: bson.D{{Key: "tags", Value: bson.D{{Key: "$in", Value: bson.A{"c"}}}}}}}, second)
}

func TestUpdateDocsReplaceClearsMissingFields(t *testing.T) {
	s := model.Schema{
		Name: "Widget",
		Fields: model.Fields{
			{Name: "title", Kind: model.KindString},
			{Name: "qty", Kind: model.KindNumber},
		},
	}
	m := newModel(nil, s, nil, time.Now)

	u, err := m.splitUpdate(query.Document{"title": "t"})
	require.NoError(t, err)
	first, second, err := m.updateDocs(u, true)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "qty", Value: nil}, {Key: "title", Value: "t"}}}}, first)
}

func TestSplitUpdateRejectsBadTargets(t *testing.T) {
	m := newModel(nil, postSchema(), nil, time.Now)

	_, err := m.splitUpdate(query.Document{"$inc": map[string]any{"title": 1}})
	assert.ErrorIs(t, err, dberr.ErrInvalidArgument)

	_, err = m.splitUpdate(query.Document{"$push": map[string]any{"title": "x"}})
	assert.ErrorIs(t, err, dberr.ErrInvalidArgument)
}
