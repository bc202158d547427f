package mongostore

import (
	"context"
	"time"

	"github.com/digiclo/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type itemDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	UserID     primitive.ObjectID `bson:"userId"`
	Label      string             `bson:"label"`
	Category   string             `bson:"category"`
	ImageURL   string             `bson:"imageUrl"`
	Tags       []string           `bson:"tags"`
	IsFavorite bool               `bson:"isFavorite"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

func (d itemDoc) toItem() types.ClothingItem {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return types.ClothingItem{
		ID:         d.ID.Hex(),
		UserID:     d.UserID.Hex(),
		Label:      d.Label,
		Category:   types.Category(d.Category),
		ImageURL:   d.ImageURL,
		Tags:       tags,
		IsFavorite: d.IsFavorite,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// ClothingRepository handles persistence for clothing items.
type ClothingRepository struct {
	coll *mongo.Collection
}

func NewClothingRepository(db *mongo.Database) *ClothingRepository {
	return &ClothingRepository{coll: db.Collection(clothingCollection)}
}

func (r *ClothingRepository) Create(ctx context.Context, item types.ClothingItem) (types.ClothingItem, error) {
	owner, err := objectID(item.UserID)
	if err != nil {
		return types.ClothingItem{}, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := itemDoc{
		ID:         primitive.NewObjectID(),
		UserID:     owner,
		Label:      item.Label,
		Category:   string(item.Category),
		ImageURL:   item.ImageURL,
		Tags:       item.Tags,
		IsFavorite: item.IsFavorite,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return types.ClothingItem{}, translate(err)
	}
	return doc.toItem(), nil
}

// ListByOwner returns the user's items, newest first.
func (r *ClothingRepository) ListByOwner(ctx context.Context, userID string) ([]types.ClothingItem, error) {
	items := make([]types.ClothingItem, 0)
	owner, err := objectID(userID)
	if err != nil {
		return items, nil
	}

	cursor, err := r.coll.Find(ctx, bson.M{"userId": owner}, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc itemDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		items = append(items, doc.toItem())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ClothingRepository) GetForOwner(ctx context.Context, id, userID string) (types.ClothingItem, error) {
	filter, err := ownerFilter(id, userID)
	if err != nil {
		return types.ClothingItem{}, err
	}
	var doc itemDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return types.ClothingItem{}, translate(err)
	}
	return doc.toItem(), nil
}

// ToggleFavorite flips the favorite flag with a single pipeline update.
func (r *ClothingRepository) ToggleFavorite(ctx context.Context, id, userID string) (types.ClothingItem, error) {
	filter, err := ownerFilter(id, userID)
	if err != nil {
		return types.ClothingItem{}, err
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "isFavorite", Value: bson.D{{Key: "$not", Value: bson.A{"$isFavorite"}}}},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	}
	return r.findOneAndUpdate(ctx, filter, update)
}

func (r *ClothingRepository) UpdateTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	filter, err := ownerFilter(id, userID)
	if err != nil {
		return types.ClothingItem{}, err
	}
	return r.findOneAndUpdate(ctx, filter, setTags(tags))
}

// FillEmptyTags sets tags only when the item has none. ErrNotFound means the
// item is gone or already tagged.
func (r *ClothingRepository) FillEmptyTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	filter, err := ownerFilter(id, userID)
	if err != nil {
		return types.ClothingItem{}, err
	}
	filter["tags.0"] = bson.M{"$exists": false}
	return r.findOneAndUpdate(ctx, filter, setTags(tags))
}

func setTags(tags []string) bson.M {
	if tags == nil {
		tags = []string{}
	}
	return bson.M{"$set": bson.M{"tags": tags, "updatedAt": time.Now().UTC()}}
}

func (r *ClothingRepository) findOneAndUpdate(ctx context.Context, filter bson.M, update any) (types.ClothingItem, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc itemDoc
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return types.ClothingItem{}, translate(err)
	}
	return doc.toItem(), nil
}

// findByIDs loads items keyed by hex id. Used to populate outfits.
func (r *ClothingRepository) findByIDs(ctx context.Context, ids []primitive.ObjectID) (map[string]types.ClothingItem, error) {
	found := make(map[string]types.ClothingItem, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	cursor, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc itemDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		found[doc.ID.Hex()] = doc.toItem()
	}
	return found, cursor.Err()
}
