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

type outfitDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	Top       primitive.ObjectID `bson:"top"`
	Bottom    primitive.ObjectID `bson:"bottom"`
	Shoe      primitive.ObjectID `bson:"shoe"`
	Prompt    string             `bson:"prompt,omitempty"`
	ImageURL  string             `bson:"imageUrl,omitempty"`
	ImageKey  string             `bson:"imageKey,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// toOutfit converts the document, populating items found in items. Missing
// references keep only their id.
func (d outfitDoc) toOutfit(items map[string]types.ClothingItem) types.Outfit {
	populate := func(id primitive.ObjectID) types.ClothingItem {
		if item, ok := items[id.Hex()]; ok {
			return item
		}
		return types.ClothingItem{ID: id.Hex(), Tags: []string{}}
	}
	return types.Outfit{
		ID:        d.ID.Hex(),
		UserID:    d.UserID.Hex(),
		Top:       populate(d.Top),
		Bottom:    populate(d.Bottom),
		Shoe:      populate(d.Shoe),
		Prompt:    d.Prompt,
		ImageURL:  d.ImageURL,
		ImageKey:  d.ImageKey,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// OutfitRepository handles persistence for outfits.
type OutfitRepository struct {
	coll  *mongo.Collection
	items *ClothingRepository
}

func NewOutfitRepository(db *mongo.Database) *OutfitRepository {
	return &OutfitRepository{
		coll:  db.Collection(outfitsCollection),
		items: NewClothingRepository(db),
	}
}

// Create persists the outfit and returns it populated with its items.
// Only the IDs of Top, Bottom and Shoe are read.
func (r *OutfitRepository) Create(ctx context.Context, outfit types.Outfit) (types.Outfit, error) {
	doc := outfitDoc{
		ID:       primitive.NewObjectID(),
		Prompt:   outfit.Prompt,
		ImageURL: outfit.ImageURL,
		ImageKey: outfit.ImageKey,
	}
	var err error
	if doc.UserID, err = objectID(outfit.UserID); err != nil {
		return types.Outfit{}, err
	}
	if doc.Top, err = objectID(outfit.Top.ID); err != nil {
		return types.Outfit{}, err
	}
	if doc.Bottom, err = objectID(outfit.Bottom.ID); err != nil {
		return types.Outfit{}, err
	}
	if doc.Shoe, err = objectID(outfit.Shoe.ID); err != nil {
		return types.Outfit{}, err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return types.Outfit{}, translate(err)
	}

	populated, err := r.populate(ctx, []outfitDoc{doc})
	if err != nil {
		return types.Outfit{}, err
	}
	return populated[0], nil
}

func (r *OutfitRepository) GetForOwner(ctx context.Context, id, userID string) (types.Outfit, error) {
	filter, err := ownerFilter(id, userID)
	if err != nil {
		return types.Outfit{}, err
	}
	var doc outfitDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return types.Outfit{}, translate(err)
	}
	populated, err := r.populate(ctx, []outfitDoc{doc})
	if err != nil {
		return types.Outfit{}, err
	}
	return populated[0], nil
}

// ListByOwner returns the user's outfits populated with their items, newest first.
func (r *OutfitRepository) ListByOwner(ctx context.Context, userID string) ([]types.Outfit, error) {
	owner, err := objectID(userID)
	if err != nil {
		return make([]types.Outfit, 0), nil
	}

	cursor, err := r.coll.Find(ctx, bson.M{"userId": owner}, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	var docs []outfitDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return r.populate(ctx, docs)
}

// DeleteForOwner removes the outfit and returns the deleted document.
// Referenced clothing items are left untouched.
func (r *OutfitRepository) DeleteForOwner(ctx context.Context, id, userID string) (types.Outfit, error) {
	filter, err := ownerFilter(id, userID)
	if err != nil {
		return types.Outfit{}, err
	}
	var doc outfitDoc
	if err := r.coll.FindOneAndDelete(ctx, filter).Decode(&doc); err != nil {
		return types.Outfit{}, translate(err)
	}
	return doc.toOutfit(nil), nil
}

func (r *OutfitRepository) populate(ctx context.Context, docs []outfitDoc) ([]types.Outfit, error) {
	ids := referencedItems(docs)
	items, err := r.items.findByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	outfits := make([]types.Outfit, 0, len(docs))
	for _, doc := range docs {
		outfits = append(outfits, doc.toOutfit(items))
	}
	return outfits, nil
}

func referencedItems(docs []outfitDoc) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(docs)*3)
	ids := make([]primitive.ObjectID, 0, len(docs)*3)
	for _, doc := range docs {
		for _, id := range []primitive.ObjectID{doc.Top, doc.Bottom, doc.Shoe} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
