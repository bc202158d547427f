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

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	Username     string             `bson:"username"`
	PasswordHash string             `bson:"password"`
	PhotoURL     string             `bson:"photoUrl,omitempty"`
	Bio          string             `bson:"bio,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d userDoc) toUser() types.User {
	return types.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		PhotoURL:     d.PhotoURL,
		Bio:          d.Bio,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// UserRepository handles persistence for users.
type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(usersCollection)}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return types.User{}, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDoc{
		ID:           primitive.NewObjectID(),
		Email:        user.Email,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		PhotoURL:     user.PhotoURL,
		Bio:          user.Bio,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return types.User{}, translate(err)
	}
	return doc.toUser(), nil
}

func (r *UserRepository) UpdateUsername(ctx context.Context, id, username string) (types.User, error) {
	return r.set(ctx, id, "username", username)
}

func (r *UserRepository) UpdateBio(ctx context.Context, id, bio string) (types.User, error) {
	return r.set(ctx, id, "bio", bio)
}

func (r *UserRepository) UpdatePhoto(ctx context.Context, id, photoURL string) (types.User, error) {
	return r.set(ctx, id, "photoUrl", photoURL)
}

func (r *UserRepository) set(ctx context.Context, id, field, value string) (types.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return types.User{}, err
	}

	update := bson.M{"$set": bson.M{field: value, "updatedAt": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc); err != nil {
		return types.User{}, translate(err)
	}
	return doc.toUser(), nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return types.User{}, translate(err)
	}
	return doc.toUser(), nil
}
