// Package mongostore implements the repositories on top of MongoDB. Collection
// and field names follow the documents the mobile client already knows.
package mongostore

import (
	"context"
	"errors"
	"strings"

	"github.com/digiclo/apiserver/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// Default names mongo gives the unique indexes below.
	usersEmailIndex    = "email_1"
	usersUsernameIndex = "username_1"

	usersCollection    = "users"
	clothingCollection = "clothingitems"
	outfitsCollection  = "outfits"
)

// EnsureIndexes creates the unique and ordering indexes the repositories rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(usersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return err
	}

	ownerNewestFirst := mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}}
	if _, err := db.Collection(clothingCollection).Indexes().CreateOne(ctx, ownerNewestFirst); err != nil {
		return err
	}
	_, err := db.Collection(outfitsCollection).Indexes().CreateOne(ctx, ownerNewestFirst)
	return err
}

// objectID parses a hex id. Malformed ids can never match a document.
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, store.ErrNotFound
	}
	return oid, nil
}

func ownerFilter(id, userID string) (bson.M, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	owner, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	return bson.M{"_id": oid, "userId": owner}, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return duplicateIndex(err)
	default:
		return err
	}
}

// duplicateIndex names the clashing field from the index in the server's
// E11000 message.
func duplicateIndex(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, usersEmailIndex):
		return store.ErrDuplicateEmail
	case strings.Contains(msg, usersUsernameIndex):
		return store.ErrDuplicateUsername
	default:
		return store.ErrDuplicate
	}
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
