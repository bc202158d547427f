package types

import "time"

// Category is the garment slot a clothing item fills in an outfit.
type Category string

const (
	CategoryTop    Category = "top"
	CategoryBottom Category = "bottom"
	CategoryShoe   Category = "shoe"
)

// ClothingItem represents one physical garment owned by exactly one user.
// The item references its image by URL; the bytes live in object storage.
type ClothingItem struct {
	// ID is the unique identifier of the item. Serialized as "_id" for
	// compatibility with the mobile client.
	ID string `json:"_id" db:"id"`

	// UserID is the owner of the item.
	UserID string `json:"userId" db:"user_id"`

	// Label is the display name of the item.
	Label string `json:"label" db:"label"`

	// Category is one of CategoryTop, CategoryBottom or CategoryShoe.
	Category Category `json:"category" db:"category"`

	// ImageURL is the public URL of the item's image.
	ImageURL string `json:"imageUrl" db:"image_url"`

	// Tags are free-text labels, unique within the item. Order carries
	// no meaning.
	Tags []string `json:"tags" db:"tags"`

	// IsFavorite marks the item as one of the owner's favorites.
	IsFavorite bool `json:"isFavorite" db:"is_favorite"`

	// CreatedAt is the timestamp at which the item was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the item.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ClothingCreatedEvent is published after a clothing item is persisted.
// Consumers use it to enrich the item asynchronously.
type ClothingCreatedEvent struct {
	ItemID   string `json:"itemId"`
	UserID   string `json:"userId"`
	ImageURL string `json:"imageUrl"`
}
