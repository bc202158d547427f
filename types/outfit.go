package types

import "time"

// Outfit combines a top, a bottom and a shoe item owned by the same user,
// optionally with a generated composite image.
//
// In responses Top, Bottom and Shoe are populated with the full item
// documents. When persisting, only their IDs are used.
type Outfit struct {
	// ID is the unique identifier of the outfit. Serialized as "_id" for
	// compatibility with the mobile client.
	ID string `json:"_id" db:"id"`

	// UserID is the owner of the outfit.
	UserID string `json:"userId" db:"user_id"`

	// Top, Bottom and Shoe reference the combined clothing items.
	Top    ClothingItem `json:"top" db:"top_id"`
	Bottom ClothingItem `json:"bottom" db:"bottom_id"`
	Shoe   ClothingItem `json:"shoe" db:"shoe_id"`

	// Prompt is the text used to generate the composite image, if any.
	Prompt string `json:"prompt,omitempty" db:"prompt"`

	// ImageURL is the public URL of the composite image, if any.
	ImageURL string `json:"imageUrl,omitempty" db:"image_url"`

	// ImageKey is the object storage key of the composite image when it
	// was stored by this server. Empty for externally hosted images.
	ImageKey string `json:"-" db:"image_key"`

	// CreatedAt is the timestamp at which the outfit was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the outfit.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
