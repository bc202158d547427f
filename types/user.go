package types

import "time"

// MaxBioLength is the longest bio, in characters, a user may store.
const MaxBioLength = 500

// User represents an account in the system.
// It contains identity, credentials, and profile metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's login address. It is unique and compared
	// case-sensitively.
	Email string `json:"email" db:"email"`

	// Username is the unique public handle chosen by the user.
	Username string `json:"username" db:"username"`

	// PhotoURL points to the user's profile photo in object storage.
	PhotoURL string `json:"photoUrl,omitempty" db:"photo_url"`

	// Bio is a free-form profile description of at most MaxBioLength characters.
	Bio string `json:"bio,omitempty" db:"bio"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
