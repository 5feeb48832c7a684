package types

import "time"

// Contact represents a per-user address-book entry.
// A contact belongs to exactly one user; ownership never changes
// after creation.
type Contact struct {
	// ID is the unique identifier of the contact.
	ID int `json:"id" db:"id"`

	// UserID references the owning user. Deleting the user deletes
	// the contact.
	UserID int `json:"user_id" db:"user_id"`

	// Name is the contact's display name. Unique per owning user.
	Name string `json:"name" db:"name"`

	// Email is the contact's email address. Unique per owning user;
	// distinct users may register the same address independently.
	Email string `json:"email" db:"email"`

	// DocumentKey is the object-storage key of the uploaded document,
	// empty when no document was attached.
	DocumentKey string `json:"-" db:"document_key"`

	// DocumentName is the original filename of the uploaded document,
	// empty when no document was attached.
	DocumentName string `json:"document_name,omitempty" db:"document_name"`

	// CreatedAt is the timestamp when the contact was created.
	// It is set once and never modified.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HasDocument reports whether a document is attached to the contact.
func (c Contact) HasDocument() bool {
	return c.DocumentKey != ""
}
