package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contacthub/apiserver/types"
)

// ContactRepository handles persistence for contacts.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Get(ctx context.Context, id int) (types.Contact, error) {
	const query = `
		SELECT id, user_id, name, email, document_key, document_name, created_at
		FROM contacts
		WHERE id = $1`
	var contact types.Contact
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.UserID,
		&contact.Name,
		&contact.Email,
		&contact.DocumentKey,
		&contact.DocumentName,
		&contact.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Contact{}, ErrNotFound
		}
		return types.Contact{}, err
	}
	return contact, nil
}

// ListByUser returns all contacts owned by the user, newest first.
// The id tiebreak keeps the order stable when rows share a timestamp.
func (r *ContactRepository) ListByUser(ctx context.Context, userID int) ([]types.Contact, error) {
	const query = `
		SELECT id, user_id, name, email, document_key, document_name, created_at
		FROM contacts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := make([]types.Contact, 0)
	for rows.Next() {
		var contact types.Contact
		if err := rows.Scan(
			&contact.ID,
			&contact.UserID,
			&contact.Name,
			&contact.Email,
			&contact.DocumentKey,
			&contact.DocumentName,
			&contact.CreatedAt,
		); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Create inserts a contact. A unique-violation on the per-user email or
// name constraint is returned as ErrDuplicateEmail or ErrDuplicateName.
func (r *ContactRepository) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	contact.CreatedAt = time.Now()

	const query = `
		INSERT INTO contacts (user_id, name, email, document_key, document_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		contact.UserID,
		contact.Name,
		contact.Email,
		contact.DocumentKey,
		contact.DocumentName,
		contact.CreatedAt,
	).Scan(&contact.ID); err != nil {
		return types.Contact{}, mapUniqueViolation(err)
	}
	return contact, nil
}

// Delete removes a contact owned by the given user. ErrNotFound is
// returned when the contact does not exist or belongs to someone else.
func (r *ContactRepository) Delete(ctx context.Context, userID, id int) error {
	const query = `DELETE FROM contacts WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistsByUserAndEmail reports whether the user already owns a contact
// with the given email. The check is always scoped to one user.
func (r *ContactRepository) ExistsByUserAndEmail(ctx context.Context, userID int, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM contacts WHERE user_id = $1 AND email = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ExistsByUserAndName reports whether the user already owns a contact
// with the given name.
func (r *ContactRepository) ExistsByUserAndName(ctx context.Context, userID int, name string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM contacts WHERE user_id = $1 AND name = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// DocumentKeysByUser returns the object-storage keys of every document
// attached to the user's contacts. Used when deleting an account.
func (r *ContactRepository) DocumentKeysByUser(ctx context.Context, userID int) ([]string, error) {
	const query = `SELECT document_key FROM contacts WHERE user_id = $1 AND document_key <> ''`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
