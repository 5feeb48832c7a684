package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/contacthub/apiserver/internal/forms"
	"github.com/contacthub/apiserver/internal/storage"
	"github.com/contacthub/apiserver/internal/store"
	"github.com/contacthub/apiserver/types"
	"github.com/google/uuid"
)

// Event channels for contact lifecycle notifications.
const (
	EventContactCreated = "contact.created"
	EventContactDeleted = "contact.deleted"
)

// ErrDocumentExtension is returned when an upload reaches the service
// with a disallowed extension. The form rejects these earlier; this
// check is independent of it.
var ErrDocumentExtension = errors.New("document extension not allowed")

// ContactRepository defines persistence operations for contacts.
type ContactRepository interface {
	Get(ctx context.Context, id int) (types.Contact, error)
	ListByUser(ctx context.Context, userID int) ([]types.Contact, error)
	Create(ctx context.Context, contact types.Contact) (types.Contact, error)
	Delete(ctx context.Context, userID, id int) error
	DocumentKeysByUser(ctx context.Context, userID int) ([]string, error)
}

// Publisher sends contact lifecycle events to a broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Document is an uploaded file attached to a contact submission.
type Document struct {
	Filename    string
	Data        []byte
	ContentType string
}

// ContactEvent is the payload published on contact lifecycle channels.
type ContactEvent struct {
	ContactID int    `json:"contact_id"`
	UserID    int    `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// ContactService encapsulates contact use-cases.
type ContactService struct {
	repo    ContactRepository
	storage *storage.Storage
	events  Publisher
}

// NewContactService constructs a service. The events publisher may be
// nil; lifecycle events are then skipped.
func NewContactService(repo ContactRepository, objStorage *storage.Storage, events Publisher) *ContactService {
	return &ContactService{
		repo:    repo,
		storage: objStorage,
		events:  events,
	}
}

// Create stores the document (when present) and inserts the contact.
// A duplicate that slipped past the form's pre-check comes back as the
// same field errors the form produces; any uploaded blob is removed
// before returning them. No partial contact survives a failure.
func (s *ContactService) Create(ctx context.Context, userID int, data forms.ContactData, document *Document) (types.Contact, forms.FieldErrors, error) {
	contact := types.Contact{
		UserID: userID,
		Name:   data.Name,
		Email:  data.Email,
	}

	if document != nil {
		if !forms.AllowedDocumentExtension(document.Filename) {
			return types.Contact{}, nil, ErrDocumentExtension
		}
		key := documentKey(userID, document.Filename)
		reader := bytes.NewReader(document.Data)
		size := int64(len(document.Data))
		if err := s.storage.Put(ctx, key, reader, size, document.ContentType); err != nil {
			return types.Contact{}, nil, fmt.Errorf("store document: %w", err)
		}
		contact.DocumentKey = key
		contact.DocumentName = document.Filename
	}

	created, err := s.repo.Create(ctx, contact)
	if err != nil {
		if contact.DocumentKey != "" {
			if removeErr := s.storage.Delete(ctx, contact.DocumentKey); removeErr != nil {
				log.Printf("remove orphaned document %s: %v", contact.DocumentKey, removeErr)
			}
		}
		if fieldErrs := duplicateFieldErrors(err); fieldErrs != nil {
			return types.Contact{}, fieldErrs, nil
		}
		return types.Contact{}, nil, err
	}

	s.publish(ctx, EventContactCreated, created)
	return created, nil, nil
}

// List returns the user's contacts, newest first.
func (s *ContactService) List(ctx context.Context, userID int) ([]types.Contact, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Get returns one contact. ErrNotFound covers both a missing row and a
// row owned by a different user; callers cannot tell the two apart.
func (s *ContactService) Get(ctx context.Context, userID, id int) (types.Contact, error) {
	contact, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Contact{}, err
	}
	if contact.UserID != userID {
		return types.Contact{}, store.ErrNotFound
	}
	return contact, nil
}

// Delete removes the contact row, then its document blob.
func (s *ContactService) Delete(ctx context.Context, userID, id int) error {
	contact, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	if contact.HasDocument() {
		if err := s.storage.Delete(ctx, contact.DocumentKey); err != nil {
			log.Printf("remove document %s: %v", contact.DocumentKey, err)
		}
	}
	s.publish(ctx, EventContactDeleted, contact)
	return nil
}

// OpenDocument streams the document attached to the contact.
func (s *ContactService) OpenDocument(ctx context.Context, userID, id int) (io.ReadCloser, types.Contact, error) {
	contact, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, types.Contact{}, err
	}
	if !contact.HasDocument() {
		return nil, types.Contact{}, store.ErrNotFound
	}
	reader, err := s.storage.Get(ctx, contact.DocumentKey)
	if err != nil {
		return nil, types.Contact{}, err
	}
	return reader, contact, nil
}

// DeleteAllForUser removes every document blob belonging to the user's
// contacts. The rows themselves go with the user via the FK cascade.
func (s *ContactService) DeleteAllForUser(ctx context.Context, userID int) error {
	keys, err := s.repo.DocumentKeysByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			log.Printf("remove document %s: %v", key, err)
		}
	}
	return nil
}

// publish sends a lifecycle event best-effort. Broker trouble never
// fails the request that triggered the event.
func (s *ContactService) publish(ctx context.Context, channel string, contact types.Contact) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(ContactEvent{
		ContactID: contact.ID,
		UserID:    contact.UserID,
		Name:      contact.Name,
		Email:     contact.Email,
	})
	if err != nil {
		return
	}
	attrs := map[string]string{"user_id": strconv.Itoa(contact.UserID)}
	if _, err := s.events.Publish(ctx, channel, payload, attrs); err != nil {
		log.Printf("publish %s: %v", channel, err)
	}
}

// duplicateFieldErrors maps the store's duplicate sentinels onto the
// same field-error shape the form produces, per the constraint that
// fired. Non-duplicate errors yield nil.
func duplicateFieldErrors(err error) forms.FieldErrors {
	switch {
	case errors.Is(err, store.ErrDuplicateEmail):
		return forms.FieldErrors{"email": {forms.MsgDuplicateEmail}}
	case errors.Is(err, store.ErrDuplicateName):
		return forms.FieldErrors{"name": {forms.MsgDuplicateName}}
	default:
		return nil
	}
}

func documentKey(userID int, filename string) string {
	return fmt.Sprintf("documents/%d/%s-%s", userID, uuid.NewString(), filename)
}
