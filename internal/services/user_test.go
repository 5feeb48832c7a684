package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contacthub/apiserver/internal/forms"
	"github.com/contacthub/apiserver/internal/storage"
	"github.com/contacthub/apiserver/internal/store"
	"github.com/contacthub/apiserver/types"
)

type fakeUserRepo struct {
	nextID int
	users  map[int]types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: map[int]types.User{}}
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (types.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	for _, existing := range r.users {
		if existing.Username == user.Username {
			return types.User{}, store.ErrDuplicateUsername
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id int) error {
	if _, ok := r.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func TestUserServiceCreateDuplicateUsername(t *testing.T) {
	repo := newFakeUserRepo()
	contacts := NewContactService(newFakeContactRepo(), storage.NewStorage(newFakeObjectBackend()), nil)
	svc := NewUserService(repo, contacts)

	_, err := svc.Create(context.Background(), types.User{Username: "alice"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), types.User{Username: "alice"})
	assert.ErrorIs(t, err, store.ErrDuplicateUsername)
}

func TestUserServiceDeleteRemovesDocumentBlobs(t *testing.T) {
	userRepo := newFakeUserRepo()
	contactRepo := newFakeContactRepo()
	backend := newFakeObjectBackend()
	contacts := NewContactService(contactRepo, storage.NewStorage(backend), nil)
	svc := NewUserService(userRepo, contacts)

	user, err := svc.Create(context.Background(), types.User{Username: "alice"})
	require.NoError(t, err)
	other, err := svc.Create(context.Background(), types.User{Username: "bob"})
	require.NoError(t, err)

	doc := &Document{Filename: "a.pdf", Data: []byte("a")}
	_, _, err = contacts.Create(context.Background(), user.ID, forms.ContactData{Name: "A", Email: "a@x.com", DocumentName: doc.Filename}, doc)
	require.NoError(t, err)

	otherDoc := &Document{Filename: "b.pdf", Data: []byte("b")}
	_, _, err = contacts.Create(context.Background(), other.ID, forms.ContactData{Name: "B", Email: "b@x.com", DocumentName: otherDoc.Filename}, otherDoc)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), user.ID))

	_, err = svc.GetByID(context.Background(), user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	// The other user's blob survives.
	assert.Equal(t, 1, backend.count())
}
