package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contacthub/apiserver/internal/forms"
	"github.com/contacthub/apiserver/internal/services"
	"github.com/contacthub/apiserver/internal/storage"
	"github.com/contacthub/apiserver/internal/store"
	"github.com/contacthub/apiserver/types"
)

const testJWTSecret = "test-secret"

// memContactRepo backs handler tests with the same uniqueness rules the
// database enforces.
type memContactRepo struct {
	mu       sync.Mutex
	nextID   int
	contacts map[int]types.Contact
}

func newMemContactRepo() *memContactRepo {
	return &memContactRepo{nextID: 1, contacts: map[int]types.Contact{}}
}

func (r *memContactRepo) Get(_ context.Context, id int) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact, ok := r.contacts[id]
	if !ok {
		return types.Contact{}, store.ErrNotFound
	}
	return contact, nil
}

func (r *memContactRepo) ListByUser(_ context.Context, userID int) ([]types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Contact
	for _, contact := range r.contacts {
		if contact.UserID == userID {
			out = append(out, contact)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *memContactRepo) Create(_ context.Context, contact types.Contact) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.contacts {
		if existing.UserID != contact.UserID {
			continue
		}
		if existing.Email == contact.Email {
			return types.Contact{}, store.ErrDuplicateEmail
		}
		if existing.Name == contact.Name {
			return types.Contact{}, store.ErrDuplicateName
		}
	}
	contact.ID = r.nextID
	r.nextID++
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}
	r.contacts[contact.ID] = contact
	return contact, nil
}

func (r *memContactRepo) Delete(_ context.Context, userID, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact, ok := r.contacts[id]
	if !ok || contact.UserID != userID {
		return store.ErrNotFound
	}
	delete(r.contacts, id)
	return nil
}

func (r *memContactRepo) DocumentKeysByUser(_ context.Context, userID int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, contact := range r.contacts {
		if contact.UserID == userID && contact.DocumentKey != "" {
			keys = append(keys, contact.DocumentKey)
		}
	}
	return keys, nil
}

func (r *memContactRepo) ExistsByUserAndEmail(_ context.Context, userID int, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, contact := range r.contacts {
		if contact.UserID == userID && contact.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *memContactRepo) ExistsByUserAndName(_ context.Context, userID int, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, contact := range r.contacts {
		if contact.UserID == userID && contact.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// memObjectBackend is an in-memory storage.ObjectStorage.
type memObjectBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectBackend() *memObjectBackend {
	return &memObjectBackend{objects: map[string][]byte{}}
}

func (b *memObjectBackend) EnsureBucket(context.Context) error { return nil }

func (b *memObjectBackend) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memObjectBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memObjectBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memObjectBackend) Bucket() string { return "test-bucket" }

func newContactTestServer(t *testing.T) (*httptest.Server, *memContactRepo) {
	t.Helper()

	repo := newMemContactRepo()
	contactService := services.NewContactService(repo, storage.NewStorage(newMemObjectBackend()), nil)

	router := chi.NewRouter()
	router.Route("/contacts", func(r chi.Router) {
		ContactRouter(r, contactService, repo, RequireAuth(testJWTSecret))
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, repo
}

func tokenForUser(t *testing.T, userID int) string {
	t.Helper()
	token, err := issueToken(userID, []byte(testJWTSecret), time.Hour)
	require.NoError(t, err)
	return token
}

type contactUpload struct {
	name     string
	email    string
	filename string
	fileData []byte
}

func postContact(t *testing.T, srv *httptest.Server, token string, upload contactUpload) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField(formFieldName, upload.name))
	require.NoError(t, writer.WriteField(formFieldEmail, upload.email))
	if upload.filename != "" {
		part, err := writer.CreateFormFile(formFieldDocument, upload.filename)
		require.NoError(t, err)
		_, err = part.Write(upload.fileData)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/contacts/", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func doAuthed(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeFieldErrors(t *testing.T, resp *http.Response) forms.FieldErrors {
	t.Helper()
	defer resp.Body.Close()
	var payload FieldErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Errors
}

func decodeContact(t *testing.T, resp *http.Response) types.Contact {
	t.Helper()
	defer resp.Body.Close()
	var contact types.Contact
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&contact))
	return contact
}

func TestContactsRequireAuth(t *testing.T) {
	srv, _ := newContactTestServer(t)

	resp, err := http.Get(srv.URL + "/contacts/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateContact(t *testing.T) {
	srv, _ := newContactTestServer(t)
	token := tokenForUser(t, 1)

	resp := postContact(t, srv, token, contactUpload{name: "Bob", email: "bob@x.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	contact := decodeContact(t, resp)
	assert.Equal(t, "Bob", contact.Name)
	assert.Equal(t, "bob@x.com", contact.Email)
	assert.NotZero(t, contact.ID)
}

func TestCreateContactValidationErrors(t *testing.T) {
	srv, _ := newContactTestServer(t)
	token := tokenForUser(t, 1)

	resp := postContact(t, srv, token, contactUpload{name: "", email: "not-an-email"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	errs := decodeFieldErrors(t, resp)
	assert.Equal(t, []string{forms.MsgNameRequired}, errs["name"])
	assert.Equal(t, []string{forms.MsgEmailInvalid}, errs["email"])
}

// The scenario from the top: user A registers Bob, cannot reuse the
// name, and user B registers the identical contact independently.
func TestContactScenario(t *testing.T) {
	srv, _ := newContactTestServer(t)
	tokenA := tokenForUser(t, 1)
	tokenB := tokenForUser(t, 2)

	resp := postContact(t, srv, tokenA, contactUpload{name: "Bob", email: "bob@x.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postContact(t, srv, tokenA, contactUpload{name: "Bob", email: "carl@x.com"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errs := decodeFieldErrors(t, resp)
	assert.Equal(t, []string{forms.MsgDuplicateName}, errs["name"])

	resp = postContact(t, srv, tokenA, contactUpload{name: "Robert", email: "bob@x.com"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errs = decodeFieldErrors(t, resp)
	assert.Equal(t, []string{forms.MsgDuplicateEmail}, errs["email"])

	resp = postContact(t, srv, tokenB, contactUpload{name: "Bob", email: "bob@x.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func TestListContactsNewestFirst(t *testing.T) {
	srv, repo := newContactTestServer(t)
	token := tokenForUser(t, 1)

	base := time.Now()
	for _, contact := range []types.Contact{
		{UserID: 1, Name: "Oldest", Email: "a@x.com", CreatedAt: base.Add(-2 * time.Hour)},
		{UserID: 1, Name: "Newest", Email: "b@x.com", CreatedAt: base},
		{UserID: 1, Name: "Middle", Email: "c@x.com", CreatedAt: base.Add(-time.Hour)},
		{UserID: 2, Name: "Foreign", Email: "d@x.com", CreatedAt: base},
	} {
		_, err := repo.Create(context.Background(), contact)
		require.NoError(t, err)
	}

	resp := doAuthed(t, http.MethodGet, srv.URL+"/contacts/", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var payload ContactListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Items, 3)
	assert.Equal(t, "Newest", payload.Items[0].Name)
	assert.Equal(t, "Middle", payload.Items[1].Name)
	assert.Equal(t, "Oldest", payload.Items[2].Name)
}

func TestCreateContactRejectsExeUpload(t *testing.T) {
	srv, _ := newContactTestServer(t)
	token := tokenForUser(t, 1)

	resp := postContact(t, srv, token, contactUpload{
		name:     "Bob",
		email:    "bob@x.com",
		filename: "payload.exe",
		fileData: []byte("MZ"),
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	errs := decodeFieldErrors(t, resp)
	assert.Equal(t, []string{forms.MsgDocumentExtension}, errs["document"])
}

func TestDocumentUploadAndDownload(t *testing.T) {
	srv, _ := newContactTestServer(t)
	token := tokenForUser(t, 1)

	content := []byte("curriculum vitae")
	resp := postContact(t, srv, token, contactUpload{
		name:     "Bob",
		email:    "bob@x.com",
		filename: "cv.docx",
		fileData: content,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	contact := decodeContact(t, resp)
	assert.Equal(t, "cv.docx", contact.DocumentName)

	resp = doAuthed(t, http.MethodGet, fmt.Sprintf("%s/contacts/%d/document", srv.URL, contact.ID), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	downloaded, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "cv.docx")
}

func TestGetContactOwnership(t *testing.T) {
	srv, _ := newContactTestServer(t)
	tokenA := tokenForUser(t, 1)
	tokenB := tokenForUser(t, 2)

	resp := postContact(t, srv, tokenA, contactUpload{name: "Bob", email: "bob@x.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	contact := decodeContact(t, resp)

	resp = doAuthed(t, http.MethodGet, fmt.Sprintf("%s/contacts/%d", srv.URL, contact.ID), tokenB)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doAuthed(t, http.MethodGet, fmt.Sprintf("%s/contacts/%d", srv.URL, contact.ID), tokenA)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteContact(t *testing.T) {
	srv, _ := newContactTestServer(t)
	tokenA := tokenForUser(t, 1)
	tokenB := tokenForUser(t, 2)

	resp := postContact(t, srv, tokenA, contactUpload{name: "Bob", email: "bob@x.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	contact := decodeContact(t, resp)

	// Someone else cannot delete it.
	resp = doAuthed(t, http.MethodDelete, fmt.Sprintf("%s/contacts/%d", srv.URL, contact.ID), tokenB)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doAuthed(t, http.MethodDelete, fmt.Sprintf("%s/contacts/%d", srv.URL, contact.ID), tokenA)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doAuthed(t, http.MethodGet, fmt.Sprintf("%s/contacts/%d", srv.URL, contact.ID), tokenA)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
