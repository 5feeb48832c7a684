package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/contacthub/apiserver/internal/forms"
	"github.com/contacthub/apiserver/internal/services"
	"github.com/contacthub/apiserver/internal/store"
	"github.com/contacthub/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxDocumentBytes   = 16 << 20
	formFieldName      = "name"
	formFieldEmail     = "email"
	formFieldDocument  = "document"
)

// ContactHandler provides HTTP handlers for contacts.
type ContactHandler struct {
	contactService *services.ContactService
	checker        forms.ContactChecker
}

// NewContactHandler constructs a handler with the provided dependencies.
func NewContactHandler(contactService *services.ContactService, checker forms.ContactChecker) *ContactHandler {
	return &ContactHandler{
		contactService: contactService,
		checker:        checker,
	}
}

// ContactRouter registers contact routes on the given router. Every
// route requires an authenticated user.
func ContactRouter(
	r chi.Router,
	contactService *services.ContactService,
	checker forms.ContactChecker,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewContactHandler(contactService, checker)

	r.Use(authMiddleware)
	r.Get("/", handler.ListContacts)
	r.Post("/", handler.CreateContact)
	r.Route("/{contactID}", func(r chi.Router) {
		r.Get("/", handler.GetContact)
		r.Delete("/", handler.DeleteContact)
		r.Get("/document", handler.DownloadDocument)
	})
}

func (h *ContactHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	contacts, err := h.contactService.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}

	writeJSON(w, http.StatusOK, ContactListResponse{Items: contacts})
}

func (h *ContactHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	document, err := parseDocumentFile(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	form := forms.NewContactForm(h.checker, userID)
	form.Name = r.FormValue(formFieldName)
	form.Email = r.FormValue(formFieldEmail)
	if document != nil {
		form.DocumentName = document.Filename
	}

	data, fieldErrs := form.Validate(r.Context())
	if fieldErrs.HasErrors() {
		writeFieldErrors(w, fieldErrs)
		return
	}

	created, fieldErrs, err := h.contactService.Create(r.Context(), userID, data, document)
	if err != nil {
		if errors.Is(err, services.ErrDocumentExtension) {
			writeFieldErrors(w, forms.FieldErrors{formFieldDocument: {forms.MsgDocumentExtension}})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}
	if fieldErrs.HasErrors() {
		writeFieldErrors(w, fieldErrs)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ContactHandler) GetContact(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contact, err := h.contactService.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *ContactHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.contactService.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete contact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ContactHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, contact, err := h.contactService.OpenDocument(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch document")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", contact.DocumentName))
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, reader); err != nil {
		// Response already started; nothing left to report to the client.
		return
	}
}

// ContactListResponse is the list response payload.
type ContactListResponse struct {
	Items []types.Contact `json:"items"`
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FieldErrorResponse carries per-field validation messages.
type FieldErrorResponse struct {
	Errors forms.FieldErrors `json:"errors"`
}

func parseContactID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "contactID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid contact id")
	}
	return id, nil
}

func parseDocumentFile(form *multipart.Form) (*services.Document, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldDocument]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one document is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	data, err := readFileLimited(file, maxDocumentBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	contentType := fileHeader.Header.Get("Content-Type")
	return &services.Document{
		Filename:    strings.TrimSpace(fileHeader.Filename),
		Data:        data,
		ContentType: contentType,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
