// Package forms validates raw contact submissions before they reach the
// store, turning problems into per-field messages suitable for display.
package forms

import (
	"context"
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
)

// Messages attached to field errors. The duplicate messages are reused
// by the service layer when the database constraint fires after the
// pre-check passed.
const (
	MsgNameRequired   = "This field is required."
	MsgNameTooLong    = "Ensure this value has at most 100 characters."
	MsgDuplicateName  = "You already have a contact with this name."
	MsgEmailRequired  = "This field is required."
	MsgEmailInvalid   = "Enter a valid email address."
	MsgDuplicateEmail = "This email already exists."
)

const maxNameLength = 100

// allowedExtensions is the closed allow-list for uploaded documents.
var allowedExtensions = map[string]bool{
	"pdf":  true,
	"docs": true,
	"docx": true,
	"txt":  true,
}

// MsgDocumentExtension is the field error for a disallowed upload extension.
var MsgDocumentExtension = fmt.Sprintf(
	"File extension not allowed. Allowed extensions: %s.",
	strings.Join([]string{"pdf", "docs", "docx", "txt"}, ", "),
)

// FieldErrors maps a field name to the messages attached to it.
type FieldErrors map[string][]string

func (e FieldErrors) add(field, message string) {
	e[field] = append(e[field], message)
}

// HasErrors reports whether any field failed validation.
func (e FieldErrors) HasErrors() bool {
	return len(e) > 0
}

// ContactChecker probes existing contacts for the per-user uniqueness
// pre-checks. Both probes are read-only and always scoped to one user.
type ContactChecker interface {
	ExistsByUserAndEmail(ctx context.Context, userID int, email string) (bool, error)
	ExistsByUserAndName(ctx context.Context, userID int, name string) (bool, error)
}

// ContactData is a validated submission, ready for the service layer.
type ContactData struct {
	Name         string
	Email        string
	DocumentName string
}

// ContactForm validates one contact submission for one acting user.
type ContactForm struct {
	Name         string
	Email        string
	DocumentName string

	checker ContactChecker
	userID  int
}

// NewContactForm builds a form bound to the acting user. The checker
// backs the duplicate pre-checks; it is typically the contact repository.
func NewContactForm(checker ContactChecker, userID int) *ContactForm {
	return &ContactForm{checker: checker, userID: userID}
}

// Validate applies every field rule independently and merges the
// results. On success the second return value is empty and the first
// holds the cleaned data. The duplicate checks here are an UX pre-flight
// only; the database constraint remains the final arbiter.
func (f *ContactForm) Validate(ctx context.Context) (ContactData, FieldErrors) {
	errs := FieldErrors{}

	name := strings.TrimSpace(f.Name)
	f.validateName(ctx, name, errs)

	email := strings.TrimSpace(f.Email)
	f.validateEmail(ctx, email, errs)

	document := strings.TrimSpace(f.DocumentName)
	validateDocument(document, errs)

	if errs.HasErrors() {
		return ContactData{}, errs
	}
	return ContactData{Name: name, Email: email, DocumentName: document}, nil
}

func (f *ContactForm) validateName(ctx context.Context, name string, errs FieldErrors) {
	if name == "" {
		errs.add("name", MsgNameRequired)
		return
	}
	if len(name) > maxNameLength {
		errs.add("name", MsgNameTooLong)
		return
	}
	exists, err := f.checker.ExistsByUserAndName(ctx, f.userID, name)
	if err != nil {
		// The database constraint still catches the duplicate; a failed
		// probe must not fail the whole form.
		return
	}
	if exists {
		errs.add("name", MsgDuplicateName)
	}
}

func (f *ContactForm) validateEmail(ctx context.Context, email string, errs FieldErrors) {
	if email == "" {
		errs.add("email", MsgEmailRequired)
		return
	}
	if !validEmail(email) {
		errs.add("email", MsgEmailInvalid)
		return
	}
	exists, err := f.checker.ExistsByUserAndEmail(ctx, f.userID, email)
	if err != nil {
		return
	}
	if exists {
		errs.add("email", MsgDuplicateEmail)
	}
}

func validateDocument(filename string, errs FieldErrors) {
	if filename == "" {
		return
	}
	if !AllowedDocumentExtension(filename) {
		errs.add("document", MsgDocumentExtension)
	}
}

// AllowedDocumentExtension reports whether the filename carries one of
// the permitted document extensions.
func AllowedDocumentExtension(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return allowedExtensions[ext]
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject the "Name <addr>" form; only a bare address is a valid
	// field value.
	return addr.Address == email
}
