package services

import (
	"context"

	"github.com/contacthub/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int) error
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	contacts *ContactService
}

func NewUserService(repo UserRepository, contacts *ContactService) *UserService {
	return &UserService{repo: repo, contacts: contacts}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

// Delete removes the account. Document blobs go first, then the user
// row; the database cascade takes the contact rows with it.
func (s *UserService) Delete(ctx context.Context, id int) error {
	if err := s.contacts.DeleteAllForUser(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
