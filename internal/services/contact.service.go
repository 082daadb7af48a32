package services

import (
	"context"
	"errors"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/repository"
)

var ErrContactNotFound = errors.New("contact not found")

type ContactStore interface {
	Get(ctx context.Context, id string) (*model.Contact, error)
	List(ctx context.Context, f model.ContactFilter) ([]*model.Contact, int64, error)
}

// ContactService is the read-only contact surface the admin UI uses;
// contact ownership lives outside this service.
type ContactService struct {
	contactRepo ContactStore
}

func NewContactService(contactRepo ContactStore) *ContactService {
	return &ContactService{
		contactRepo: contactRepo,
	}
}

func (s *ContactService) Get(ctx context.Context, id string) (*model.Contact, error) {
	contact, err := s.contactRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrContactNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return contact, nil
}

func (s *ContactService) List(ctx context.Context, f model.ContactFilter) ([]*model.Contact, int64, error) {
	return s.contactRepo.List(ctx, f)
}
