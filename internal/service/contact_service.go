package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/mutex"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const recentMessageLimit = 20

type ContactDetails struct {
	Contact  *model.Contact   `json:"contact"`
	ThreadID string           `json:"thread_id,omitempty"`
	Messages []*model.Message `json:"messages"`
}

type ContactService struct {
	Contacts repository.ContactRepositoryInterface
	Threads  repository.ThreadRepositoryInterface
	Messages repository.MessageRepositoryInterface
	Mutex    *mutex.Mutex
	Logger   *zap.Logger
}

func detailKey(workspaceID, contactID string) string {
	return fmt.Sprintf("contact-detail:%s:%s", workspaceID, contactID)
}

// GetDetails loads a contact with its conversation. Concurrent fetches of
// the same contact share one load.
func (s *ContactService) GetDetails(ctx context.Context, workspaceID, contactID string) (*ContactDetails, error) {
	return coalesce(ctx, s.Mutex, detailKey(workspaceID, contactID), mutex.Wait, func(ctx context.Context) (*ContactDetails, error) {
		return s.load(ctx, workspaceID, contactID)
	})
}

func (s *ContactService) load(ctx context.Context, workspaceID, contactID string) (*ContactDetails, error) {
	contact, err := s.Contacts.GetByID(ctx, workspaceID, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewNotFound("contact", contactID)
	}

	details := &ContactDetails{Contact: contact, Messages: []*model.Message{}}
	threadID, err := s.Threads.FindByContact(ctx, workspaceID, contactID)
	if err != nil {
		return nil, err
	}
	if threadID == "" {
		return details, nil
	}
	details.ThreadID = threadID
	if details.Messages, err = s.Messages.ListByThread(ctx, threadID, recentMessageLimit); err != nil {
		return nil, err
	}
	return details, nil
}

// SetPrimaryPhone makes one of the contact's numbers the default recipient.
func (s *ContactService) SetPrimaryPhone(ctx context.Context, workspaceID, contactID, number string) (*model.Contact, error) {
	normalized, err := provider.Normalize(number)
	if err != nil {
		return nil, err
	}
	contact, err := s.Contacts.GetByID(ctx, workspaceID, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewNotFound("contact", contactID)
	}

	match := ""
	for _, p := range contact.Phones {
		if stored, err := provider.Normalize(p.Number); err == nil && stored == normalized {
			match = p.Number
			break
		}
	}
	if match == "" {
		return nil, appErrors.NewValidationError("number", "not one of the contact's phone numbers")
	}

	if err := s.Contacts.SetPrimaryPhone(ctx, contactID, match); err != nil {
		return nil, err
	}
	s.Logger.Info("primary phone changed", zap.String("contact_id", contactID))

	updated, err := s.Contacts.GetByID(ctx, workspaceID, contactID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}
