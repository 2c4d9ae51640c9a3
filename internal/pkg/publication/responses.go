package publication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/notify"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// Respond records a response by another account to an ACTIVE publication
// and notifies the owner.
func (s *Service) Respond(ctx context.Context, uc usercontext.UserContext, publicationUUID, message string) (*models.PublicationResponse, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}

	resp := &models.PublicationResponse{
		AccountID: uc.AccountID,
		Message:   strings.TrimSpace(message),
		Status:    models.ResponseStatusPending,
	}
	if err := resp.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "invalid response", err)
	}

	var pub *models.Publication
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		responder, err := repos.Account.GetByID(uc.AccountID)
		if err != nil {
			return mapAccountNotFound(err)
		}
		if responder.IsBanned {
			return apperr.ErrAccountBanned
		}

		found, err := repos.Publication.GetByUUID(publicationUUID)
		if err != nil {
			return mapNotFound(err, "publication")
		}
		if found.IsOwnedBy(uc.AccountID) {
			return apperr.New(apperr.CodeForbidden, "cannot respond to your own publication")
		}
		pub, err = repos.Publication.LockByID(found.ID)
		if err != nil {
			return mapNotFound(err, "publication")
		}
		if pub.IsCompleted() {
			return apperr.ErrAlreadyCompleted
		}
		if !pub.IsLiveAt(s.clock()) {
			return apperr.New(apperr.CodeInvalidTransition, "publication is not active")
		}

		exists, err := repos.Response.Exists(pub.ID, uc.AccountID)
		if err != nil {
			return fmt.Errorf("check response: %w", err)
		}
		if exists {
			return apperr.Validation("already responded to this publication")
		}
		resp.PublicationID = pub.ID
		if err := repos.Response.Create(resp); err != nil {
			return fmt.Errorf("create response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Message{
		AccountID: pub.OwnerID,
		Type:      models.NotificationPublicationResponse,
		Title:     "New response",
		Body:      fmt.Sprintf("%s responded to %q.", uc.Name, pub.Title),
		Link:      "/publications/" + pub.UUID + "/responses",
	})
	return resp, nil
}

// ListResponses lists responses of a publication for its owner or an operator.
func (s *Service) ListResponses(ctx context.Context, uc usercontext.UserContext, publicationUUID string) ([]models.PublicationResponse, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	repos := s.factory.WithContext(ctx)
	pub, err := repos.Publication.GetByUUID(publicationUUID)
	if err != nil {
		return nil, mapNotFound(err, "publication")
	}
	if !pub.IsOwnedBy(uc.AccountID) && !uc.IsOperator() {
		return nil, apperr.ErrForbidden
	}
	list, err := repos.Response.ListByPublication(pub.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return list, nil
}

func mapAccountNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrAccountNotFound
	}
	return fmt.Errorf("load account: %w", err)
}
