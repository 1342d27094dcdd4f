package notification

import (
	"context"
	"fmt"
	"html"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/email"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/logger"
)

// Service delivers finalized documents to clinicians by email. Delivery is
// best effort: the document is already persisted, so failures are logged
// and never bubble into the finalize path.
type Service struct {
	users  repository.UserRepository
	email  email.Service
	logger *logger.Logger
}

func NewService(users repository.UserRepository, emailSvc email.Service, log *logger.Logger) *Service {
	return &Service{
		users:  users,
		email:  emailSvc,
		logger: log,
	}
}

func (s *Service) SendFinalizedDocument(ctx context.Context, userID, encounterID uuid.UUID, document string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user for notification: %w", err)
	}

	subject := "Your MDM document is ready"
	body := fmt.Sprintf("<p>Hi %s,</p><p>Your finalized MDM document:</p><pre>%s</pre>",
		html.EscapeString(user.Name), html.EscapeString(document))

	if err := s.email.Send(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("failed to email finalized document %s: %w", encounterID, err)
	}

	s.logger.Info("finalized document emailed", "encounter_id", encounterID.String(), "user_id", userID.String())
	return nil
}
