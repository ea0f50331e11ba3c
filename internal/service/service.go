package service

import (
	"fmt"

	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/notify"
	"marketplace/internal/repository"
	"marketplace/internal/supabase"
)

const (
	MsgFillAllFields      = "Please fill in all fields"
	MsgInvalidPrice       = "Please enter a valid price"
	MsgInvalidDelivery    = "Please enter a valid delivery time (at least 1 day)"
	MsgInvalidRole        = "Please choose whether you are a client or a provider"
	MsgInvalidOfferStatus = "Offer status must be accepted or rejected"
	MsgInvalidSort        = "Unknown sort order"

	MsgRequestCreated  = "Service request created successfully!"
	MsgRequestClosed   = "Request closed successfully"
	MsgRequestAwarded  = "Request awarded successfully!"
	MsgOfferSubmitted  = "Offer submitted successfully!"
	MsgOfferMarked     = "Offer marked as %s"
	MsgContactProvider = "Contact information for %s would be shown here."
	MsgRequestNotOpen  = "This request is no longer open for offers"

	MsgConfirmEmail     = "Please check your email to confirm your account before logging in."
	MsgEmailNotConfirm  = "Please confirm your email address before logging in. Check your inbox for a confirmation email."
	MsgNoSessionCreated = "Login failed: No session created"
)

// fallbacks used when the store error has no message of its own
const (
	failCreateRequest = "Failed to create request"
	failCloseRequest  = "Failed to close request"
	failAwardRequest  = "Failed to award request"
	failSubmitOffer   = "Failed to submit offer"
	failUpdateOffer   = "Failed to update offer"
	failContact       = "Unable to retrieve contact information"
)

type Service struct {
	repo     *repository.Repository
	notifier *notify.Notifier
	metrics  *metrics.Metrics
}

type option func(*Service)

func WithMetrics(m *metrics.Metrics) option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(repo *repository.Repository, notifier *notify.Notifier, opts ...option) *Service {
	s := &Service{repo: repo, notifier: notifier}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewNotifier(notify.DefaultTTL, notify.DefaultLimit)
	}
	return s
}

//// Notifications

func (s *Service) Notifications(user models.User) []models.Notification {
	return s.notifier.List(user.Id)
}

func (s *Service) DismissNotification(user models.User, notificationId string) error {
	if !s.notifier.Dismiss(user.Id, notificationId) {
		return fmt.Errorf("service.Service.DismissNotification: %w", models.ErrNoNotification)
	}
	return nil
}

//// Service

func requireRole(user models.User, role models.Role) error {
	if user.Role != role {
		return models.ErrForbidden
	}
	return nil
}

// invalid pushes the validation message to the user and returns it as an error.
func (s *Service) invalid(user models.User, message string) error {
	s.notifier.Error(user.Id, message)
	return models.NewValidationError(message)
}

// failed reports a store failure to the user with the store's own message when it has one.
func (s *Service) failed(user models.User, err error, fallback string) {
	message := fallback
	if e, ok := supabase.AsError(err); ok && e.Message != "" {
		message = e.Message
	}
	s.notifier.Error(user.Id, message)
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
