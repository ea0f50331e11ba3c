package service

import (
	"context"
	"fmt"
	"strings"

	"marketplace/internal/models"
	"marketplace/internal/repository"
)

//// Dashboard

// Dashboard resolves the profile of identity and builds the landing view for its role.
func (s *Service) Dashboard(ctx context.Context, identity models.Identity) (models.Dashboard, error) {
	user, err := s.EnsureProfile(ctx, identity)
	if err != nil {
		return models.Dashboard{}, fmt.Errorf("service.Service.Dashboard: %w", err)
	}

	switch user.Role {
	case models.RoleClient:
		requests, err := s.ClientRequests(ctx, user)
		if err != nil {
			return models.Dashboard{}, fmt.Errorf("service.Service.Dashboard: %w", err)
		}
		return models.Dashboard{
			Role: user.Role,
			Client: &models.ClientDashboard{
				Profile:  user,
				Requests: requests,
				Stats:    ComputeClientStats(requestsOf(requests), nil),
			},
		}, nil
	case models.RoleProvider:
		open, err := s.repo.GetRequests(ctx, repository.RequestQuery{Status: models.RequestOpen})
		if err != nil {
			return models.Dashboard{}, fmt.Errorf("service.Service.Dashboard: %w", err)
		}
		requests, err := s.openRequestViews(ctx, open)
		if err != nil {
			return models.Dashboard{}, fmt.Errorf("service.Service.Dashboard: %w", err)
		}
		own, err := s.repo.GetOffers(ctx, repository.OfferQuery{ProviderId: user.Id})
		if err != nil {
			return models.Dashboard{}, fmt.Errorf("service.Service.Dashboard: %w", err)
		}
		return models.Dashboard{
			Role: user.Role,
			Provider: &models.ProviderDashboard{
				Profile:  user,
				Requests: requests,
				Offers:   JoinProviderOffers(own, open),
				Stats:    ComputeProviderStats(open, own),
			},
		}, nil
	default:
		return models.Dashboard{}, fmt.Errorf("service.Service.Dashboard: %w: %q", models.ErrInvalidRole, user.Role)
	}
}

// Profile returns the profile of identity for role-scoped operations.
func (s *Service) Profile(ctx context.Context, identity models.Identity) (models.User, error) {
	user, err := s.EnsureProfile(ctx, identity)
	if err != nil {
		return user, fmt.Errorf("service.Service.Profile: %w", err)
	}
	if !models.ValidRole(user.Role) {
		return user, fmt.Errorf("service.Service.Profile: %w: %q", models.ErrInvalidRole, user.Role)
	}
	return user, nil
}

//// Client

func clientRequestView(request models.Request, owner string) models.RequestView {
	actions := []models.Action{}
	if request.IsOpen() {
		actions = append(actions, models.ActionClose, models.ActionAward)
	}
	return models.RequestView{Request: request, ClientName: owner, Actions: actions}
}

func requestsOf(views []models.RequestView) []models.Request {
	result := make([]models.Request, 0, len(views))
	for _, v := range views {
		result = append(result, v.Request)
	}
	return result
}

// ClientRequests lists the caller's own requests, newest first.
func (s *Service) ClientRequests(ctx context.Context, user models.User) ([]models.RequestView, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return nil, fmt.Errorf("service.Service.ClientRequests: %w", err)
	}

	requests, err := s.repo.GetRequests(ctx, repository.RequestQuery{UserId: user.Id})
	if err != nil {
		return nil, fmt.Errorf("service.Service.ClientRequests: %w", err)
	}

	result := make([]models.RequestView, 0, len(requests))
	for _, r := range requests {
		result = append(result, clientRequestView(r, user.Name))
	}
	return result, nil
}

func (s *Service) CreateRequest(ctx context.Context, user models.User, serviceType, description string) ([]models.RequestView, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return nil, fmt.Errorf("service.Service.CreateRequest: %w", err)
	}

	serviceType = strings.TrimSpace(serviceType)
	description = strings.TrimSpace(description)
	if serviceType == "" || description == "" {
		return nil, fmt.Errorf("service.Service.CreateRequest: %w", s.invalid(user, MsgFillAllFields))
	}

	_, err := s.repo.AddRequest(ctx, models.Request{
		UserId:      user.Id,
		ServiceType: serviceType,
		Description: description,
	})
	s.metrics.ObserveAction("create_request", err)
	if err != nil {
		s.failed(user, err, failCreateRequest)
		return nil, fmt.Errorf("service.Service.CreateRequest: %w", err)
	}

	s.notifier.Success(user.Id, MsgRequestCreated)
	return s.ClientRequests(ctx, user)
}

// ownRequest fetches a request of the caller. Requests of other users are reported as missing.
func (s *Service) ownRequest(ctx context.Context, user models.User, requestId string) (models.Request, error) {
	request, err := s.repo.GetRequestByUUID(ctx, requestId)
	if err != nil {
		return request, err
	}
	if request.UserId != user.Id {
		return models.Request{}, models.ErrNoRequest
	}
	return request, nil
}

// CloseRequest closes an open request of the caller. confirmed must be true.
func (s *Service) CloseRequest(ctx context.Context, user models.User, requestId string, confirmed bool) ([]models.RequestView, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return nil, fmt.Errorf("service.Service.CloseRequest: %w", err)
	}
	if !confirmed {
		return nil, fmt.Errorf("service.Service.CloseRequest: %w", models.ErrConfirmationRequired)
	}

	request, err := s.ownRequest(ctx, user, requestId)
	if err != nil {
		return nil, fmt.Errorf("service.Service.CloseRequest: %w", err)
	}
	if !request.IsOpen() {
		return nil, fmt.Errorf("service.Service.CloseRequest: %w", models.ErrRequestFinalized)
	}

	_, err = s.repo.UpdateRequestStatus(ctx, requestId, models.RequestClosed)
	s.metrics.ObserveAction("close_request", err)
	if err != nil {
		s.failed(user, err, failCloseRequest)
		return nil, fmt.Errorf("service.Service.CloseRequest: %w", err)
	}

	s.notifier.Success(user.Id, MsgRequestClosed)
	return s.ClientRequests(ctx, user)
}

// RequestOffers lists the offers on one of the caller's requests with provider names attached,
// filtered and sorted as asked.
func (s *Service) RequestOffers(ctx context.Context, user models.User, requestId string, filter models.OfferFilter) ([]models.OfferView, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return nil, fmt.Errorf("service.Service.RequestOffers: %w", err)
	}
	if !models.ValidPriceSort(filter.Price) || !models.ValidDeliverySort(filter.Delivery) {
		return nil, fmt.Errorf("service.Service.RequestOffers: %w", models.NewValidationError(MsgInvalidSort))
	}

	if _, err := s.ownRequest(ctx, user, requestId); err != nil {
		return nil, fmt.Errorf("service.Service.RequestOffers: %w", err)
	}

	offers, err := s.offerViews(ctx, requestId)
	if err != nil {
		return nil, fmt.Errorf("service.Service.RequestOffers: %w", err)
	}

	return SortOffers(FilterOffers(offers, filter.Provider), filter.Price, filter.Delivery), nil
}

func (s *Service) offerViews(ctx context.Context, requestId string) ([]models.OfferView, error) {
	offers, err := s.repo.GetOffers(ctx, repository.OfferQuery{RequestId: requestId})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.ProviderId)
	}
	providers, err := s.repo.UsersByUUIDs(ctx, distinct(ids))
	if err != nil {
		return nil, err
	}

	result := make([]models.OfferView, 0, len(offers))
	for _, o := range offers {
		name := models.UnknownName
		if p, ok := providers[o.ProviderId]; ok && p.Name != "" {
			name = p.Name
		}
		result = append(result, models.OfferView{Offer: o, ProviderName: name})
	}
	return result, nil
}

type AwardResult struct {
	Requests []models.RequestView `json:"requests"`
	Offers   []models.OfferView   `json:"offers"`
}

// AwardRequest accepts offerId for requestId. Both status changes happen in one transaction.
func (s *Service) AwardRequest(ctx context.Context, user models.User, requestId, offerId string, confirmed bool) (AwardResult, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return AwardResult{}, fmt.Errorf("service.Service.AwardRequest: %w", err)
	}
	if !confirmed {
		return AwardResult{}, fmt.Errorf("service.Service.AwardRequest: %w", models.ErrConfirmationRequired)
	}

	_, err := s.repo.AwardRequest(ctx, requestId, offerId)
	s.metrics.ObserveAction("award_request", err)
	if err != nil {
		s.failed(user, err, failAwardRequest)
		return AwardResult{}, fmt.Errorf("service.Service.AwardRequest: %w", err)
	}

	s.notifier.Success(user.Id, MsgRequestAwarded)

	requests, err := s.ClientRequests(ctx, user)
	if err != nil {
		return AwardResult{}, fmt.Errorf("service.Service.AwardRequest: %w", err)
	}
	offers, err := s.offerViews(ctx, requestId)
	if err != nil {
		return AwardResult{}, fmt.Errorf("service.Service.AwardRequest: %w", err)
	}

	return AwardResult{Requests: requests, Offers: offers}, nil
}

// ContactProvider is a placeholder: it only tells the caller that contact details would be shown.
func (s *Service) ContactProvider(ctx context.Context, user models.User, providerId string) (models.Notification, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return models.Notification{}, fmt.Errorf("service.Service.ContactProvider: %w", err)
	}

	providers, err := s.repo.UsersByUUIDs(ctx, []string{providerId})
	if err != nil {
		s.notifier.Error(user.Id, failContact)
		return models.Notification{}, fmt.Errorf("service.Service.ContactProvider: %w", err)
	}

	name := "provider"
	if p, ok := providers[providerId]; ok && p.Name != "" {
		name = p.Name
	}
	return s.notifier.Info(user.Id, fmt.Sprintf(MsgContactProvider, name)), nil
}

// ClientStats summarises the caller's requests and, when requestId is set, the offers on that request.
func (s *Service) ClientStats(ctx context.Context, user models.User, requestId string) (models.ClientStats, error) {
	if err := requireRole(user, models.RoleClient); err != nil {
		return models.ClientStats{}, fmt.Errorf("service.Service.ClientStats: %w", err)
	}

	requests, err := s.repo.GetRequests(ctx, repository.RequestQuery{UserId: user.Id})
	if err != nil {
		return models.ClientStats{}, fmt.Errorf("service.Service.ClientStats: %w", err)
	}

	var offers []models.Offer
	if requestId != "" {
		if _, err := s.ownRequest(ctx, user, requestId); err != nil {
			return models.ClientStats{}, fmt.Errorf("service.Service.ClientStats: %w", err)
		}
		offers, err = s.repo.GetOffers(ctx, repository.OfferQuery{RequestId: requestId})
		if err != nil {
			return models.ClientStats{}, fmt.Errorf("service.Service.ClientStats: %w", err)
		}
	}

	return ComputeClientStats(requests, offers), nil
}
