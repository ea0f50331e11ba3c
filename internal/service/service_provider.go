package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"marketplace/internal/models"
	"marketplace/internal/repository"
)

//// Provider

// OfferInput is the raw offer form. Numbers arrive as text and are validated here.
type OfferInput struct {
	Price        string
	DeliveryTime string
	Message      string
}

// ProviderRefresh is the provider's view after a mutation.
type ProviderRefresh struct {
	Requests []models.RequestView       `json:"requests"`
	Offers   []models.ProviderOfferView `json:"offers"`
}

func (s *Service) openRequestViews(ctx context.Context, open []models.Request) ([]models.RequestView, error) {
	ids := make([]string, 0, len(open))
	for _, r := range open {
		ids = append(ids, r.UserId)
	}
	clients, err := s.repo.UsersByUUIDs(ctx, distinct(ids))
	if err != nil {
		return nil, err
	}

	result := make([]models.RequestView, 0, len(open))
	for _, r := range open {
		name := models.UnknownName
		if c, ok := clients[r.UserId]; ok && c.Name != "" {
			name = c.Name
		}
		actions := []models.Action{}
		if r.IsOpen() {
			actions = append(actions, models.ActionSubmitOffer)
		}
		result = append(result, models.RequestView{Request: r, ClientName: name, Actions: actions})
	}
	return result, nil
}

// OpenRequests lists every open request, newest first, with the client's name.
func (s *Service) OpenRequests(ctx context.Context, user models.User) ([]models.RequestView, error) {
	if err := requireRole(user, models.RoleProvider); err != nil {
		return nil, fmt.Errorf("service.Service.OpenRequests: %w", err)
	}

	open, err := s.repo.GetRequests(ctx, repository.RequestQuery{Status: models.RequestOpen})
	if err != nil {
		return nil, fmt.Errorf("service.Service.OpenRequests: %w", err)
	}

	result, err := s.openRequestViews(ctx, open)
	if err != nil {
		return nil, fmt.Errorf("service.Service.OpenRequests: %w", err)
	}
	return result, nil
}

// offers.price is NUMERIC(12,2) and offers.delivery_time is INTEGER.
const (
	maxPrice        = 1e10
	maxDeliveryTime = math.MaxInt32
)

// hasCents reports whether price needs no more than two decimal places.
func hasCents(price float64) bool {
	cents := price * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}

// ParseOffer validates the offer form against what the offers table can store.
func ParseOffer(in OfferInput) (price float64, deliveryTime int, message string, err error) {
	message = strings.TrimSpace(in.Message)
	priceText := strings.TrimSpace(in.Price)
	deliveryText := strings.TrimSpace(in.DeliveryTime)
	if priceText == "" || deliveryText == "" || message == "" {
		return 0, 0, "", models.NewValidationError(MsgFillAllFields)
	}

	price, perr := strconv.ParseFloat(priceText, 64)
	if perr != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 || price >= maxPrice || !hasCents(price) {
		return 0, 0, "", models.NewValidationError(MsgInvalidPrice)
	}

	deliveryTime, derr := strconv.Atoi(deliveryText)
	if derr != nil || deliveryTime < 1 || deliveryTime > maxDeliveryTime {
		return 0, 0, "", models.NewValidationError(MsgInvalidDelivery)
	}

	return price, deliveryTime, message, nil
}

// SubmitOffer places a pending offer on an open request.
func (s *Service) SubmitOffer(ctx context.Context, user models.User, requestId string, in OfferInput) (ProviderRefresh, error) {
	if err := requireRole(user, models.RoleProvider); err != nil {
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", err)
	}
	if strings.TrimSpace(requestId) == "" {
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", s.invalid(user, MsgFillAllFields))
	}

	price, deliveryTime, message, err := ParseOffer(in)
	if err != nil {
		s.notifier.Error(user.Id, err.Error())
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", err)
	}

	request, err := s.repo.GetRequestByUUID(ctx, requestId)
	if err != nil {
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", err)
	}
	if !request.IsOpen() {
		s.notifier.Error(user.Id, MsgRequestNotOpen)
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", models.ErrRequestNotOpen)
	}

	_, err = s.repo.AddOffer(ctx, models.Offer{
		RequestId:    requestId,
		ProviderId:   user.Id,
		Price:        price,
		DeliveryTime: deliveryTime,
		Message:      message,
	})
	s.metrics.ObserveAction("submit_offer", err)
	if err != nil {
		s.failed(user, err, failSubmitOffer)
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", err)
	}

	s.notifier.Success(user.Id, MsgOfferSubmitted)

	result, err := s.providerRefresh(ctx, user)
	if err != nil {
		return ProviderRefresh{}, fmt.Errorf("service.Service.SubmitOffer: %w", err)
	}
	return result, nil
}

func (s *Service) providerRefresh(ctx context.Context, user models.User) (ProviderRefresh, error) {
	open, err := s.repo.GetRequests(ctx, repository.RequestQuery{Status: models.RequestOpen})
	if err != nil {
		return ProviderRefresh{}, err
	}
	requests, err := s.openRequestViews(ctx, open)
	if err != nil {
		return ProviderRefresh{}, err
	}
	own, err := s.repo.GetOffers(ctx, repository.OfferQuery{ProviderId: user.Id})
	if err != nil {
		return ProviderRefresh{}, err
	}
	return ProviderRefresh{Requests: requests, Offers: JoinProviderOffers(own, open)}, nil
}

// ProviderOffers lists the caller's own offers, newest first.
func (s *Service) ProviderOffers(ctx context.Context, user models.User) ([]models.ProviderOfferView, error) {
	if err := requireRole(user, models.RoleProvider); err != nil {
		return nil, fmt.Errorf("service.Service.ProviderOffers: %w", err)
	}

	result, err := s.providerRefresh(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ProviderOffers: %w", err)
	}
	return result.Offers, nil
}

// JoinProviderOffers attaches request summaries to offers. Only the open requests are consulted,
// so offers on closed or awarded requests show as UnknownRequest.
func JoinProviderOffers(offers []models.Offer, open []models.Request) []models.ProviderOfferView {
	byId := make(map[string]models.Request, len(open))
	for _, r := range open {
		byId[r.Id] = r
	}

	result := make([]models.ProviderOfferView, 0, len(offers))
	for _, o := range offers {
		view := models.ProviderOfferView{Offer: o, RequestTitle: models.UnknownRequest}
		if r, ok := byId[o.RequestId]; ok {
			view.RequestTitle = r.ServiceType
			view.RequestDescription = r.Description
		}
		result = append(result, view)
	}
	return result
}

// SetOfferStatus lets a provider mark one of its own offers accepted or rejected.
func (s *Service) SetOfferStatus(ctx context.Context, user models.User, offerId string, status models.OfferStatus) ([]models.ProviderOfferView, error) {
	if err := requireRole(user, models.RoleProvider); err != nil {
		return nil, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}
	if !models.ValidOfferDecision(status) {
		return nil, fmt.Errorf("service.Service.SetOfferStatus: %w", models.NewValidationError(MsgInvalidOfferStatus))
	}

	_, err := s.repo.UpdateOfferStatus(ctx, offerId, user.Id, status)
	s.metrics.ObserveAction("update_offer", err)
	if err != nil {
		s.failed(user, err, failUpdateOffer)
		return nil, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}

	s.notifier.Success(user.Id, fmt.Sprintf(MsgOfferMarked, status))

	result, err := s.providerRefresh(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}
	return result.Offers, nil
}

func (s *Service) ProviderStats(ctx context.Context, user models.User) (models.ProviderStats, error) {
	if err := requireRole(user, models.RoleProvider); err != nil {
		return models.ProviderStats{}, fmt.Errorf("service.Service.ProviderStats: %w", err)
	}

	open, err := s.repo.GetRequests(ctx, repository.RequestQuery{Status: models.RequestOpen})
	if err != nil {
		return models.ProviderStats{}, fmt.Errorf("service.Service.ProviderStats: %w", err)
	}
	own, err := s.repo.GetOffers(ctx, repository.OfferQuery{ProviderId: user.Id})
	if err != nil {
		return models.ProviderStats{}, fmt.Errorf("service.Service.ProviderStats: %w", err)
	}

	return ComputeProviderStats(open, own), nil
}
