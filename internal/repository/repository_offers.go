package repository

import (
	"context"
	"fmt"

	"marketplace/internal/models"
	"marketplace/internal/supabase"
)

// OfferQuery narrows GetOffers. Empty fields do not filter.
type OfferQuery struct {
	RequestId  string
	ProviderId string
}

func (repo *Repository) GetOffers(ctx context.Context, q OfferQuery) ([]models.Offer, error) {
	query := repo.client.From("offers").Select("*")
	if q.RequestId != "" {
		query = query.Eq("request_id", q.RequestId)
	}
	if q.ProviderId != "" {
		query = query.Eq("provider_id", q.ProviderId)
	}

	result := []models.Offer{}
	err := query.Order("created_at", false).ExecuteInto(ctx, &result)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetOffers: %w", err)
	}

	return result, nil
}

type offerRow struct {
	RequestId    string             `json:"request_id"`
	ProviderId   string             `json:"provider_id"`
	Price        float64            `json:"price"`
	DeliveryTime int                `json:"delivery_time"`
	Message      string             `json:"message"`
	Status       models.OfferStatus `json:"status"`
}

func (repo *Repository) AddOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	var result models.Offer
	err := repo.client.From("offers").
		Insert(offerRow{
			RequestId:    offer.RequestId,
			ProviderId:   offer.ProviderId,
			Price:        offer.Price,
			DeliveryTime: offer.DeliveryTime,
			Message:      offer.Message,
			Status:       models.OfferPending,
		}).
		Single().
		ExecuteInto(ctx, &result)
	if err != nil {
		return result, fmt.Errorf("repository.Repository.AddOffer: %w", err)
	}

	return result, nil
}

// UpdateOfferStatus changes the status of an offer owned by providerId.
func (repo *Repository) UpdateOfferStatus(ctx context.Context, UUID, providerId string, status models.OfferStatus) (models.Offer, error) {
	var result models.Offer
	if !models.ValidOfferStatus(status) {
		return result, fmt.Errorf("repository.Repository.UpdateOfferStatus: invalid status '%s'", status)
	}

	err := repo.client.From("offers").
		Update(map[string]any{"status": status}).
		Eq("id", UUID).
		Eq("provider_id", providerId).
		Single().
		ExecuteInto(ctx, &result)

	if supabase.IsNotFound(err) {
		return result, fmt.Errorf("repository.Repository.UpdateOfferStatus: %w", models.ErrNoOffer)
	} else if err != nil {
		return result, fmt.Errorf("repository.Repository.UpdateOfferStatus: %w", err)
	}

	return result, nil
}
