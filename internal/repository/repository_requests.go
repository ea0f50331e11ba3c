package repository

import (
	"context"
	"fmt"

	"marketplace/internal/models"
	"marketplace/internal/supabase"
)

// RequestQuery narrows GetRequests. Empty fields do not filter.
type RequestQuery struct {
	UserId string
	Status models.RequestStatus
}

func (repo *Repository) GetRequests(ctx context.Context, q RequestQuery) ([]models.Request, error) {
	query := repo.client.From("requests").Select("*")
	if q.UserId != "" {
		query = query.Eq("user_id", q.UserId)
	}
	if q.Status != "" {
		query = query.Eq("status", q.Status)
	}

	result := []models.Request{}
	err := query.Order("created_at", false).ExecuteInto(ctx, &result)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetRequests: %w", err)
	}

	return result, nil
}

func (repo *Repository) GetRequestByUUID(ctx context.Context, UUID string) (models.Request, error) {
	var request models.Request
	err := repo.client.From("requests").
		Select("*").
		Eq("id", UUID).
		Single().
		ExecuteInto(ctx, &request)

	if supabase.IsNotFound(err) {
		return request, fmt.Errorf("repository.Repository.GetRequestByUUID: %w", models.ErrNoRequest)
	} else if err != nil {
		return request, fmt.Errorf("repository.Repository.GetRequestByUUID: %w", err)
	}

	return request, nil
}

type requestRow struct {
	UserId      string               `json:"user_id"`
	ServiceType string               `json:"service_type"`
	Description string               `json:"description"`
	Status      models.RequestStatus `json:"status"`
}

func (repo *Repository) AddRequest(ctx context.Context, request models.Request) (models.Request, error) {
	var result models.Request
	err := repo.client.From("requests").
		Insert(requestRow{
			UserId:      request.UserId,
			ServiceType: request.ServiceType,
			Description: request.Description,
			Status:      models.RequestOpen,
		}).
		Single().
		ExecuteInto(ctx, &result)
	if err != nil {
		return result, fmt.Errorf("repository.Repository.AddRequest: %w", err)
	}

	return result, nil
}

// UpdateRequestStatus moves an open request to status. The update is conditional on the
// request still being open, so a request finalized concurrently is never overwritten.
func (repo *Repository) UpdateRequestStatus(ctx context.Context, UUID string, status models.RequestStatus) (models.Request, error) {
	var result models.Request
	if !models.ValidRequestStatus(status) {
		return result, fmt.Errorf("repository.Repository.UpdateRequestStatus: invalid status '%s'", status)
	}

	err := repo.client.From("requests").
		Update(map[string]any{"status": status}).
		Eq("id", UUID).
		Eq("status", string(models.RequestOpen)).
		Single().
		ExecuteInto(ctx, &result)

	if supabase.IsNotFound(err) {
		_, lookupErr := repo.GetRequestByUUID(ctx, UUID)
		if lookupErr != nil {
			return result, fmt.Errorf("repository.Repository.UpdateRequestStatus: %w", lookupErr)
		}
		return result, fmt.Errorf("repository.Repository.UpdateRequestStatus: %w", models.ErrRequestFinalized)
	} else if err != nil {
		return result, fmt.Errorf("repository.Repository.UpdateRequestStatus: %w", err)
	}

	return result, nil
}

// messages raised by the award_request function
const (
	awardRequestMissing = "request not found"
	awardOfferMissing   = "offer not found"
)

// AwardRequest marks the request awarded and the offer accepted in one database transaction.
func (repo *Repository) AwardRequest(ctx context.Context, requestId, offerId string) (models.Request, error) {
	var result models.Request
	err := repo.client.RPC(ctx, "award_request", map[string]string{
		"p_request_id": requestId,
		"p_offer_id":   offerId,
	}, &result)

	if e, ok := supabase.AsError(err); ok {
		switch {
		case e.Message == awardOfferMissing:
			err = models.ErrNoOffer
		case e.Message == awardRequestMissing:
			err = models.ErrNoRequest
		case e.Code == "PT409":
			err = models.ErrRequestFinalized
		}
	}
	if err != nil {
		return result, fmt.Errorf("repository.Repository.AwardRequest: %w", err)
	}

	return result, nil
}
