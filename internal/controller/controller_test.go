package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/service"
	"marketplace/internal/supabase"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService answers the few calls a test needs; anything else panics on the nil interface.
type stubService struct {
	Service

	user    models.User
	closed  []models.RequestView
	closeOk bool
	notes   []models.Notification
	filter  models.OfferFilter
}

func (s *stubService) Profile(ctx context.Context, identity models.Identity) (models.User, error) {
	return s.user, nil
}

func (s *stubService) CloseRequest(ctx context.Context, user models.User, requestId string, confirmed bool) ([]models.RequestView, error) {
	if !confirmed {
		return nil, fmt.Errorf("stub: %w", models.ErrConfirmationRequired)
	}
	s.closeOk = true
	return s.closed, nil
}

func (s *stubService) RequestOffers(ctx context.Context, user models.User, requestId string, filter models.OfferFilter) ([]models.OfferView, error) {
	s.filter = filter
	return []models.OfferView{}, nil
}

func (s *stubService) Notifications(user models.User) []models.Notification {
	return s.notes
}

func serve(c *Controller, method, pattern, target string, handler http.HandlerFunc, identity *models.Identity) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, handler)

	req := httptest.NewRequest(method, target, nil)
	if identity != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), *identity))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestServiceErrorResponse(t *testing.T) {
	c := NewController(&stubService{})

	cases := []struct {
		err    error
		status int
		reason string
	}{
		{models.NewValidationError(service.MsgFillAllFields), http.StatusBadRequest, service.MsgFillAllFields},
		{fmt.Errorf("wrap: %w", models.ErrEmailNotConfirmed), http.StatusUnauthorized, service.MsgEmailNotConfirm},
		{models.ErrNoSessionCreated, http.StatusUnauthorized, service.MsgNoSessionCreated},
		{models.ErrNoSession, http.StatusUnauthorized, "authentication required"},
		{models.ErrInvalidRole, http.StatusForbidden, "invalid user role"},
		{models.ErrForbidden, http.StatusForbidden, ""},
		{models.ErrNoRequest, http.StatusNotFound, ""},
		{models.ErrNoOffer, http.StatusNotFound, ""},
		{models.ErrNoNotification, http.StatusNotFound, ""},
		{models.ErrRequestFinalized, http.StatusConflict, ""},
		{models.ErrRequestNotOpen, http.StatusConflict, service.MsgRequestNotOpen},
		{models.ErrConfirmationRequired, http.StatusConflict, ""},
		{&supabase.Error{StatusCode: http.StatusForbidden, Message: "row-level security"}, http.StatusForbidden, "row-level security"},
		{fmt.Errorf("wrap: %w", &supabase.Error{StatusCode: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}), http.StatusBadRequest, "Invalid login credentials"},
		{&supabase.Error{StatusCode: http.StatusBadRequest, Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}, http.StatusBadRequest, `invalid input syntax for type uuid: "abc"`},
		{&supabase.Error{StatusCode: http.StatusConflict, Code: "23505", Message: "duplicate key value"}, http.StatusConflict, "duplicate key value"},
		{&supabase.Error{StatusCode: http.StatusUnprocessableEntity, Message: "Password should be at least 6 characters"}, http.StatusUnprocessableEntity, "Password should be at least 6 characters"},
		{fmt.Errorf("wrap: %w", &supabase.Error{StatusCode: http.StatusInternalServerError, Message: "db down"}), http.StatusBadGateway, "db down"},
		{&supabase.Error{StatusCode: http.StatusServiceUnavailable, Message: "upstream unavailable"}, http.StatusBadGateway, "upstream unavailable"},
		{fmt.Errorf("request failed: %w: %w", supabase.ErrUnavailable, errors.New("connection refused")), http.StatusBadGateway, "data store is unavailable, try again later"},
		{errors.New("boom"), http.StatusInternalServerError, "internal server error: boom"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c.serviceErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/api/client/requests", nil), tc.err)

		assert.Equal(t, tc.status, rec.Code, "%v", tc.err)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Reason)
		if tc.reason != "" {
			assert.Equal(t, tc.reason, resp.Reason, "%v", tc.err)
		}
	}
}

func TestServiceErrorResponseRedirect(t *testing.T) {
	c := NewController(&stubService{})
	rec := httptest.NewRecorder()
	c.serviceErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/api/provider/offers", nil), models.ErrProfileProvisioning)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"reason":"authentication required","redirect":"/auth/login?redirect=%2Fapi%2Fprovider%2Foffers"}`, rec.Body.String())
}

func TestCloseRequestDeselects(t *testing.T) {
	identity := models.Identity{Id: gofakeit.UUID()}
	stub := &stubService{
		user:   models.User{Id: identity.Id, Name: gofakeit.Name(), Role: models.RoleClient},
		closed: []models.RequestView{{Request: models.Request{Id: "r1", Status: models.RequestClosed}, Actions: []models.Action{}}},
		notes:  []models.Notification{{Id: "n1", Kind: models.NotifySuccess, Message: service.MsgRequestClosed}},
	}
	c := NewController(stub)
	pattern := "/api/client/requests/{requestId}/close"

	rec := serve(c, http.MethodPut, pattern, "/api/client/requests/r1/close", c.CloseRequest, &identity)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, stub.closeOk)

	rec = serve(c, http.MethodPut, pattern, "/api/client/requests/r1/close?confirm=true&selected=r1", c.CloseRequest, &identity)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RequestsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Selected)
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, models.RequestClosed, resp.Requests[0].Status)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, service.MsgRequestClosed, resp.Notifications[0].Message)

	rec = serve(c, http.MethodPut, pattern, "/api/client/requests/r1/close?confirm=true&selected=r2", c.CloseRequest, &identity)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r2", resp.Selected)
}

func TestHandlersRequireIdentity(t *testing.T) {
	c := NewController(&stubService{})

	rec := serve(c, http.MethodGet, "/api/notifications", "/api/notifications", c.Notifications, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(c, http.MethodGet, "/dashboard", "/dashboard", c.Dashboard, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login?redirect=%2Fdashboard", rec.Header().Get("Location"))
}

func TestRequestOffersQuery(t *testing.T) {
	identity := models.Identity{Id: gofakeit.UUID()}
	stub := &stubService{user: models.User{Id: identity.Id, Role: models.RoleClient}}
	c := NewController(stub)
	pattern := "/api/client/requests/{requestId}/offers"

	rec := serve(c, http.MethodGet, pattern, "/api/client/requests/r1/offers?provider=acme&price=LOW&delivery=fast", c.RequestOffers, &identity)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OfferFilter{Provider: "acme", Price: models.PriceSortLow, Delivery: models.DeliverySortFast}, stub.filter)

	rec = serve(c, http.MethodGet, pattern, "/api/client/requests/r1/offers?price=cheapest", c.RequestOffers, &identity)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseNewOfferReq(t *testing.T) {
	in, err := ParseNewOfferReq([]byte(`{"price": 250.00, "delivery_time": 5, "message": "Can deliver in 5 days"}`))
	require.NoError(t, err)
	assert.Equal(t, service.OfferInput{Price: "250.00", DeliveryTime: "5", Message: "Can deliver in 5 days"}, in)

	in, err = ParseNewOfferReq([]byte(`{"price": "99.5", "delivery_time": "3", "message": "m"}`))
	require.NoError(t, err)
	assert.Equal(t, "99.5", in.Price)
	assert.Equal(t, "3", in.DeliveryTime)

	in, err = ParseNewOfferReq([]byte(`{"message": "m"}`))
	require.NoError(t, err)
	assert.Empty(t, in.Price)

	_, err = ParseNewOfferReq([]byte(`{"price": true, "delivery_time": 1, "message": "m"}`))
	assert.Error(t, err)

	_, err = ParseNewOfferReq([]byte(`{"price": 1, "delivery_time": 1, "message": "` + strings.Repeat("x", maxText+1) + `"}`))
	assert.Error(t, err)

	_, err = ParseNewOfferReq([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseOfferFilter(t *testing.T) {
	filter, err := ParseOfferFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, models.OfferFilter{}, filter)

	filter, err = ParseOfferFilter(url.Values{"price": {"high"}, "delivery": {"SLOW"}})
	require.NoError(t, err)
	assert.Equal(t, models.PriceSortHigh, filter.Price)
	assert.Equal(t, models.DeliverySortSlow, filter.Delivery)

	_, err = ParseOfferFilter(url.Values{"delivery": {"tomorrow"}})
	assert.Error(t, err)
}

func TestParseSignUpReq(t *testing.T) {
	in, err := ParseSignUpReq([]byte(`{"email": "a@example.com", "password": "secret", "name": "Ann", "role": "provider"}`))
	require.NoError(t, err)
	assert.Equal(t, service.SignUpInput{Email: "a@example.com", Password: "secret", Name: "Ann", Role: models.RoleProvider}, in)

	_, err = ParseSignUpReq([]byte(`{"name": "` + strings.Repeat("n", maxName+1) + `"}`))
	assert.Error(t, err)
}
