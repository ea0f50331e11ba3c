package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/service"
	"marketplace/internal/supabase"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

type Service interface {
	SignUp(ctx context.Context, in service.SignUpInput) (service.AuthResult, error)
	SignIn(ctx context.Context, email, password, redirect string) (service.AuthResult, error)
	SignOut(ctx context.Context, accessToken string)

	Dashboard(ctx context.Context, identity models.Identity) (models.Dashboard, error)
	Profile(ctx context.Context, identity models.Identity) (models.User, error)

	ClientRequests(ctx context.Context, user models.User) ([]models.RequestView, error)
	CreateRequest(ctx context.Context, user models.User, serviceType, description string) ([]models.RequestView, error)
	CloseRequest(ctx context.Context, user models.User, requestId string, confirmed bool) ([]models.RequestView, error)
	RequestOffers(ctx context.Context, user models.User, requestId string, filter models.OfferFilter) ([]models.OfferView, error)
	AwardRequest(ctx context.Context, user models.User, requestId, offerId string, confirmed bool) (service.AwardResult, error)
	ContactProvider(ctx context.Context, user models.User, providerId string) (models.Notification, error)
	ClientStats(ctx context.Context, user models.User, requestId string) (models.ClientStats, error)

	OpenRequests(ctx context.Context, user models.User) ([]models.RequestView, error)
	SubmitOffer(ctx context.Context, user models.User, requestId string, in service.OfferInput) (service.ProviderRefresh, error)
	ProviderOffers(ctx context.Context, user models.User) ([]models.ProviderOfferView, error)
	SetOfferStatus(ctx context.Context, user models.User, offerId string, status models.OfferStatus) ([]models.ProviderOfferView, error)
	ProviderStats(ctx context.Context, user models.User) (models.ProviderStats, error)

	Notifications(user models.User) []models.Notification
	DismissNotification(user models.User, notificationId string) error
}

type Controller struct {
	service       Service
	secureCookies bool
}

type option func(*Controller)

func WithSecureCookies(secure bool) option {
	return func(c *Controller) {
		c.secureCookies = secure
	}
}

func NewController(service Service, opts ...option) *Controller {
	c := &Controller{service: service}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

//// Responses

type ErrorResponse struct {
	Reason   string `json:"reason"`
	Redirect string `json:"redirect,omitempty"`
}

type AuthResponse struct {
	Redirect string       `json:"redirect"`
	Message  string       `json:"message,omitempty"`
	User     *models.User `json:"user,omitempty"`
}

type RequestsResponse struct {
	Requests      []models.RequestView  `json:"requests"`
	Selected      string                `json:"selected,omitempty"`
	Notifications []models.Notification `json:"notifications"`
}

type OffersResponse struct {
	Requests      []models.RequestView  `json:"requests,omitempty"`
	Offers        []models.OfferView    `json:"offers"`
	Notifications []models.Notification `json:"notifications"`
}

type ProviderResponse struct {
	Requests      []models.RequestView       `json:"requests,omitempty"`
	Offers        []models.ProviderOfferView `json:"offers"`
	Notifications []models.Notification      `json:"notifications"`
}

type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
}

//// Navigation

// GET /api/ping
func (c *Controller) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// GET /
func (c *Controller) Landing(w http.ResponseWriter, r *http.Request) {
	c.marshalResponse(w, map[string]any{
		"name": "Service Marketplace",
		"links": map[string]string{
			"dashboard": service.DashboardPath,
			"login":     middleware.LoginPath,
			"signup":    "/api/auth/signup",
		},
	})
}

// GET /auth/login
func (c *Controller) LoginPage(w http.ResponseWriter, r *http.Request) {
	redirect := service.SanitizeRedirect(r.URL.Query().Get("redirect"))
	c.marshalResponse(w, map[string]string{
		"login":    "/api/auth/login?redirect=" + url.QueryEscape(redirect),
		"signup":   "/api/auth/signup",
		"redirect": redirect,
	})
}

// GET /dashboard
func (c *Controller) Dashboard(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		middleware.Unauthenticated(w, r, false)
		return
	}

	dashboard, err := c.service.Dashboard(r.Context(), identity)
	switch {
	case errors.Is(err, models.ErrProfileProvisioning), errors.Is(err, models.ErrNoSession):
		log.WithError(err).WithField("user", identity.Id).Warn("Dashboard unavailable, sending to login")
		middleware.ClearSessionCookies(w, c.secureCookies)
		middleware.Unauthenticated(w, r, false)
		return
	case err != nil:
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, dashboard)
}

//// Auth

// POST /api/auth/signup
func (c *Controller) SignUp(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	in, err := ParseSignUpReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := c.service.SignUp(r.Context(), in)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	if result.Session != nil {
		middleware.SetSessionCookies(w, result.Session, c.secureCookies)
	}
	c.marshalResponse(w, AuthResponse{Redirect: result.Redirect, Message: result.Message, User: result.User})
}

// POST /api/auth/login?redirect=
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	req, err := ParseLoginReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := c.service.SignIn(r.Context(), req.Email, req.Password, r.URL.Query().Get("redirect"))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	middleware.SetSessionCookies(w, result.Session, c.secureCookies)
	c.marshalResponse(w, AuthResponse{Redirect: result.Redirect, User: result.User})
}

// POST /api/auth/logout
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.Tokens(r)
	c.service.SignOut(r.Context(), access)

	middleware.ClearSessionCookies(w, c.secureCookies)
	c.marshalResponse(w, AuthResponse{Redirect: middleware.LoginPath})
}

//// Client

// GET /api/client/requests
func (c *Controller) ClientRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	requests, err := c.service.ClientRequests(r.Context(), user)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, RequestsResponse{Requests: requests, Notifications: c.service.Notifications(user)})
}

// POST /api/client/requests
func (c *Controller) NewRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	req, err := ParseNewRequestReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	requests, err := c.service.CreateRequest(r.Context(), user, req.ServiceType, req.Description)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.respond(w, http.StatusCreated, RequestsResponse{Requests: requests, Notifications: c.service.Notifications(user)})
}

// PUT /api/client/requests/{requestId}/close?confirm=true&selected=
func (c *Controller) CloseRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	requestId := chi.URLParam(r, "requestId")
	if len(requestId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty requestId supplied")
		return
	}

	requests, err := c.service.CloseRequest(r.Context(), user, requestId, confirmed(r))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	// the closed request no longer takes actions, so it is deselected
	selected := r.URL.Query().Get("selected")
	if selected == requestId {
		selected = ""
	}

	c.marshalResponse(w, RequestsResponse{Requests: requests, Selected: selected, Notifications: c.service.Notifications(user)})
}

// GET /api/client/requests/{requestId}/offers?provider=&price=&delivery=
func (c *Controller) RequestOffers(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	requestId := chi.URLParam(r, "requestId")
	if len(requestId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty requestId supplied")
		return
	}

	filter, err := ParseOfferFilter(r.URL.Query())
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	offers, err := c.service.RequestOffers(r.Context(), user, requestId, filter)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, OffersResponse{Offers: offers, Notifications: c.service.Notifications(user)})
}

// PUT /api/client/requests/{requestId}/award/{offerId}?confirm=true
func (c *Controller) AwardRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	requestId := chi.URLParam(r, "requestId")
	offerId := chi.URLParam(r, "offerId")
	if len(requestId) == 0 || len(offerId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty requestId or offerId supplied")
		return
	}

	result, err := c.service.AwardRequest(r.Context(), user, requestId, offerId, confirmed(r))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, OffersResponse{Requests: result.Requests, Offers: result.Offers, Notifications: c.service.Notifications(user)})
}

// POST /api/client/providers/{providerId}/contact
func (c *Controller) ContactProvider(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	providerId := chi.URLParam(r, "providerId")
	if len(providerId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty providerId supplied")
		return
	}

	_, err := c.service.ContactProvider(r.Context(), user, providerId)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, NotificationsResponse{Notifications: c.service.Notifications(user)})
}

// GET /api/client/stats?request=
func (c *Controller) ClientStats(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	stats, err := c.service.ClientStats(r.Context(), user, r.URL.Query().Get("request"))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, stats)
}

//// Provider

// GET /api/provider/requests
func (c *Controller) OpenRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	requests, err := c.service.OpenRequests(r.Context(), user)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, RequestsResponse{Requests: requests, Notifications: c.service.Notifications(user)})
}

// POST /api/provider/requests/{requestId}/offers
func (c *Controller) NewOffer(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	in, err := ParseNewOfferReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := c.service.SubmitOffer(r.Context(), user, chi.URLParam(r, "requestId"), in)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.respond(w, http.StatusCreated, ProviderResponse{Requests: result.Requests, Offers: result.Offers, Notifications: c.service.Notifications(user)})
}

// GET /api/provider/offers
func (c *Controller) ProviderOffers(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	offers, err := c.service.ProviderOffers(r.Context(), user)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, ProviderResponse{Offers: offers, Notifications: c.service.Notifications(user)})
}

// PUT /api/provider/offers/{offerId}/status?status=
func (c *Controller) SetOfferStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	offerId := chi.URLParam(r, "offerId")
	if len(offerId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty offerId supplied")
		return
	}

	status := models.OfferStatus(r.URL.Query().Get("status"))
	if !models.ValidOfferDecision(status) {
		c.errorResponse(w, http.StatusBadRequest, "empty or invalid status supplied")
		return
	}

	offers, err := c.service.SetOfferStatus(r.Context(), user, offerId, status)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, ProviderResponse{Offers: offers, Notifications: c.service.Notifications(user)})
}

// GET /api/provider/stats
func (c *Controller) ProviderStats(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	stats, err := c.service.ProviderStats(r.Context(), user)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, stats)
}

//// Notifications

// GET /api/notifications
func (c *Controller) Notifications(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	c.marshalResponse(w, NotificationsResponse{Notifications: c.service.Notifications(user)})
}

// DELETE /api/notifications/{notificationId}
func (c *Controller) DismissNotification(w http.ResponseWriter, r *http.Request) {
	user, ok := c.user(w, r)
	if !ok {
		return
	}

	err := c.service.DismissNotification(user, chi.URLParam(r, "notificationId"))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	c.marshalResponse(w, NotificationsResponse{Notifications: c.service.Notifications(user)})
}

// Service

// user resolves the profile of the identity placed in the context by the session gate.
func (c *Controller) user(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		middleware.Unauthenticated(w, r, true)
		return models.User{}, false
	}

	user, err := c.service.Profile(r.Context(), identity)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return models.User{}, false
	}
	return user, true
}

func confirmed(r *http.Request) bool {
	ok, err := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return err == nil && ok
}

func (c *Controller) errorResponse(w http.ResponseWriter, status int, text string) {
	c.writeError(w, status, ErrorResponse{Reason: text})
}

func (c *Controller) writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("controller.Controller.errorResponse")
		return
	}

	_, err = w.Write(data)
	if err != nil {
		log.WithError(err).Error("controller.Controller.errorResponse")
		return
	}
}

func (c *Controller) serviceErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var validation *models.ValidationError

	switch {
	case errors.As(err, &validation):
		c.errorResponse(w, http.StatusBadRequest, validation.Message)
	case errors.Is(err, models.ErrEmailNotConfirmed):
		c.errorResponse(w, http.StatusUnauthorized, service.MsgEmailNotConfirm)
	case errors.Is(err, models.ErrNoSessionCreated):
		c.errorResponse(w, http.StatusUnauthorized, service.MsgNoSessionCreated)
	case errors.Is(err, models.ErrNoSession), errors.Is(err, models.ErrProfileProvisioning):
		log.WithError(err).Warn("Request without a usable session")
		c.writeError(w, http.StatusUnauthorized, ErrorResponse{Reason: "authentication required", Redirect: middleware.LoginRedirect(r)})
	case errors.Is(err, models.ErrInvalidRole):
		c.errorResponse(w, http.StatusForbidden, "invalid user role")
	case errors.Is(err, models.ErrForbidden):
		c.errorResponse(w, http.StatusForbidden, "user have no permission for requested action")
	case errors.Is(err, models.ErrNoRequest):
		c.errorResponse(w, http.StatusNotFound, "requested service request does not exist or unaccessible")
	case errors.Is(err, models.ErrNoOffer):
		c.errorResponse(w, http.StatusNotFound, "requested offer does not exist or unaccessible")
	case errors.Is(err, models.ErrNoNotification):
		c.errorResponse(w, http.StatusNotFound, "requested notification does not exist or has expired")
	case errors.Is(err, models.ErrRequestFinalized):
		c.errorResponse(w, http.StatusConflict, "requested service request is already closed or awarded, status cannot be changed")
	case errors.Is(err, models.ErrRequestNotOpen):
		c.errorResponse(w, http.StatusConflict, service.MsgRequestNotOpen)
	case errors.Is(err, models.ErrConfirmationRequired):
		c.errorResponse(w, http.StatusConflict, "action must be confirmed with confirm=true")
	default:
		if remote, ok := supabase.AsError(err); ok {
			// client errors are the caller's to fix; anything else is the store failing
			if remote.StatusCode >= 400 && remote.StatusCode < 500 {
				log.WithError(err).Warn("Store rejected the request")
				c.errorResponse(w, remote.StatusCode, remote.Message)
				return
			}
			log.WithError(err).Error("Store failed")
			c.errorResponse(w, http.StatusBadGateway, remote.Message)
			return
		}
		if errors.Is(err, supabase.ErrUnavailable) {
			log.WithError(err).Error("Store unreachable")
			c.errorResponse(w, http.StatusBadGateway, "data store is unavailable, try again later")
			return
		}
		log.WithError(err).Error("controller: unexpected error")
		c.errorResponse(w, http.StatusInternalServerError, "internal server error: "+err.Error())
	}
}

func (c *Controller) marshalResponse(w http.ResponseWriter, data any) {
	c.respond(w, http.StatusOK, data)
}

func (c *Controller) respond(w http.ResponseWriter, status int, data any) {
	d, err := json.Marshal(data)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not marshal response data")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(d)
	if err != nil {
		log.WithError(err).Error("controller.Controller.marshalResponse")
		return
	}
}

func (c *Controller) readBody(src io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	src.Close()
	return data, nil
}
