package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/models"
	"marketplace/internal/notify"
	"marketplace/internal/repository"
	"marketplace/internal/supabase"
	"marketplace/internal/supabase/supabasetest"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *supabasetest.Server) {
	t.Helper()
	srv := supabasetest.New(t)

	client, err := supabase.New(supabase.Config{URL: srv.URL, AnonKey: supabasetest.AnonKey, JWTSecret: supabasetest.JWTSecret})
	require.NoError(t, err)

	repo, err := repository.NewRepository(client, nil, &config.PostgresConfig{})
	require.NoError(t, err)

	return NewService(repo, notify.NewNotifier(time.Minute, 10)), srv
}

// login creates a user with a profile and returns it with a context carrying its token.
func login(t *testing.T, srv *supabasetest.Server, role models.Role) (models.User, context.Context) {
	t.Helper()
	name := gofakeit.Name()
	id, token := srv.CreateUser(gofakeit.Email(), name, string(role))
	return models.User{Id: id, Name: name, Role: role}, supabase.WithAccessToken(context.Background(), token)
}

func messages(notes []models.Notification) []string {
	result := make([]string, 0, len(notes))
	for _, n := range notes {
		result = append(result, n.Message)
	}
	return result
}

func TestMarketplaceScenario(t *testing.T) {
	s, srv := newTestService(t)
	client, clientCtx := login(t, srv, models.RoleClient)
	provider, providerCtx := login(t, srv, models.RoleProvider)

	requests, err := s.CreateRequest(clientCtx, client, "Logo Design", "Need a modern logo")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	request := requests[0]
	assert.Equal(t, "Logo Design", request.ServiceType)
	assert.Equal(t, models.RequestOpen, request.Status)
	assert.Equal(t, client.Id, request.UserId)
	assert.Equal(t, []models.Action{models.ActionClose, models.ActionAward}, request.Actions)
	assert.Contains(t, messages(s.Notifications(client)), MsgRequestCreated)

	open, err := s.OpenRequests(providerCtx, provider)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, client.Name, open[0].ClientName)
	assert.Equal(t, []models.Action{models.ActionSubmitOffer}, open[0].Actions)

	refresh, err := s.SubmitOffer(providerCtx, provider, request.Id, OfferInput{Price: "250.00", DeliveryTime: "5", Message: "Can deliver in 5 days"})
	require.NoError(t, err)
	require.Len(t, refresh.Offers, 1)
	assert.Equal(t, models.OfferPending, refresh.Offers[0].Status)
	assert.Equal(t, "Logo Design", refresh.Offers[0].RequestTitle)
	assert.Equal(t, 250.0, refresh.Offers[0].Price)
	assert.Contains(t, messages(s.Notifications(provider)), MsgOfferSubmitted)

	offers, err := s.RequestOffers(clientCtx, client, request.Id, models.OfferFilter{})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, provider.Name, offers[0].ProviderName)
	assert.Equal(t, models.OfferPending, offers[0].Status)

	_, err = s.AwardRequest(clientCtx, client, request.Id, offers[0].Id, false)
	require.ErrorIs(t, err, models.ErrConfirmationRequired)

	award, err := s.AwardRequest(clientCtx, client, request.Id, offers[0].Id, true)
	require.NoError(t, err)
	require.Len(t, award.Requests, 1)
	assert.Equal(t, models.RequestAwarded, award.Requests[0].Status)
	assert.Empty(t, award.Requests[0].Actions)
	require.Len(t, award.Offers, 1)
	assert.Equal(t, models.OfferAccepted, award.Offers[0].Status)
	assert.Contains(t, messages(s.Notifications(client)), MsgRequestAwarded)

	// the awarded request left the open list, so the join no longer finds it
	own, err := s.ProviderOffers(providerCtx, provider)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, models.OfferAccepted, own[0].Status)
	assert.Equal(t, models.UnknownRequest, own[0].RequestTitle)

	_, err = s.SubmitOffer(providerCtx, provider, request.Id, OfferInput{Price: "100", DeliveryTime: "2", Message: "late"})
	require.ErrorIs(t, err, models.ErrRequestNotOpen)

	_, err = s.CloseRequest(clientCtx, client, request.Id, true)
	require.ErrorIs(t, err, models.ErrRequestFinalized)

	_, err = s.AwardRequest(clientCtx, client, request.Id, offers[0].Id, true)
	require.ErrorIs(t, err, models.ErrRequestFinalized)

	stats, err := s.ProviderStats(providerCtx, provider)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderStats{OpenRequests: 0, MyOffers: 1, PendingOffers: 0, AcceptedOffers: 1, TotalRevenue: 250}, stats)
}

func TestCreateRequestValidation(t *testing.T) {
	s, srv := newTestService(t)
	client, ctx := login(t, srv, models.RoleClient)

	_, err := s.CreateRequest(ctx, client, "   ", "description")
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.CreateRequest(ctx, client, "Logo", "\t")
	require.ErrorIs(t, err, models.ErrValidation)

	assert.Zero(t, srv.Calls("POST", "/rest/v1/requests"))
	notes := s.Notifications(client)
	require.Len(t, notes, 2)
	assert.Equal(t, models.NotifyError, notes[0].Kind)
	assert.Equal(t, MsgFillAllFields, notes[0].Message)

	requests, err := s.CreateRequest(ctx, client, "  Logo  ", "  trimmed  ")
	require.NoError(t, err)
	assert.Equal(t, "Logo", requests[0].ServiceType)
	assert.Equal(t, "trimmed", requests[0].Description)
}

func TestCreateRequestStoreFailure(t *testing.T) {
	s, srv := newTestService(t)
	client, ctx := login(t, srv, models.RoleClient)

	srv.Fail("POST", "/rest/v1/requests", 500, "database is down")
	_, err := s.CreateRequest(ctx, client, "Logo", "Need a logo")
	require.Error(t, err)

	_, remote := supabase.AsError(err)
	assert.True(t, remote)

	notes := s.Notifications(client)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotifyError, notes[0].Kind)
	assert.Equal(t, "database is down", notes[0].Message)
}

func TestCloseRequest(t *testing.T) {
	s, srv := newTestService(t)
	client, ctx := login(t, srv, models.RoleClient)
	other, otherCtx := login(t, srv, models.RoleClient)

	requests, err := s.CreateRequest(ctx, client, "Plumbing", "Fix the sink")
	require.NoError(t, err)
	id := requests[0].Id

	_, err = s.CloseRequest(ctx, client, id, false)
	require.ErrorIs(t, err, models.ErrConfirmationRequired)

	_, err = s.CloseRequest(otherCtx, other, id, true)
	require.ErrorIs(t, err, models.ErrNoRequest)

	_, err = s.CloseRequest(ctx, client, "missing", true)
	require.ErrorIs(t, err, models.ErrNoRequest)

	requests, err = s.CloseRequest(ctx, client, id, true)
	require.NoError(t, err)
	assert.Equal(t, models.RequestClosed, requests[0].Status)
	assert.Empty(t, requests[0].Actions)
	assert.Contains(t, messages(s.Notifications(client)), MsgRequestClosed)

	_, err = s.CloseRequest(ctx, client, id, true)
	require.ErrorIs(t, err, models.ErrRequestFinalized)
}

func TestRequestOffersFilterAndSort(t *testing.T) {
	s, srv := newTestService(t)
	client, ctx := login(t, srv, models.RoleClient)

	request := srv.Insert("requests", supabasetest.Row{"user_id": client.Id, "service_type": "Web", "description": "Site"})
	acme, _ := srv.CreateUser(gofakeit.Email(), "Acme Studio", "provider")
	pixel, _ := srv.CreateUser(gofakeit.Email(), "Pixel Works", "provider")
	srv.Insert("offers", supabasetest.Row{"request_id": request["id"], "provider_id": acme, "price": 300.0, "delivery_time": 2.0, "message": "a"})
	srv.Insert("offers", supabasetest.Row{"request_id": request["id"], "provider_id": pixel, "price": 100.0, "delivery_time": 9.0, "message": "b"})
	srv.Insert("offers", supabasetest.Row{"request_id": request["id"], "provider_id": "gone", "price": 200.0, "delivery_time": 5.0, "message": "c"})

	offers, err := s.RequestOffers(ctx, client, request["id"].(string), models.OfferFilter{})
	require.NoError(t, err)
	require.Len(t, offers, 3)
	// newest first
	assert.Equal(t, models.UnknownName, offers[0].ProviderName)
	assert.Equal(t, "Acme Studio", offers[2].ProviderName)

	offers, err = s.RequestOffers(ctx, client, request["id"].(string), models.OfferFilter{Price: models.PriceSortLow, Delivery: models.DeliverySortFast})
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200, 300}, []float64{offers[0].Price, offers[1].Price, offers[2].Price})

	offers, err = s.RequestOffers(ctx, client, request["id"].(string), models.OfferFilter{Delivery: models.DeliverySortFast})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 9}, []int{offers[0].DeliveryTime, offers[1].DeliveryTime, offers[2].DeliveryTime})

	offers, err = s.RequestOffers(ctx, client, request["id"].(string), models.OfferFilter{Provider: "pixel"})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "Pixel Works", offers[0].ProviderName)

	_, err = s.RequestOffers(ctx, client, request["id"].(string), models.OfferFilter{Price: "cheap"})
	require.ErrorIs(t, err, models.ErrValidation)

	stats, err := s.ClientStats(ctx, client, request["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.ClientStats{TotalRequests: 1, OpenRequests: 1, TotalOffers: 3, AveragePrice: 200}, stats)
}

func TestSubmitOfferValidation(t *testing.T) {
	s, srv := newTestService(t)
	provider, ctx := login(t, srv, models.RoleProvider)
	clientId, _ := srv.CreateUser(gofakeit.Email(), gofakeit.Name(), "client")
	request := srv.Insert("requests", supabasetest.Row{"user_id": clientId, "service_type": "s", "description": "d"})
	id := request["id"].(string)

	_, err := s.SubmitOffer(ctx, provider, id, OfferInput{Price: "-1", DeliveryTime: "5", Message: "m"})
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = s.SubmitOffer(ctx, provider, id, OfferInput{Price: "10", DeliveryTime: "0", Message: "m"})
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = s.SubmitOffer(ctx, provider, "", OfferInput{Price: "10", DeliveryTime: "1", Message: "m"})
	require.ErrorIs(t, err, models.ErrValidation)

	assert.Zero(t, srv.Calls("POST", "/rest/v1/offers"))
	assert.Equal(t, []string{MsgInvalidPrice, MsgInvalidDelivery, MsgFillAllFields}, messages(s.Notifications(provider)))

	_, err = s.SubmitOffer(ctx, provider, "missing", OfferInput{Price: "10", DeliveryTime: "1", Message: "m"})
	require.ErrorIs(t, err, models.ErrNoRequest)
}

func TestSetOfferStatus(t *testing.T) {
	s, srv := newTestService(t)
	provider, ctx := login(t, srv, models.RoleProvider)
	other, otherCtx := login(t, srv, models.RoleProvider)
	clientId, _ := srv.CreateUser(gofakeit.Email(), gofakeit.Name(), "client")

	request := srv.Insert("requests", supabasetest.Row{"user_id": clientId, "service_type": "Copywriting", "description": "d"})
	offer := srv.Insert("offers", supabasetest.Row{"request_id": request["id"], "provider_id": provider.Id, "price": 80.0, "delivery_time": 3.0, "message": "m"})

	_, err := s.SetOfferStatus(ctx, provider, offer["id"].(string), models.OfferPending)
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.SetOfferStatus(otherCtx, other, offer["id"].(string), models.OfferAccepted)
	require.ErrorIs(t, err, models.ErrNoOffer)

	offers, err := s.SetOfferStatus(ctx, provider, offer["id"].(string), models.OfferRejected)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, models.OfferRejected, offers[0].Status)
	assert.Equal(t, "Copywriting", offers[0].RequestTitle)
	assert.Contains(t, messages(s.Notifications(provider)), "Offer marked as rejected")
}

func TestContactProvider(t *testing.T) {
	s, srv := newTestService(t)
	client, ctx := login(t, srv, models.RoleClient)
	providerId, _ := srv.CreateUser(gofakeit.Email(), "Dana", "provider")

	note, err := s.ContactProvider(ctx, client, providerId)
	require.NoError(t, err)
	assert.Equal(t, models.NotifyInfo, note.Kind)
	assert.Equal(t, "Contact information for Dana would be shown here.", note.Message)

	note, err = s.ContactProvider(ctx, client, "unknown")
	require.NoError(t, err)
	assert.Equal(t, "Contact information for provider would be shown here.", note.Message)
}

func TestRoleEnforcement(t *testing.T) {
	s, srv := newTestService(t)
	provider, providerCtx := login(t, srv, models.RoleProvider)
	client, clientCtx := login(t, srv, models.RoleClient)

	_, err := s.CreateRequest(providerCtx, provider, "x", "y")
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = s.ClientRequests(providerCtx, provider)
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = s.SubmitOffer(clientCtx, client, "r", OfferInput{Price: "1", DeliveryTime: "1", Message: "m"})
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = s.OpenRequests(clientCtx, client)
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestDashboard(t *testing.T) {
	s, srv := newTestService(t)

	id := srv.CreateIdentity("new.provider@example.com", "secret", map[string]any{"role": "provider"})
	ctx := supabase.WithAccessToken(context.Background(), srv.Token(id, time.Hour))
	identity := models.Identity{Id: id, Email: "new.provider@example.com", Metadata: map[string]any{"role": "provider"}}

	dash, err := s.Dashboard(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, models.RoleProvider, dash.Role)
	require.NotNil(t, dash.Provider)
	assert.Nil(t, dash.Client)
	assert.Equal(t, "new.provider", dash.Provider.Profile.Name)
	assert.Len(t, srv.Rows("users"), 1)

	// a second visit reuses the profile
	_, err = s.Dashboard(ctx, identity)
	require.NoError(t, err)
	assert.Len(t, srv.Rows("users"), 1)

	client, clientCtx := login(t, srv, models.RoleClient)
	_, err = s.CreateRequest(clientCtx, client, "Logo", "Need one")
	require.NoError(t, err)
	dash, err = s.Dashboard(clientCtx, models.Identity{Id: client.Id})
	require.NoError(t, err)
	require.NotNil(t, dash.Client)
	assert.Len(t, dash.Client.Requests, 1)
	assert.Equal(t, 1, dash.Client.Stats.OpenRequests)
}

func TestDashboardInvalidRole(t *testing.T) {
	s, srv := newTestService(t)

	id := srv.CreateIdentity("admin@example.com", "secret", nil)
	srv.Insert("users", supabasetest.Row{"id": id, "name": "Admin", "role": "admin"})
	ctx := supabase.WithAccessToken(context.Background(), srv.Token(id, time.Hour))

	_, err := s.Dashboard(ctx, models.Identity{Id: id})
	require.ErrorIs(t, err, models.ErrInvalidRole)

	_, err = s.Profile(ctx, models.Identity{Id: id})
	require.ErrorIs(t, err, models.ErrInvalidRole)
}

func TestDashboardProvisioningFailure(t *testing.T) {
	s, srv := newTestService(t)

	id := srv.CreateIdentity("x@example.com", "secret", nil)
	ctx := supabase.WithAccessToken(context.Background(), srv.Token(id, time.Hour))

	srv.Fail("POST", "/rest/v1/users", 500, "insert failed")
	_, err := s.Dashboard(ctx, models.Identity{Id: id, Email: "x@example.com"})
	require.ErrorIs(t, err, models.ErrProfileProvisioning)
}

func TestSignUp(t *testing.T) {
	s, srv := newTestService(t)
	ctx := context.Background()

	_, err := s.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "secret", Name: " ", Role: models.RoleClient})
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = s.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "secret", Name: "A", Role: "admin"})
	require.ErrorIs(t, err, models.ErrValidation)

	res, err := s.SignUp(ctx, SignUpInput{Email: "client@example.com", Password: "secret", Name: "Cleo", Role: models.RoleClient})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, DashboardPath, res.Redirect)
	require.NotNil(t, res.User)
	assert.Equal(t, "Cleo", res.User.Name)
	assert.Equal(t, models.RoleClient, res.User.Role)
	assert.NotNil(t, srv.Row("users", res.User.Id))

	srv.RequireConfirmation(true)
	res, err = s.SignUp(ctx, SignUpInput{Email: "prov@example.com", Password: "secret", Name: "Pat", Role: models.RoleProvider})
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Equal(t, LoginPath, res.Redirect)
	assert.Equal(t, MsgConfirmEmail, res.Message)

	_, err = s.SignIn(ctx, "prov@example.com", "secret", "")
	require.ErrorIs(t, err, models.ErrEmailNotConfirmed)

	srv.Confirm("prov@example.com")
	res, err = s.SignIn(ctx, "prov@example.com", "secret", "//evil.example.com")
	require.NoError(t, err)
	assert.Equal(t, DashboardPath, res.Redirect)
	require.NotNil(t, res.User)
	assert.Equal(t, models.RoleProvider, res.User.Role)
	assert.Equal(t, "Pat", res.User.Name)

	res, err = s.SignIn(ctx, "prov@example.com", "secret", "/api/provider/offers")
	require.NoError(t, err)
	assert.Equal(t, "/api/provider/offers", res.Redirect)

	_, err = s.SignIn(ctx, "prov@example.com", "wrong", "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrEmailNotConfirmed))

	s.SignOut(ctx, res.Session.AccessToken)
	assert.Equal(t, 1, srv.Calls("POST", "/auth/v1/logout"))
}

func TestNotifications(t *testing.T) {
	s, srv := newTestService(t)
	client, ctx := login(t, srv, models.RoleClient)

	_, err := s.CreateRequest(ctx, client, "Logo", "Need one")
	require.NoError(t, err)

	notes := s.Notifications(client)
	require.Len(t, notes, 1)
	require.NoError(t, s.DismissNotification(client, notes[0].Id))
	assert.Empty(t, s.Notifications(client))
	require.ErrorIs(t, s.DismissNotification(client, notes[0].Id), models.ErrNoNotification)
}
