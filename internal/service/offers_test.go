package service

import (
	"strings"
	"testing"

	"marketplace/internal/models"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offerView(id, provider string, price float64, delivery int) models.OfferView {
	return models.OfferView{
		Offer:        models.Offer{Id: id, Price: price, DeliveryTime: delivery, Status: models.OfferPending},
		ProviderName: provider,
	}
}

func randomOffers(n int) []models.OfferView {
	offers := make([]models.OfferView, 0, n)
	for i := 0; i < n; i++ {
		offers = append(offers, offerView(
			gofakeit.UUID(),
			gofakeit.Company(),
			gofakeit.Price(1, 1000),
			gofakeit.IntRange(1, 60),
		))
	}
	return offers
}

func ids(offers []models.OfferView) []string {
	result := make([]string, 0, len(offers))
	for _, o := range offers {
		result = append(result, o.Id)
	}
	return result
}

func TestFilterOffers(t *testing.T) {
	offers := []models.OfferView{
		offerView("1", "Acme Design", 100, 3),
		offerView("2", "Pixel Studio", 200, 2),
		offerView("3", "acme logistics", 300, 1),
		offerView("4", models.UnknownName, 50, 9),
	}

	assert.Equal(t, []string{"1", "3"}, ids(FilterOffers(offers, "ACME")))
	assert.Equal(t, []string{"2"}, ids(FilterOffers(offers, "studio")))
	assert.Empty(t, FilterOffers(offers, "nobody"))
	assert.Equal(t, ids(offers), ids(FilterOffers(offers, "")))
	assert.Equal(t, []string{"1", "2", "3"}, ids(FilterOffers(offers, " ")))
	assert.Empty(t, FilterOffers(offers, "   "))
	assert.Equal(t, []string{"3"}, ids(FilterOffers(offers, "acme logistics")))
}

func TestFilterOffersMatchesWhitespaceLiterally(t *testing.T) {
	offers := []models.OfferView{
		offerView("1", "Jane Doe", 100, 3),
		offerView("2", "Acme", 200, 2),
	}

	assert.Equal(t, []string{"1"}, ids(FilterOffers(offers, " ")))
	assert.Empty(t, FilterOffers(offers, " acme"))
	assert.Equal(t, []string{"2"}, ids(FilterOffers(offers, "acme")))
}

func TestFilterOffersRemovesExactlyNonMatching(t *testing.T) {
	offers := randomOffers(50)
	query := "in"

	filtered := FilterOffers(offers, query)
	kept := make(map[string]bool, len(filtered))
	for _, o := range filtered {
		kept[o.Id] = true
	}

	for _, o := range offers {
		matches := strings.Contains(strings.ToLower(o.ProviderName), query)
		assert.Equal(t, matches, kept[o.Id], "provider %q", o.ProviderName)
	}
}

func TestSortOffersByPrice(t *testing.T) {
	offers := randomOffers(40)

	for _, delivery := range []models.DeliverySort{models.DeliverySortNone, models.DeliverySortFast, models.DeliverySortSlow} {
		asc := SortOffers(offers, models.PriceSortLow, delivery)
		require.Len(t, asc, len(offers))
		for i := 1; i < len(asc); i++ {
			assert.LessOrEqual(t, asc[i-1].Price, asc[i].Price)
		}

		desc := SortOffers(offers, models.PriceSortHigh, delivery)
		for i := 1; i < len(desc); i++ {
			assert.GreaterOrEqual(t, desc[i-1].Price, desc[i].Price)
		}
	}
}

func TestSortOffersByDelivery(t *testing.T) {
	offers := randomOffers(40)

	fast := SortOffers(offers, models.PriceSortNone, models.DeliverySortFast)
	for i := 1; i < len(fast); i++ {
		assert.LessOrEqual(t, fast[i-1].DeliveryTime, fast[i].DeliveryTime)
	}

	slow := SortOffers(offers, models.PriceSortNone, models.DeliverySortSlow)
	for i := 1; i < len(slow); i++ {
		assert.GreaterOrEqual(t, slow[i-1].DeliveryTime, slow[i].DeliveryTime)
	}
}

func TestSortOffersKeepsOrder(t *testing.T) {
	offers := []models.OfferView{
		offerView("a", "A", 10, 5),
		offerView("b", "B", 10, 1),
		offerView("c", "C", 5, 5),
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(SortOffers(offers, models.PriceSortNone, models.DeliverySortNone)))
	// stable: equal prices keep their relative order, delivery is ignored
	assert.Equal(t, []string{"c", "a", "b"}, ids(SortOffers(offers, models.PriceSortLow, models.DeliverySortFast)))
	// input is not modified
	assert.Equal(t, []string{"a", "b", "c"}, ids(offers))
}

func TestComputeStats(t *testing.T) {
	requests := []models.Request{
		{Id: "1", Status: models.RequestOpen},
		{Id: "2", Status: models.RequestClosed},
		{Id: "3", Status: models.RequestOpen},
	}
	offers := []models.Offer{
		{Price: 100, Status: models.OfferPending},
		{Price: 300, Status: models.OfferAccepted},
		{Price: 200, Status: models.OfferAccepted},
		{Price: 50, Status: models.OfferRejected},
	}

	client := ComputeClientStats(requests, offers)
	assert.Equal(t, models.ClientStats{TotalRequests: 3, OpenRequests: 2, TotalOffers: 4, AveragePrice: 162.5}, client)
	assert.Zero(t, ComputeClientStats(nil, nil).AveragePrice)

	provider := ComputeProviderStats(requests[:2], offers)
	assert.Equal(t, models.ProviderStats{OpenRequests: 2, MyOffers: 4, PendingOffers: 1, AcceptedOffers: 2, TotalRevenue: 500}, provider)
}

func TestParseOffer(t *testing.T) {
	price, delivery, message, err := ParseOffer(OfferInput{Price: "250.00", DeliveryTime: "5", Message: "  Can deliver in 5 days "})
	require.NoError(t, err)
	assert.Equal(t, 250.0, price)
	assert.Equal(t, 5, delivery)
	assert.Equal(t, "Can deliver in 5 days", message)

	for _, text := range []string{"0.01", "0.1", "19.99", "9999999999.99", "1e2"} {
		_, _, _, err := ParseOffer(OfferInput{Price: text, DeliveryTime: "1", Message: "m"})
		assert.NoError(t, err, text)
	}

	cases := []struct {
		in  OfferInput
		msg string
	}{
		{OfferInput{Price: "", DeliveryTime: "5", Message: "m"}, MsgFillAllFields},
		{OfferInput{Price: "10", DeliveryTime: "5", Message: "   "}, MsgFillAllFields},
		{OfferInput{Price: "abc", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "0", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "-3", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "NaN", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "0.001", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "19.999", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "1e12", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "10000000000", DeliveryTime: "5", Message: "m"}, MsgInvalidPrice},
		{OfferInput{Price: "10", DeliveryTime: "0", Message: "m"}, MsgInvalidDelivery},
		{OfferInput{Price: "10", DeliveryTime: "2147483648", Message: "m"}, MsgInvalidDelivery},
		{OfferInput{Price: "10", DeliveryTime: "soon", Message: "m"}, MsgInvalidDelivery},
		{OfferInput{Price: "10", DeliveryTime: "1.5", Message: "m"}, MsgInvalidDelivery},
	}
	for _, c := range cases {
		_, _, _, err := ParseOffer(c.in)
		require.ErrorIs(t, err, models.ErrValidation, "%+v", c.in)
		assert.Equal(t, c.msg, err.Error(), "%+v", c.in)
	}
}

func TestNewProfile(t *testing.T) {
	p := NewProfile(models.Identity{Id: "1", Email: "jane@example.com", Metadata: map[string]any{"name": "Jane", "role": "provider"}})
	assert.Equal(t, models.User{Id: "1", Name: "Jane", Role: models.RoleProvider}, p)

	p = NewProfile(models.Identity{Id: "2", Email: "bob@example.com"})
	assert.Equal(t, "bob", p.Name)
	assert.Equal(t, models.RoleClient, p.Role)

	p = NewProfile(models.Identity{Id: "3"})
	assert.Equal(t, "User", p.Name)
}

func TestSanitizeRedirect(t *testing.T) {
	assert.Equal(t, "/dashboard", SanitizeRedirect(""))
	assert.Equal(t, "/dashboard?tab=offers", SanitizeRedirect("/dashboard?tab=offers"))
	assert.Equal(t, DashboardPath, SanitizeRedirect("https://evil.example.com"))
	assert.Equal(t, DashboardPath, SanitizeRedirect("//evil.example.com"))
	assert.Equal(t, DashboardPath, SanitizeRedirect(`/\evil.example.com`))
	assert.Equal(t, DashboardPath, SanitizeRedirect("dashboard"))
}
