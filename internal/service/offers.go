package service

import (
	"sort"
	"strings"

	"marketplace/internal/models"
)

// FilterOffers keeps offers whose provider name contains query, ignoring case.
// Only an empty query keeps everything; whitespace is matched literally.
func FilterOffers(offers []models.OfferView, query string) []models.OfferView {
	if query == "" {
		return offers
	}
	query = strings.ToLower(query)

	result := make([]models.OfferView, 0, len(offers))
	for _, o := range offers {
		if strings.Contains(strings.ToLower(o.ProviderName), query) {
			result = append(result, o)
		}
	}
	return result
}

// SortOffers orders a copy of offers. A price order, when given, wins and the delivery order
// is ignored; with neither the input order is kept. The sort is stable.
func SortOffers(offers []models.OfferView, price models.PriceSort, delivery models.DeliverySort) []models.OfferView {
	result := make([]models.OfferView, len(offers))
	copy(result, offers)

	switch {
	case price == models.PriceSortLow:
		sort.SliceStable(result, func(i, j int) bool { return result[i].Price < result[j].Price })
	case price == models.PriceSortHigh:
		sort.SliceStable(result, func(i, j int) bool { return result[i].Price > result[j].Price })
	case delivery == models.DeliverySortFast:
		sort.SliceStable(result, func(i, j int) bool { return result[i].DeliveryTime < result[j].DeliveryTime })
	case delivery == models.DeliverySortSlow:
		sort.SliceStable(result, func(i, j int) bool { return result[i].DeliveryTime > result[j].DeliveryTime })
	}
	return result
}

//// Stats

func ComputeClientStats(requests []models.Request, offers []models.Offer) models.ClientStats {
	stats := models.ClientStats{TotalRequests: len(requests), TotalOffers: len(offers)}
	for _, r := range requests {
		if r.IsOpen() {
			stats.OpenRequests++
		}
	}

	if len(offers) > 0 {
		var sum float64
		for _, o := range offers {
			sum += o.Price
		}
		stats.AveragePrice = sum / float64(len(offers))
	}
	return stats
}

func ComputeProviderStats(open []models.Request, offers []models.Offer) models.ProviderStats {
	stats := models.ProviderStats{OpenRequests: len(open), MyOffers: len(offers)}
	for _, o := range offers {
		switch o.Status {
		case models.OfferPending:
			stats.PendingOffers++
		case models.OfferAccepted:
			stats.AcceptedOffers++
			stats.TotalRevenue += o.Price
		}
	}
	return stats
}
