package models

import "time"

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

func ValidOfferStatus(s OfferStatus) bool {
	switch s {
	case OfferPending, OfferAccepted, OfferRejected:
		return true
	default:
		return false
	}
}

// ValidOfferDecision reports whether s is a status a provider may set on its own offer.
func ValidOfferDecision(s OfferStatus) bool {
	return s == OfferAccepted || s == OfferRejected
}

type Offer struct {
	Id           string      `json:"id"`
	RequestId    string      `json:"request_id"`
	ProviderId   string      `json:"provider_id"`
	Price        float64     `json:"price"`
	DeliveryTime int         `json:"delivery_time"`
	Message      string      `json:"message"`
	Status       OfferStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

const (
	UnknownName    = "Unknown"
	UnknownRequest = "Unknown Request"
)

// OfferView is an offer with its provider's display name attached.
type OfferView struct {
	Offer
	ProviderName string `json:"provider_name"`
}

// ProviderOfferView is a provider's own offer joined with the request it was made for.
type ProviderOfferView struct {
	Offer
	RequestTitle       string `json:"request_title"`
	RequestDescription string `json:"request_description,omitempty"`
}

type PriceSort string

const (
	PriceSortNone PriceSort = ""
	PriceSortLow  PriceSort = "low"
	PriceSortHigh PriceSort = "high"
)

type DeliverySort string

const (
	DeliverySortNone DeliverySort = ""
	DeliverySortFast DeliverySort = "fast"
	DeliverySortSlow DeliverySort = "slow"
)

func ValidPriceSort(s PriceSort) bool {
	switch s {
	case PriceSortNone, PriceSortLow, PriceSortHigh:
		return true
	default:
		return false
	}
}

func ValidDeliverySort(s DeliverySort) bool {
	switch s {
	case DeliverySortNone, DeliverySortFast, DeliverySortSlow:
		return true
	default:
		return false
	}
}

// OfferFilter selects and orders an already fetched offer list.
type OfferFilter struct {
	Provider string
	Price    PriceSort
	Delivery DeliverySort
}
