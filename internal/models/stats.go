package models

type ClientStats struct {
	TotalRequests int     `json:"total_requests"`
	OpenRequests  int     `json:"open_requests"`
	TotalOffers   int     `json:"total_offers"`
	AveragePrice  float64 `json:"average_price"`
}

type ProviderStats struct {
	OpenRequests   int     `json:"open_requests"`
	MyOffers       int     `json:"my_offers"`
	PendingOffers  int     `json:"pending_offers"`
	AcceptedOffers int     `json:"accepted_offers"`
	TotalRevenue   float64 `json:"total_revenue"`
}

type ClientDashboard struct {
	Profile  User          `json:"profile"`
	Requests []RequestView `json:"requests"`
	Stats    ClientStats   `json:"stats"`
}

type ProviderDashboard struct {
	Profile  User                `json:"profile"`
	Requests []RequestView       `json:"requests"`
	Offers   []ProviderOfferView `json:"offers"`
	Stats    ProviderStats       `json:"stats"`
}

// Dashboard is the role-dispatched landing view. Exactly one of Client and Provider is set.
type Dashboard struct {
	Role     Role               `json:"role"`
	Client   *ClientDashboard   `json:"client,omitempty"`
	Provider *ProviderDashboard `json:"provider,omitempty"`
}
