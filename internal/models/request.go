package models

import "time"

type RequestStatus string

const (
	RequestOpen    RequestStatus = "open"
	RequestClosed  RequestStatus = "closed"
	RequestAwarded RequestStatus = "awarded"
)

func ValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestOpen, RequestClosed, RequestAwarded:
		return true
	default:
		return false
	}
}

type Request struct {
	Id          string        `json:"id"`
	UserId      string        `json:"user_id"`
	ServiceType string        `json:"service_type"`
	Description string        `json:"description"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (r Request) IsOpen() bool {
	return r.Status == RequestOpen
}

type Action string

const (
	ActionClose       Action = "close"
	ActionAward       Action = "award"
	ActionSubmitOffer Action = "submit_offer"
)

// RequestView is a request as presented to a dashboard: the owner's display name
// and the actions the viewer may still take on it.
type RequestView struct {
	Request
	ClientName string   `json:"client_name,omitempty"`
	Actions    []Action `json:"actions"`
}
