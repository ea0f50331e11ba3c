package controller

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"marketplace/internal/models"
	"marketplace/internal/service"
)

const (
	maxEmail       = 320
	maxName        = 100
	maxServiceType = 100
	maxText        = 2000
)

// Sign up request

type SignUpReq struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
}

func ParseSignUpReq(data []byte) (service.SignUpInput, error) {
	req := SignUpReq{}
	if err := json.Unmarshal(data, &req); err != nil {
		return service.SignUpInput{}, err
	}

	if err := checkLengthLimit(req.Email, "email", maxEmail); err != nil {
		return service.SignUpInput{}, err
	}
	if err := checkLengthLimit(req.Name, "name", maxName); err != nil {
		return service.SignUpInput{}, err
	}

	return service.SignUpInput{Email: req.Email, Password: req.Password, Name: req.Name, Role: req.Role}, nil
}

// Login request

type LoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func ParseLoginReq(data []byte) (*LoginReq, error) {
	req := &LoginReq{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, err
	}
	if err := checkLengthLimit(req.Email, "email", maxEmail); err != nil {
		return nil, err
	}
	return req, nil
}

// New request

type NewRequestReq struct {
	ServiceType string `json:"service_type"`
	Description string `json:"description"`
}

func ParseNewRequestReq(data []byte) (*NewRequestReq, error) {
	req := &NewRequestReq{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, err
	}
	if err := checkLengthLimit(req.ServiceType, "service_type", maxServiceType); err != nil {
		return nil, err
	}
	if err := checkLengthLimit(req.Description, "description", maxText); err != nil {
		return nil, err
	}
	return req, nil
}

// New offer request. Numbers are accepted either as JSON numbers or as text, the form sends text.

type NewOfferReq struct {
	Price        json.RawMessage `json:"price"`
	DeliveryTime json.RawMessage `json:"delivery_time"`
	Message      string          `json:"message"`
}

func ParseNewOfferReq(data []byte) (service.OfferInput, error) {
	req := NewOfferReq{}
	if err := json.Unmarshal(data, &req); err != nil {
		return service.OfferInput{}, err
	}
	if err := checkLengthLimit(req.Message, "message", maxText); err != nil {
		return service.OfferInput{}, err
	}

	price, err := rawText(req.Price, "price")
	if err != nil {
		return service.OfferInput{}, err
	}
	delivery, err := rawText(req.DeliveryTime, "delivery_time")
	if err != nil {
		return service.OfferInput{}, err
	}

	return service.OfferInput{Price: price, DeliveryTime: delivery, Message: req.Message}, nil
}

// rawText turns a JSON string or number into its text.
func rawText(raw json.RawMessage, field string) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid type of '%s' field", field)
	}
	return n.String(), nil
}

// Offer filter

func ParseOfferFilter(query url.Values) (models.OfferFilter, error) {
	filter := models.OfferFilter{
		Provider: query.Get("provider"),
		Price:    models.PriceSort(strings.ToLower(query.Get("price"))),
		Delivery: models.DeliverySort(strings.ToLower(query.Get("delivery"))),
	}

	if !models.ValidPriceSort(filter.Price) {
		return filter, fmt.Errorf("invalid price order supplied: %s, should be one of: %s, %s", query.Get("price"), models.PriceSortLow, models.PriceSortHigh)
	}
	if !models.ValidDeliverySort(filter.Delivery) {
		return filter, fmt.Errorf("invalid delivery order supplied: %s, should be one of: %s, %s", query.Get("delivery"), models.DeliverySortFast, models.DeliverySortSlow)
	}
	if err := checkLengthLimit(filter.Provider, "provider", maxName); err != nil {
		return filter, err
	}
	return filter, nil
}

// Service

func checkLengthLimit(str, fieldName string, limit int) error {
	if len(str) > limit {
		return fmt.Errorf("field '%s' exceeds length limit: %d / %d", fieldName, len(str), limit)
	}
	return nil
}
