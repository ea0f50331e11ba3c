package models

import "time"

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleClient, RoleProvider:
		return true
	default:
		return false
	}
}

// User is the profile row keyed by the auth identity id.
type User struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Identity is the authenticated user as reported by the auth provider.
type Identity struct {
	Id       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

func (i Identity) MetadataString(key string) string {
	if i.Metadata == nil {
		return ""
	}
	s, _ := i.Metadata[key].(string)
	return s
}

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Identity     *Identity `json:"user,omitempty"`
}
