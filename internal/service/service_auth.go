package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"marketplace/internal/models"
	"marketplace/internal/supabase"

	log "github.com/sirupsen/logrus"
)

const (
	DashboardPath = "/dashboard"
	LoginPath     = "/auth/login"
)

type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Role     models.Role
}

// AuthResult tells the caller where to go next. Session is nil when no cookies should be set.
type AuthResult struct {
	Session  *models.Session
	User     *models.User
	Redirect string
	Message  string
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Email == "" || in.Password == "" || in.Name == "" {
		return AuthResult{}, models.NewValidationError(MsgFillAllFields)
	}
	if !models.ValidRole(in.Role) {
		return AuthResult{}, models.NewValidationError(MsgInvalidRole)
	}

	session, identity, err := s.repo.SignUp(ctx, in.Email, in.Password, map[string]any{
		"name": in.Name,
		"role": string(in.Role),
	})
	s.metrics.ObserveAction("sign_up", err)
	if err != nil {
		return AuthResult{}, fmt.Errorf("service.Service.SignUp: %w", err)
	}

	if session == nil {
		return AuthResult{Redirect: LoginPath, Message: MsgConfirmEmail}, nil
	}

	result := AuthResult{Session: session, Redirect: DashboardPath}
	if identity != nil {
		// the profile is ensured again on every dashboard visit, a failure here is not fatal
		user, err := s.EnsureProfile(supabase.WithAccessToken(ctx, session.AccessToken), *identity)
		if err != nil {
			log.WithError(err).WithField("user", identity.Id).Warn("Profile creation after sign-up failed")
		} else {
			result.User = &user
		}
	}
	return result, nil
}

func (s *Service) SignIn(ctx context.Context, email, password, redirect string) (AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return AuthResult{}, models.NewValidationError(MsgFillAllFields)
	}

	session, err := s.repo.SignIn(ctx, email, password)
	s.metrics.ObserveAction("sign_in", err)
	if err != nil {
		return AuthResult{}, fmt.Errorf("service.Service.SignIn: %w", err)
	}

	identity := session.Identity
	if identity == nil {
		identity, err = s.repo.Identity(ctx, session.AccessToken)
		if err != nil {
			return AuthResult{}, fmt.Errorf("service.Service.SignIn: %w", err)
		}
	}

	user, err := s.EnsureProfile(supabase.WithAccessToken(ctx, session.AccessToken), *identity)
	if err != nil {
		return AuthResult{}, fmt.Errorf("service.Service.SignIn: %w", err)
	}

	return AuthResult{Session: session, User: &user, Redirect: SanitizeRedirect(redirect)}, nil
}

// SignOut ends the remote session. Failures are only logged: the caller drops its cookies anyway.
func (s *Service) SignOut(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	err := s.repo.SignOut(ctx, accessToken)
	if err != nil {
		log.WithError(err).Warn("Remote sign-out failed")
	}
}

func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	session, err := s.repo.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("service.Service.RefreshSession: %w", err)
	}
	return session, nil
}

func (s *Service) Identity(ctx context.Context, accessToken string) (*models.Identity, error) {
	if accessToken == "" {
		return nil, models.ErrNoSession
	}
	identity, err := s.repo.Identity(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("service.Service.Identity: %w", err)
	}
	return identity, nil
}

// EnsureProfile returns the profile of identity, creating it on first use from the sign-up metadata.
// ctx must carry the identity's access token.
func (s *Service) EnsureProfile(ctx context.Context, identity models.Identity) (models.User, error) {
	user, ok, err := s.repo.UserByUUID(ctx, identity.Id)
	if err != nil {
		return user, fmt.Errorf("service.Service.EnsureProfile: %w: %w", models.ErrProfileProvisioning, err)
	}
	if ok {
		return user, nil
	}

	user, err = s.repo.ProvisionUser(ctx, NewProfile(identity))
	if err != nil {
		if errors.Is(err, models.ErrProfileProvisioning) {
			return user, fmt.Errorf("service.Service.EnsureProfile: %w", err)
		}
		return user, fmt.Errorf("service.Service.EnsureProfile: %w: %w", models.ErrProfileProvisioning, err)
	}

	log.WithFields(log.Fields{"user": user.Id, "role": user.Role}).Info("Provisioned user profile")
	return user, nil
}

// NewProfile derives a profile from identity metadata: name falls back to the email local part
// and then to "User", role falls back to client.
func NewProfile(identity models.Identity) models.User {
	name := strings.TrimSpace(identity.MetadataString("name"))
	if name == "" {
		name, _, _ = strings.Cut(identity.Email, "@")
	}
	if name == "" {
		name = "User"
	}

	role := models.Role(identity.MetadataString("role"))
	if role == "" {
		role = models.RoleClient
	}

	return models.User{Id: identity.Id, Name: name, Role: role}
}

// SanitizeRedirect keeps post-login redirects on this site. Anything but a local absolute path
// yields the dashboard.
func SanitizeRedirect(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return DashboardPath
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DashboardPath
	}
	return raw
}
