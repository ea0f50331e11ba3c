package repository

import (
	"context"
	"fmt"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/supabase"
)

func toIdentity(u *supabase.User) *models.Identity {
	if u == nil {
		return nil
	}
	return &models.Identity{Id: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

func toSession(resp *supabase.AuthResponse) (*models.Session, *models.Identity) {
	identity := toIdentity(resp.User)
	if resp.Session == nil {
		return nil, identity
	}

	session := &models.Session{
		AccessToken:  resp.Session.AccessToken,
		RefreshToken: resp.Session.RefreshToken,
		Identity:     identity,
	}
	if resp.Session.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(resp.Session.ExpiresAt, 0)
	}
	if session.Identity == nil {
		session.Identity = toIdentity(resp.Session.User)
	}
	return session, session.Identity
}

// SignUp registers an identity. The session is nil when the address must be confirmed first.
func (repo *Repository) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*models.Session, *models.Identity, error) {
	resp, err := repo.client.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("repository.Repository.SignUp: %w", err)
	}
	session, identity := toSession(resp)
	return session, identity, nil
}

func (repo *Repository) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	resp, err := repo.client.SignInWithPassword(ctx, email, password)
	if supabase.IsEmailNotConfirmed(err) {
		return nil, fmt.Errorf("repository.Repository.SignIn: %w", models.ErrEmailNotConfirmed)
	} else if err != nil {
		return nil, fmt.Errorf("repository.Repository.SignIn: %w", err)
	}

	session, _ := toSession(resp)
	if session == nil {
		return nil, fmt.Errorf("repository.Repository.SignIn: %w", models.ErrNoSessionCreated)
	}
	return session, nil
}

func (repo *Repository) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	resp, err := repo.client.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.RefreshSession: %w", err)
	}

	session, _ := toSession(resp)
	if session == nil {
		return nil, fmt.Errorf("repository.Repository.RefreshSession: %w", models.ErrNoSessionCreated)
	}
	return session, nil
}

// Identity resolves an access token. With a JWT secret configured the token is verified locally and
// GoTrue is only asked when that fails for a reason other than expiry.
func (repo *Repository) Identity(ctx context.Context, accessToken string) (*models.Identity, error) {
	if secret := repo.client.JWTSecret(); secret != "" {
		user, err := supabase.VerifyToken(secret, accessToken)
		if err == nil {
			return toIdentity(user), nil
		}
		if supabase.IsTokenExpired(err) {
			return nil, fmt.Errorf("repository.Repository.Identity: %w: %w", models.ErrNoSession, err)
		}
	}

	user, err := repo.client.GetUser(ctx, accessToken)
	if supabase.IsUnauthorized(err) {
		return nil, fmt.Errorf("repository.Repository.Identity: %w: %w", models.ErrNoSession, err)
	} else if err != nil {
		return nil, fmt.Errorf("repository.Repository.Identity: %w", err)
	}
	return toIdentity(user), nil
}

func (repo *Repository) SignOut(ctx context.Context, accessToken string) error {
	err := repo.client.SignOut(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("repository.Repository.SignOut: %w", err)
	}
	return nil
}
