package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/supabase"

	log "github.com/sirupsen/logrus"
)

const (
	AccessCookie  = "sb-access-token"
	RefreshCookie = "sb-refresh-token"

	LoginPath = "/auth/login"

	// refresh tokens outlive access tokens, the store decides when they stop working
	refreshCookieAge = 30 * 24 * time.Hour
)

// Authenticator resolves access tokens and renews sessions.
type Authenticator interface {
	Identity(ctx context.Context, accessToken string) (*models.Identity, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
}

type identityKey struct{}

// IdentityFrom returns the identity stored by the session gate.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.Identity)
	return identity, ok
}

func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Tokens reads the session tokens from cookies, falling back to a bearer header for the access token.
func Tokens(r *http.Request) (access, refresh string) {
	if c, err := r.Cookie(AccessCookie); err == nil {
		access = c.Value
	}
	if c, err := r.Cookie(RefreshCookie); err == nil {
		refresh = c.Value
	}
	if access == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			access = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	return access, refresh
}

func SetSessionCookies(w http.ResponseWriter, session *models.Session, secure bool) {
	maxAge := 3600
	if !session.ExpiresAt.IsZero() {
		if left := int(time.Until(session.ExpiresAt).Seconds()); left > 0 {
			maxAge = left
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    session.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	if session.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     RefreshCookie,
			Value:    session.RefreshToken,
			Path:     "/",
			MaxAge:   int(refreshCookieAge.Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// LoginRedirect is the login location that brings the user back to r afterwards.
func LoginRedirect(r *http.Request) string {
	return LoginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
}

//// Session gate

type Session struct {
	auth   Authenticator
	secure bool
}

func NewSession(auth Authenticator, secureCookies bool) *Session {
	return &Session{auth: auth, secure: secureCookies}
}

// resolve finds the identity behind the request tokens. A rejected access token is renewed once
// with the refresh token and the new cookies are written to w.
func (s *Session) resolve(w http.ResponseWriter, r *http.Request) (models.Identity, string, error) {
	access, refresh := Tokens(r)
	if access == "" && refresh == "" {
		return models.Identity{}, "", models.ErrNoSession
	}

	if access != "" {
		identity, err := s.auth.Identity(r.Context(), access)
		if err == nil {
			return *identity, access, nil
		}
		if !errors.Is(err, models.ErrNoSession) || refresh == "" {
			return models.Identity{}, "", err
		}
	}

	session, err := s.auth.RefreshSession(r.Context(), refresh)
	if err != nil {
		return models.Identity{}, "", errors.Join(models.ErrNoSession, err)
	}
	SetSessionCookies(w, session, s.secure)

	identity := session.Identity
	if identity == nil {
		identity, err = s.auth.Identity(r.Context(), session.AccessToken)
		if err != nil {
			return models.Identity{}, "", err
		}
	}
	log.WithField("user", identity.Id).Debug("Session refreshed")
	return *identity, session.AccessToken, nil
}

func (s *Session) gate(api bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, token, err := s.resolve(w, r)
			if err != nil {
				if !errors.Is(err, models.ErrNoSession) {
					log.WithError(err).Warn("Session could not be resolved")
				}
				ClearSessionCookies(w, s.secure)
				Unauthenticated(w, r, api)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			ctx = supabase.WithAccessToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Page guards navigation routes: unauthenticated visitors are sent to the login page.
func (s *Session) Page(next http.Handler) http.Handler {
	return s.gate(false)(next)
}

// API guards JSON routes: unauthenticated calls get 401 with the login location.
func (s *Session) API(next http.Handler) http.Handler {
	return s.gate(true)(next)
}

type unauthenticatedResponse struct {
	Reason   string `json:"reason"`
	Redirect string `json:"redirect"`
}

func Unauthenticated(w http.ResponseWriter, r *http.Request, api bool) {
	location := LoginRedirect(r)
	if !api {
		http.Redirect(w, r, location, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	err := json.NewEncoder(w).Encode(unauthenticatedResponse{Reason: "authentication required", Redirect: location})
	if err != nil {
		log.WithError(err).Error("middleware.Unauthenticated")
	}
}
