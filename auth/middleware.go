package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/repolens/repolens/util"
)

const cookieName = "auth"

var errNoSession = errors.New("no session cookie")

// Session is the content of the signed session cookie.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token,omitempty"` // GitHub OAuth token, empty for local accounts
	jwt.RegisteredClaims
}

type contextKey struct{}

// FromContext returns the session stored by Middleware or RequireUser.
func FromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(contextKey{}).(*Session)
	return session, ok
}

// WithSession returns a copy of ctx carrying session.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, session)
}

// IssueSession signs a session token for user and sets it as a cookie.
func (a *Authenticator) IssueSession(w http.ResponseWriter, user User, githubToken string) error {
	iat := time.Now().Add(-1 * time.Minute) // 1 min in the past to allow for clock drift
	exp := iat.Add(a.expiration)

	claims := Session{
		User:  user,
		Token: githubToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    tokenString,
		Expires:  exp,
		Secure:   a.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return nil
}

func (a *Authenticator) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		MaxAge:   -1,
		Secure:   a.secureCookie,
		HttpOnly: true,
		Path:     "/",
	})
}

// ParseSession validates the session cookie of r.
func (a *Authenticator) ParseSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, errNoSession
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	}

	var session Session
	_, err = jwt.ParseWithClaims(cookie.Value, &session, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// Middleware attaches the session, when there is a valid one, to the request
// context. Requests without a session pass through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		session, err := a.ParseSession(r)
		if err != nil {
			if !errors.Is(err, errNoSession) {
				hlog.FromRequest(r).Debug().Err(err).Msg("ignoring invalid session cookie")
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// RequireUser rejects requests without a valid session with a 401.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			_ = util.WriteError(w, http.StatusUnauthorized, "you are not logged in")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
