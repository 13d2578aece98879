package auth

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	githubOAuth "golang.org/x/oauth2/github"

	"github.com/repolens/repolens/db"
)

var (
	SCOPES = []string{"read:user", "user:email"}

	GithubApiURL, _ = url.Parse("https://api.github.com/")
)

type Config struct {
	ClientID     string        // The OAuth client ID
	ClientSecret string        // The OAuth client secret
	BaseURL      *url.URL      // The base URL from where repolens is being served from
	MountPath    string        // Where the routes are mounted, "/auth" if empty
	SigningKey   []byte        // The key to sign the JWTs with
	Expiration   time.Duration // How long should user sessions last?
	SecureCookie bool
	Store        db.Store

	// Overridable for tests, GitHub's by default
	Endpoint oauth2.Endpoint
	APIURL   *url.URL
}

type Authenticator struct {
	oauth        *oauth2.Config
	apiURL       *url.URL
	expiration   time.Duration
	signingKey   []byte
	secureCookie bool
	store        db.Store
}

func NewAuthenticator(config *Config) *Authenticator {
	mountPath := config.MountPath
	if mountPath == "" {
		mountPath = "/auth"
	}

	endpoint := config.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = githubOAuth.Endpoint
	}

	apiURL := config.APIURL
	if apiURL == nil {
		apiURL = GithubApiURL
	}

	// Clone the BaseURL so we don't modify it
	callbackURL := *config.BaseURL
	callbackURL.Path = mountPath + "/github/callback"
	callbackURL.RawQuery = ""

	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  callbackURL.String(),
			Scopes:       SCOPES,
		},
		apiURL:       apiURL,
		expiration:   config.Expiration,
		signingKey:   config.SigningKey,
		secureCookie: config.SecureCookie,
		store:        config.Store,
	}
}

// Routes returns the auth route group.
func (a *Authenticator) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/github/login", a.LoginHandler)
	r.Get("/github/callback", a.CallbackHandler)
	r.Post("/register", a.RegisterHandler)
	r.Post("/login", a.PasswordLoginHandler)
	r.Get("/logout", a.LogoutHandler)
	r.Post("/logout", a.LogoutHandler)

	return r
}

// User is the public part of an account, embedded in the session token.
type User struct {
	Username  string `json:"username"`
	AvatarUrl string `json:"avatarUrl"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

func userFromAccount(account *db.User) User {
	return User{
		Username:  account.Username,
		AvatarUrl: account.AvatarURL,
		Name:      account.Name,
		Email:     account.Email,
	}
}
