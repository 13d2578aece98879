package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/github"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/crypto/bcrypt"

	"github.com/repolens/repolens/db"
	"github.com/repolens/repolens/util"
)

const (
	stateCookieName    = "oauth_state"
	redirectCookieName = "oauth_redirect"
	defaultRedirect    = "/dashboard"
	minPasswordLength  = 8
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,39}$`)

// LoginHandler handles login requests, redirecting the web client to GitHub's
// first stage for the OAuth flow, where the user has to grant access to the specified scopes
func (a *Authenticator) LoginHandler(res http.ResponseWriter, req *http.Request) {
	state, err := randomState()
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not start the login")
		hlog.FromRequest(req).Error().Err(err).Msg("could not generate oauth state")
		return
	}

	a.setFlowCookie(res, stateCookieName, state)
	a.setFlowCookie(res, redirectCookieName, safeRedirect(req.URL.Query().Get("redirect_uri")))

	http.Redirect(res, req, a.oauth.AuthCodeURL(state), http.StatusSeeOther)
}

// CallbackHandler handles the OAuth callback, obtaining the GitHub's Bearer token
// for the logged-in user, and generating a wrapper JWT for our session.
func (a *Authenticator) CallbackHandler(res http.ResponseWriter, req *http.Request) {
	log := hlog.FromRequest(req)
	query := req.URL.Query()

	if query.Has("error") {
		_ = util.WriteError(res, http.StatusInternalServerError, "internal error while parsing the callback")
		log.Error().
			Str("error", query.Get("error")).
			Str("description", query.Get("error_description")).
			Str("uri", query.Get("error_uri")).
			Msg("error while parsing redirect callback")
		return
	}

	stateCookie, err := req.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != query.Get("state") {
		_ = util.WriteError(res, http.StatusBadRequest, "invalid oauth state")
		return
	}

	authCode := query.Get("code")
	if authCode == "" {
		_ = util.WriteError(res, http.StatusBadRequest, "missing the code query parameter")
		return
	}

	redirectURI := defaultRedirect
	if cookie, err := req.Cookie(redirectCookieName); err == nil {
		redirectURI = safeRedirect(cookie.Value)
	}
	a.clearFlowCookie(res, stateCookieName)
	a.clearFlowCookie(res, redirectCookieName)

	token, err := a.oauth.Exchange(req.Context(), authCode)
	if err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, "could not fetch the bearer token from GitHub")
		log.Error().Err(err).Msg("error while getting the bearer token")
		return
	}

	client := github.NewClient(a.oauth.Client(req.Context(), token))
	client.BaseURL = a.apiURL

	githubUser, _, err := client.Users.Get(req.Context(), "")
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not fetch the user data from GitHub")
		log.Error().Err(err).Msg("error while fetching user data from github")
		return
	}

	account, err := a.store.UpsertGitHubUser(req.Context(), &db.User{
		Username:  githubUser.GetLogin(),
		Name:      githubUser.GetName(),
		Email:     githubUser.GetEmail(),
		AvatarURL: githubUser.GetAvatarURL(),
		GitHubID:  githubUser.GetID(),
	})
	if errors.Is(err, db.ErrUserExists) {
		_ = util.WriteError(res, http.StatusConflict, "a local account already uses this username")
		return
	}
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not save the user")
		log.Error().Err(err).Msg("could not upsert github user")
		return
	}

	if err := a.IssueSession(res, userFromAccount(account), token.AccessToken); err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not sign session token")
		log.Error().Err(err).Msg("could not sign session token")
		return
	}

	log.Info().Str("username", account.Username).Msg("github login")
	http.Redirect(res, req, redirectURI, http.StatusSeeOther)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// RegisterHandler creates a local account from a JSON body.
func (a *Authenticator) RegisterHandler(res http.ResponseWriter, req *http.Request) {
	var body credentials
	if err := util.DecodeJson(res, req, &body); err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, err.Error())
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if !usernamePattern.MatchString(body.Username) {
		_ = util.WriteError(res, http.StatusBadRequest, "username must be 3-39 letters, digits, '-' or '_'")
		return
	}
	if len(body.Password) < minPasswordLength {
		_ = util.WriteError(res, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, "password cannot be used")
		return
	}

	account := &db.User{
		Username:     body.Username,
		Name:         strings.TrimSpace(body.Name),
		Email:        strings.TrimSpace(body.Email),
		PasswordHash: hash,
	}

	err = a.store.CreateUser(req.Context(), account)
	if errors.Is(err, db.ErrUserExists) {
		_ = util.WriteError(res, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not create the user")
		hlog.FromRequest(req).Error().Err(err).Msg("could not create user")
		return
	}

	hlog.FromRequest(req).Info().Str("username", account.Username).Msg("user registered")
	_ = util.WriteJsonStatus(res, http.StatusCreated, userFromAccount(account))
}

// PasswordLoginHandler signs a local account in.
func (a *Authenticator) PasswordLoginHandler(res http.ResponseWriter, req *http.Request) {
	var body credentials
	if err := util.DecodeJson(res, req, &body); err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, err.Error())
		return
	}

	account, err := a.store.GetUser(req.Context(), strings.TrimSpace(body.Username))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not look up the user")
		hlog.FromRequest(req).Error().Err(err).Msg("could not get user")
		return
	}
	if err != nil || len(account.PasswordHash) == 0 ||
		bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(body.Password)) != nil {
		_ = util.WriteError(res, http.StatusUnauthorized, "invalid username or password")
		return
	}

	user := userFromAccount(account)
	if err := a.IssueSession(res, user, ""); err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not sign session token")
		return
	}

	_ = util.WriteJson(res, user)
}

// LogoutHandler drops the session and goes back to the login page.
func (a *Authenticator) LogoutHandler(res http.ResponseWriter, req *http.Request) {
	a.clearSession(res)
	http.Redirect(res, req, "/login", http.StatusSeeOther)
}

func (a *Authenticator) setFlowCookie(res http.ResponseWriter, name, value string) {
	http.SetCookie(res, &http.Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   600,
		Secure:   a.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

func (a *Authenticator) clearFlowCookie(res http.ResponseWriter, name string) {
	http.SetCookie(res, &http.Cookie{Name: name, Value: "", MaxAge: -1, Path: "/"})
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// safeRedirect only lets local paths through, anything else lands on the dashboard.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return defaultRedirect
	}
	return target
}
