package github

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/github"
	"golang.org/x/oauth2"

	"github.com/repolens/repolens/auth"
)

const defaultAPIURL = "https://api.github.com/"

// Clients hands out GitHub API clients for a request.
type Clients struct {
	apiURL       *url.URL
	httpClient   *http.Client
	installation *github.Client
}

// NewClients builds the client factory. installation may be nil when no
// GitHub App is configured.
func NewClients(apiURL *url.URL, httpClient *http.Client, installation *github.Client) *Clients {
	if apiURL == nil {
		apiURL, _ = url.Parse(defaultAPIURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Clients{apiURL: withTrailingSlash(apiURL), httpClient: httpClient, installation: installation}
}

// ForSession prefers the user's own OAuth token, then the App installation,
// and falls back to anonymous access.
func (c *Clients) ForSession(ctx context.Context, session *auth.Session) *github.Client {
	if session != nil && session.Token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: session.Token, TokenType: "Bearer"})

		client := github.NewClient(oauth2.NewClient(ctx, source))
		client.BaseURL = c.apiURL
		return client
	}

	if c.installation != nil {
		return c.installation
	}

	client := github.NewClient(c.httpClient)
	client.BaseURL = c.apiURL
	return client
}

// withTrailingSlash returns a copy of u whose path ends in a slash, which
// go-github and the installation token path rely on.
func withTrailingSlash(u *url.URL) *url.URL {
	if strings.HasSuffix(u.Path, "/") {
		return u
	}
	c := *u
	c.Path += "/"
	if c.RawPath != "" {
		c.RawPath += "/"
	}
	return &c
}
