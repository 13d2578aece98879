package github

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const tokenDuration = time.Minute * 5

type AppConfig struct {
	AppID   string
	KeyPath string
	APIURL  *url.URL
	Client  *http.Client
}

// App authenticates as a GitHub App.
//
// https://docs.github.com/en/apps/creating-github-apps/authenticating-with-a-github-app/authenticating-as-a-github-app
type App struct {
	appID  string
	key    *rsa.PrivateKey
	apiURL *url.URL
	client *http.Client

	mu        sync.Mutex
	jwt       string
	createdAt time.Time
}

func NewApp(config *AppConfig) (*App, error) {
	key, err := loadPrivateKey(config.KeyPath)
	if err != nil {
		return nil, err
	}

	apiURL := config.APIURL
	if apiURL == nil {
		apiURL, _ = url.Parse(defaultAPIURL)
	}

	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}

	return &App{
		appID:  config.AppID,
		key:    key,
		apiURL: withTrailingSlash(apiURL),
		client: client,
	}, nil
}

// token returns the App JWT, signing a fresh one when the current one is
// about to expire.
func (a *App) token() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.jwt != "" && time.Since(a.createdAt) < tokenDuration-time.Minute {
		return a.jwt, nil
	}

	signedToken, err := generateJWTToken(a.appID, a.key, tokenDuration)
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT token: %w", err)
	}

	a.jwt = signedToken
	a.createdAt = time.Now()
	return a.jwt, nil
}

// Do sends request authenticated as the App itself.
func (a *App) Do(request *http.Request) (*http.Response, error) {
	jwt, err := a.token()
	if err != nil {
		return nil, err
	}

	request.Header.Set("Authorization", fmt.Sprintf("Bearer %s", jwt))
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	return a.client.Do(request)
}
