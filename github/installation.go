package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-github/github"
	"golang.org/x/oauth2"
)

const githubAccessTokensFormatPath = "app/installations/%s/access_tokens"

// installationTokenSource exchanges the App JWT for installation tokens.
type installationTokenSource struct {
	app            *App
	installationID string
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	url := s.app.apiURL.String() + fmt.Sprintf(githubAccessTokensFormatPath, s.installationID)

	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.app.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	token := &github.InstallationToken{}
	err = json.NewDecoder(resp.Body).Decode(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &oauth2.Token{
		AccessToken: token.GetToken(),
		TokenType:   "Bearer",
		Expiry:      token.GetExpiresAt(),
	}, nil
}

// AuthenticateAsInstallation returns a client acting as the given
// installation. Installation tokens are renewed when they expire.
func (a *App) AuthenticateAsInstallation(ctx context.Context, installationID string) (*github.Client, error) {
	source := &installationTokenSource{app: a, installationID: installationID}

	token, err := source.Token()
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	client := github.NewClient(oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source)))
	client.BaseURL = a.apiURL

	return client, nil
}
