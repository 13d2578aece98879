package github

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/github"
	"golang.org/x/sync/errgroup"

	"github.com/repolens/repolens/db"
)

const (
	commitWindow    = 30 * 24 * time.Hour
	maxCommits      = 100
	maxContributors = 10
)

var (
	ErrInvalidRepo  = errors.New("repository must look like owner/name")
	ErrRepoNotFound = errors.New("repository not found")
	ErrRateLimited  = errors.New("GitHub rate limit exceeded")

	repoPartPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ParseRepo accepts "owner/name" as well as GitHub URLs of a repository.
func ParseRepo(s string) (owner, name string, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || !repoPartPattern.MatchString(parts[0]) || !repoPartPattern.MatchString(parts[1]) {
		return "", "", ErrInvalidRepo
	}

	return parts[0], parts[1], nil
}

type Analyzer struct {
	now func() time.Time
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{now: time.Now}
}

// Analyze collects the report of one repository. Languages, contributors and
// recent commits are fetched concurrently once the repository is known to exist.
func (a *Analyzer) Analyze(ctx context.Context, client *github.Client, owner, name string) (*db.Report, error) {
	repo, _, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify(err)
	}

	report := &db.Report{
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		URL:           repo.GetHTMLURL(),
		DefaultBranch: repo.GetDefaultBranch(),
		Language:      repo.GetLanguage(),
		Stars:         repo.GetStargazersCount(),
		Forks:         repo.GetForksCount(),
		OpenIssues:    repo.GetOpenIssuesCount(),
		Watchers:      repo.GetSubscribersCount(),
		PushedAt:      repo.GetPushedAt().Time,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		languages, _, err := client.Repositories.ListLanguages(ctx, owner, name)
		if err != nil {
			return fmt.Errorf("could not list languages: %w", classify(err))
		}
		report.Languages = languageShares(languages)
		return nil
	})

	g.Go(func() error {
		contributors, _, err := client.Repositories.ListContributors(ctx, owner, name, &github.ListContributorsOptions{
			ListOptions: github.ListOptions{PerPage: maxContributors},
		})
		if err != nil {
			return fmt.Errorf("could not list contributors: %w", classify(err))
		}

		report.Contributors = make([]db.Contributor, 0, len(contributors))
		for _, c := range contributors {
			report.Contributors = append(report.Contributors, db.Contributor{
				Login:         c.GetLogin(),
				Contributions: c.GetContributions(),
			})
		}
		return nil
	})

	g.Go(func() error {
		commits, _, err := client.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
			Since:       a.now().Add(-commitWindow),
			ListOptions: github.ListOptions{PerPage: maxCommits},
		})
		if isStatus(err, http.StatusConflict) {
			// Empty repositories answer 409
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not list commits: %w", classify(err))
		}
		report.RecentCommits = len(commits)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return report, nil
}

// languageShares orders languages by size and computes their share with one decimal.
func languageShares(languages map[string]int) []db.LanguageShare {
	total := 0
	for _, bytes := range languages {
		total += bytes
	}

	shares := make([]db.LanguageShare, 0, len(languages))
	for name, bytes := range languages {
		share := db.LanguageShare{Name: name, Bytes: bytes}
		if total > 0 {
			share.Percent = math.Round(float64(bytes)*1000/float64(total)) / 10
		}
		shares = append(shares, share)
	}

	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Bytes != shares[j].Bytes {
			return shares[i].Bytes > shares[j].Bytes
		}
		return shares[i].Name < shares[j].Name
	})

	return shares
}

func isStatus(err error, status int) bool {
	var errResp *github.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == status
}

func classify(err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return ErrRateLimited
	case isStatus(err, http.StatusNotFound):
		return ErrRepoNotFound
	default:
		return err
	}
}
