package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/github"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/repolens/repolens/auth"
	"github.com/repolens/repolens/db"
	"github.com/repolens/repolens/util"
)

type HandlerConfig struct {
	Clients         *Clients
	Analyzer        *Analyzer
	Store           db.Store
	BulkLimit       int
	BulkConcurrency int
}

type Handler struct {
	clients     *Clients
	analyzer    *Analyzer
	store       db.Store
	bulkLimit   int
	concurrency int
}

func NewHandler(config *HandlerConfig) *Handler {
	analyzer := config.Analyzer
	if analyzer == nil {
		analyzer = NewAnalyzer()
	}

	h := &Handler{
		clients:     config.Clients,
		analyzer:    analyzer,
		store:       config.Store,
		bulkLimit:   config.BulkLimit,
		concurrency: config.BulkConcurrency,
	}
	if h.bulkLimit < 1 {
		h.bulkLimit = 1
	}
	if h.concurrency < 1 {
		h.concurrency = 1
	}

	return h
}

// Routes returns the github route group; every route needs a signed-in user.
func (h *Handler) Routes(requireUser func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requireUser)

	r.Get("/repos", h.ListReposHandler)
	r.Get("/repos/{owner}/{name}", h.AnalyzeHandler)
	r.Post("/bulk", h.BulkHandler)

	return r
}

type repoSummary struct {
	FullName    string    `json:"fullName"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	Language    string    `json:"language"`
	Stars       int       `json:"stars"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ListReposHandler lists the repositories of the signed-in GitHub user.
func (h *Handler) ListReposHandler(res http.ResponseWriter, req *http.Request) {
	session := currentSession(req)
	if session.Token == "" {
		_ = util.WriteError(res, http.StatusForbidden, "sign in with GitHub to list your repositories")
		return
	}

	client := h.clients.ForSession(req.Context(), session)
	repos, _, err := client.Repositories.List(req.Context(), "", &github.RepositoryListOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		writeGitHubError(res, req, classify(err))
		return
	}

	result := make([]repoSummary, 0, len(repos))
	for _, repo := range repos {
		result = append(result, repoSummary{
			FullName:    repo.GetFullName(),
			Description: repo.GetDescription(),
			Private:     repo.GetPrivate(),
			Language:    repo.GetLanguage(),
			Stars:       repo.GetStargazersCount(),
			UpdatedAt:   repo.GetUpdatedAt().Time,
		})
	}

	_ = util.WriteJson(res, result)
}

// AnalyzeHandler analyses a single repository and stores the result.
func (h *Handler) AnalyzeHandler(res http.ResponseWriter, req *http.Request) {
	session := currentSession(req)

	owner, name, err := ParseRepo(chi.URLParam(req, "owner") + "/" + chi.URLParam(req, "name"))
	if err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, err.Error())
		return
	}

	client := h.clients.ForSession(req.Context(), session)
	analysis, err := h.analyze(req.Context(), client, session.User.Username, owner, name)
	if err != nil {
		writeGitHubError(res, req, err)
		return
	}

	_ = util.WriteJson(res, analysis)
}

type bulkRequest struct {
	Repos []string `json:"repos"`
}

type BulkResult struct {
	Repository string       `json:"repository"`
	Analysis   *db.Analysis `json:"analysis,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// BulkHandler analyses up to bulkLimit repositories at once. A failing
// repository does not fail the batch, its error is reported in place.
func (h *Handler) BulkHandler(res http.ResponseWriter, req *http.Request) {
	session := currentSession(req)

	var body bulkRequest
	if err := util.DecodeJson(res, req, &body); err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, err.Error())
		return
	}

	repos := dedupe(body.Repos)
	if len(repos) == 0 {
		_ = util.WriteError(res, http.StatusBadRequest, "no repositories given")
		return
	}
	if len(repos) > h.bulkLimit {
		_ = util.WriteError(res, http.StatusBadRequest, fmt.Sprintf("at most %d repositories per request", h.bulkLimit))
		return
	}

	client := h.clients.ForSession(req.Context(), session)
	results := h.AnalyzeMany(req.Context(), client, session.User.Username, repos)

	hlog.FromRequest(req).Info().Int("repos", len(repos)).Msg("bulk analysis done")
	_ = util.WriteJson(res, map[string]any{"results": results})
}

// AnalyzeMany runs the analyses with at most h.concurrency in flight.
// Results keep the order of repos.
func (h *Handler) AnalyzeMany(ctx context.Context, client *github.Client, username string, repos []string) []BulkResult {
	results := make([]BulkResult, len(repos))

	var g errgroup.Group
	g.SetLimit(h.concurrency)

	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			results[i].Repository = repo

			owner, name, err := ParseRepo(repo)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}

			analysis, err := h.analyze(ctx, client, username, owner, name)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}

			results[i].Analysis = analysis
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (h *Handler) analyze(ctx context.Context, client *github.Client, username, owner, name string) (*db.Analysis, error) {
	report, err := h.analyzer.Analyze(ctx, client, owner, name)
	if err != nil {
		return nil, err
	}

	analysis := &db.Analysis{
		Owner:      username,
		Repository: report.FullName,
		Report:     *report,
	}
	if analysis.Repository == "" {
		analysis.Repository = owner + "/" + name
	}

	if err := h.store.SaveAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("could not save analysis: %w", err)
	}

	return analysis, nil
}

func dedupe(repos []string) []string {
	seen := make(map[string]bool, len(repos))
	result := make([]string, 0, len(repos))

	for _, repo := range repos {
		if seen[repo] {
			continue
		}
		seen[repo] = true
		result = append(result, repo)
	}

	return result
}

func writeGitHubError(res http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRepo):
		_ = util.WriteError(res, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRepoNotFound):
		_ = util.WriteError(res, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRateLimited):
		_ = util.WriteError(res, http.StatusTooManyRequests, err.Error())
	default:
		hlog.FromRequest(req).Error().Err(err).Msg("github request failed")
		_ = util.WriteError(res, http.StatusBadGateway, "could not reach GitHub")
	}
}

func currentSession(req *http.Request) *auth.Session {
	session, ok := auth.FromContext(req.Context())
	if !ok {
		return &auth.Session{}
	}
	return session
}
