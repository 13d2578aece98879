package user

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/repolens/repolens/auth"
	"github.com/repolens/repolens/db"
	"github.com/repolens/repolens/util"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type Handler struct {
	store db.Store
}

func NewHandler(store db.Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the user route group; every route needs a signed-in user.
func (h *Handler) Routes(requireUser func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requireUser)

	r.Get("/me", h.WhoAmIHandler)
	r.Get("/analyses", h.ListAnalysesHandler)
	r.Get("/analyses/{id}", h.GetAnalysisHandler)
	r.Delete("/analyses/{id}", h.DeleteAnalysisHandler)

	return r
}

type me struct {
	auth.User
	GitHub bool `json:"github"`
}

// WhoAmIHandler returns the user of the session cookie.
func (h *Handler) WhoAmIHandler(res http.ResponseWriter, req *http.Request) {
	session, ok := auth.FromContext(req.Context())
	if !ok {
		_ = util.WriteError(res, http.StatusUnauthorized, "you are not logged in")
		return
	}

	err := util.WriteJson(res, me{User: session.User, GitHub: session.Token != ""})
	if err != nil {
		hlog.FromRequest(req).Error().Err(err).Msg("could not encode json")
	}
}

func (h *Handler) ListAnalysesHandler(res http.ResponseWriter, req *http.Request) {
	session, ok := auth.FromContext(req.Context())
	if !ok {
		_ = util.WriteError(res, http.StatusUnauthorized, "you are not logged in")
		return
	}

	limit, err := parseLimit(req.URL.Query().Get("limit"))
	if err != nil {
		_ = util.WriteError(res, http.StatusBadRequest, err.Error())
		return
	}

	analyses, err := h.store.ListAnalyses(req.Context(), session.User.Username, limit)
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not list analyses")
		hlog.FromRequest(req).Error().Err(err).Msg("could not list analyses")
		return
	}
	if analyses == nil {
		analyses = []*db.Analysis{}
	}

	_ = util.WriteJson(res, analyses)
}

func (h *Handler) GetAnalysisHandler(res http.ResponseWriter, req *http.Request) {
	session, ok := auth.FromContext(req.Context())
	if !ok {
		_ = util.WriteError(res, http.StatusUnauthorized, "you are not logged in")
		return
	}

	analysis, err := h.store.GetAnalysis(req.Context(), session.User.Username, chi.URLParam(req, "id"))
	if errors.Is(err, db.ErrNotFound) {
		_ = util.WriteError(res, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not get analysis")
		hlog.FromRequest(req).Error().Err(err).Msg("could not get analysis")
		return
	}

	_ = util.WriteJson(res, analysis)
}

func (h *Handler) DeleteAnalysisHandler(res http.ResponseWriter, req *http.Request) {
	session, ok := auth.FromContext(req.Context())
	if !ok {
		_ = util.WriteError(res, http.StatusUnauthorized, "you are not logged in")
		return
	}

	err := h.store.DeleteAnalysis(req.Context(), session.User.Username, chi.URLParam(req, "id"))
	if errors.Is(err, db.ErrNotFound) {
		_ = util.WriteError(res, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		_ = util.WriteError(res, http.StatusInternalServerError, "could not delete analysis")
		hlog.FromRequest(req).Error().Err(err).Msg("could not delete analysis")
		return
	}

	res.WriteHeader(http.StatusNoContent)
}

// parseLimit clamps the limit query parameter to maxLimit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive number")
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return limit, nil
}
