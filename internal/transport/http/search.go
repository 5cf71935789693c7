package http

import (
	"net/http"

	"github.com/thebtf/memengine/internal/errs"
	"github.com/thebtf/memengine/internal/search"
	"github.com/thebtf/memengine/pkg/models"
)

// handleSearch runs the full filtered search (§6.1 `/search?q&limit&project&type&from&to`)
// through the three-tier selection contract in internal/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := search.Params{
		Query:   q.Get("q"),
		Project: q.Get("project"),
		Limit:   parseLimitParam(r, DefaultSearchLimit),
	}
	if t := q.Get("type"); t != "" {
		params.Type = models.ObservationType(t)
	}
	if from, ok := parseInt64Param(r, "from"); ok {
		params.From = from
	}
	if to, ok := parseInt64Param(r, "to"); ok {
		params.To = to
	}

	results, err := s.deps.Search.SearchWithFilters(r.Context(), params)
	if err != nil {
		writeError(w, errs.New(errs.PermanentIO, "http.search", err))
		return
	}
	writeSearchResults(w, results)
}

// handleHybridSearch and handleSemanticSearch both enter the same tiered hybrid v2 / text-only
// / recent-observations pipeline: §6.1 describes them as distinct endpoints, but the manager's
// three-tier contract already IS "semantic search with fallback" and "hybrid search" at once —
// there is no separate algorithm to split out without duplicating executeSearch.
func (s *Server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	s.handleTieredSearch(w, r)
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	s.handleTieredSearch(w, r)
}

func (s *Server) handleTieredSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := parseLimitParam(r, DefaultSearchLimit)

	results, err := s.deps.Search.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, errs.New(errs.PermanentIO, "http.tiered_search", err))
		return
	}
	writeSearchResults(w, results)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	from, _ := parseInt64Param(r, "from")
	to, _ := parseInt64Param(r, "to")
	limit := parseLimitParam(r, DefaultSearchLimit)
	offset := parseOffsetParam(r)

	page, err := s.deps.Search.GetTimeline(r.Context(), from, to, limit, offset)
	if err != nil {
		writeError(w, errs.New(errs.PermanentIO, "http.timeline", err))
		return
	}
	writeSearchResults(w, page.Items)
}

func writeSearchResults(w http.ResponseWriter, results []models.SearchResult) {
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
