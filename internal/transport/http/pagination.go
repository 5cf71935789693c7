package http

import (
	"net/http"
	"strconv"

	"github.com/thebtf/memengine/pkg/models"
)

// parseLimitParam parses the "limit" query parameter, defaulting and clamping to
// models.MaxQueryLimit (§4.7's process-wide cap every list endpoint enforces).
func parseLimitParam(r *http.Request, defaultLimit int) int {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > models.MaxQueryLimit {
		limit = models.MaxQueryLimit
	}
	return limit
}

// parseOffsetParam parses the "offset" query parameter, defaulting to 0.
func parseOffsetParam(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// parseInt64Param parses a numeric query parameter, returning ok=false on absence or
// malformed input so handlers can 400 rather than silently default.
func parseInt64Param(r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
