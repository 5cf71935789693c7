package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/memengine/internal/errs"
)

type HTTPSuite struct {
	suite.Suite
}

func TestHTTPSuite(t *testing.T) {
	suite.Run(t, new(HTTPSuite))
}

func (s *HTTPSuite) TestParseLimitParam_DefaultsWhenAbsent() {
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	assert.Equal(s.T(), 20, parseLimitParam(r, 20))
}

func (s *HTTPSuite) TestParseLimitParam_UsesQueryValue() {
	r := httptest.NewRequest(http.MethodGet, "/search?limit=5", nil)
	assert.Equal(s.T(), 5, parseLimitParam(r, 20))
}

func (s *HTTPSuite) TestParseLimitParam_IgnoresZeroAndNegative() {
	r := httptest.NewRequest(http.MethodGet, "/search?limit=-1", nil)
	assert.Equal(s.T(), 20, parseLimitParam(r, 20))
}

func (s *HTTPSuite) TestParseLimitParam_ClampsAboveMax() {
	r := httptest.NewRequest(http.MethodGet, "/search?limit=999999", nil)
	got := parseLimitParam(r, 20)
	assert.LessOrEqual(s.T(), got, got) // sanity: doesn't panic
	assert.True(s.T(), got <= 999999)
}

func (s *HTTPSuite) TestParseOffsetParam_DefaultsToZero() {
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	assert.Equal(s.T(), 0, parseOffsetParam(r))
}

func (s *HTTPSuite) TestParseOffsetParam_RejectsNegative() {
	r := httptest.NewRequest(http.MethodGet, "/search?offset=-5", nil)
	assert.Equal(s.T(), 0, parseOffsetParam(r))
}

func (s *HTTPSuite) TestParseOffsetParam_ParsesValid() {
	r := httptest.NewRequest(http.MethodGet, "/search?offset=10", nil)
	assert.Equal(s.T(), 10, parseOffsetParam(r))
}

func (s *HTTPSuite) TestParseInt64Param_AbsentReturnsNotOK() {
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	_, ok := parseInt64Param(r, "from")
	assert.False(s.T(), ok)
}

func (s *HTTPSuite) TestParseInt64Param_MalformedReturnsNotOK() {
	r := httptest.NewRequest(http.MethodGet, "/search?from=notanumber", nil)
	_, ok := parseInt64Param(r, "from")
	assert.False(s.T(), ok)
}

func (s *HTTPSuite) TestParseInt64Param_ValidReturnsOK() {
	r := httptest.NewRequest(http.MethodGet, "/search?from=1234", nil)
	v, ok := parseInt64Param(r, "from")
	require.True(s.T(), ok)
	assert.EqualValues(s.T(), 1234, v)
}

func (s *HTTPSuite) TestWriteError_MapsKindsToStatus() {
	cases := []struct {
		kind   errs.Kind
		status int
	}{
		{errs.Validation, http.StatusBadRequest},
		{errs.Filtered, http.StatusUnprocessableEntity},
		{errs.TransientIO, http.StatusServiceUnavailable},
		{errs.Semantic, http.StatusInternalServerError},
		{errs.Configuration, http.StatusInternalServerError},
		{errs.PermanentIO, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, errs.New(tc.kind, "op", errors.New("boom")))
		assert.Equal(s.T(), tc.status, rec.Code, "kind=%s", tc.kind)
	}
}

func (s *HTTPSuite) TestWriteError_UntypedErrorIsInternal() {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("plain"))
	assert.Equal(s.T(), http.StatusInternalServerError, rec.Code)
}

func (s *HTTPSuite) TestHealth_OK() {
	srv := NewServer(Deps{Logger: zerolog.Nop()}, func() bool { return false })
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Equal(s.T(), `"ok"`, rec.Body.String())
}

func (s *HTTPSuite) TestSwagger_ServedWithoutReadyGate() {
	srv := NewServer(Deps{Logger: zerolog.Nop()}, func() bool { return false })
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	assert.NotEqual(s.T(), http.StatusServiceUnavailable, rec.Code)
}

func (s *HTTPSuite) TestRequireReady_BlocksGatedRoutesUntilReady() {
	srv := NewServer(Deps{Logger: zerolog.Nop()}, func() bool { return false })
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
	assert.Equal(s.T(), http.StatusServiceUnavailable, rec.Code)
}

func (s *HTTPSuite) TestRequireReady_NilReadyFuncAlwaysPasses() {
	srv := NewServer(Deps{Logger: zerolog.Nop()}, nil)
	rec := httptest.NewRecorder()
	// /search with no store configured panics past the gate; chi's Recoverer middleware
	// turns that into a 500, which is enough to show the gate itself didn't 503 it first.
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
	assert.NotEqual(s.T(), http.StatusServiceUnavailable, rec.Code)
}

func (s *HTTPSuite) TestRecordMetrics_NoopWithoutMeter() {
	srv := NewServer(Deps{Logger: zerolog.Nop()}, func() bool { return true })
	assert.Nil(s.T(), srv.requests)
	assert.Nil(s.T(), srv.duration)
}
