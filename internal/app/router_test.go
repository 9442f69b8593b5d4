package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsentry/fraud-risk-service/internal/adapter/httpserver"
	queuemem "github.com/finsentry/fraud-risk-service/internal/adapter/queue/memory"
	"github.com/finsentry/fraud-risk-service/internal/adapter/repo/memory"
	"github.com/finsentry/fraud-risk-service/internal/analysis/rules"
	"github.com/finsentry/fraud-risk-service/internal/config"
	"github.com/finsentry/fraud-risk-service/internal/domain"
	"github.com/finsentry/fraud-risk-service/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example , https://b.example "))
}

func newTestRouter() http.Handler {
	cfg := config.Config{RateLimitPerMin: 1000, CORSAllowOrigins: "*"}
	svc := usecase.NewService(memory.NewStore(), queuemem.NewQueue(), rules.NewProvider(domain.DefaultThresholds()))
	return BuildRouter(cfg, httpserver.NewServer(cfg, svc, nil))
}

func TestRouterHealthz(t *testing.T) {
	t.Parallel()
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouterServesAPIRoutes(t *testing.T) {
	t.Parallel()
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recent-transactions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transaction/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	t.Parallel()
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
