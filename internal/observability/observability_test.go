package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn", "text")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}

func TestWithRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := context.WithValue(context.Background(), chimiddleware.RequestIDKey, "req-1")

	WithRequest(ctx, zap.New(core)).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["request_id"])
}

func TestMetrics_Instrument(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/api/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contacts/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/contacts/{id}", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordAuthFailure("TOKEN_MISSING")
	m.RecordSession("created")
	m.RecordRateLimited("/api/auth/login/{method}")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(body, `crm_auth_failures_total{code="TOKEN_MISSING"} 1`))
	assert.Contains(t, body, `crm_sessions_total{outcome="created"} 1`)
	assert.Contains(t, body, "crm_rate_limited_total")
}

func TestMetrics_ObserveAuditQueue(t *testing.T) {
	m := NewMetrics()
	depth := 3
	m.ObserveAuditQueue(func() int { return depth })

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "crm_audit_pending_events 3")

	depth = 0
	w = httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "crm_audit_pending_events 0")
}
