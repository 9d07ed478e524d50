package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	path     string
	rawQuery string
	host     string
	apiKey   string
	auth     string
}

func proxiedGateway(t *testing.T, baseURL string, stats domain.StatsStore) http.Handler {
	t.Helper()
	cfg := fixedApp("billing", 100)
	cfg.BaseURL = baseURL
	svc := registerApp(t, cfg, time.Now())

	return Middleware(Options{Checker: svc, Stats: stats})(NewProxy(ProxyOptions{Stats: stats}))
}

func TestProxy_RewritesPathAndHeaders(t *testing.T) {
	seen := make(chan seenRequest, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- seenRequest{
			path:     r.URL.Path,
			rawQuery: r.URL.RawQuery,
			host:     r.Host,
			apiKey:   r.Header.Get("X-Api-Key"),
			auth:     r.Header.Get("Authorization"),
		}
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "accepted")
	}))
	defer upstream.Close()

	stats := infra.NewMemoryStatsStore()
	h := proxiedGateway(t, upstream.URL+"/v2", stats)

	r := httptest.NewRequest(http.MethodGet, "http://gw/apis/billing/invoices/42?expand=lines", nil)
	r.Header.Set("X-Api-Key", "secret")
	r.Header.Set("Authorization", "Bearer abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Upstream"))
	assert.Equal(t, DefaultProxiedBy, w.Header().Get(HeaderProxiedBy))
	_, err := time.Parse(time.RFC3339, w.Header().Get(HeaderProxyTime))
	assert.NoError(t, err)
	assert.Equal(t, "99", w.Header().Get(HeaderRemaining))

	got := <-seen
	assert.Equal(t, "/v2/invoices/42", got.path)
	assert.Equal(t, "expand=lines", got.rawQuery)
	assert.Equal(t, upstream.Listener.Addr().String(), got.host)
	assert.Empty(t, got.apiKey)
	assert.Equal(t, "Bearer abc", got.auth)

	assert.Equal(t, int64(1), stats.Total()[domain.DecisionForwarded])
}

func TestProxy_KeepsEscapedPath(t *testing.T) {
	seen := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.EscapedPath() + "?" + r.URL.RawQuery
	}))
	defer upstream.Close()

	h := proxiedGateway(t, upstream.URL+"/", nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/apis/billing/files/a%2Fb?q=1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/files/a%2Fb?q=1", <-seen)
}

func TestProxy_PassesUpstreamErrorsThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such invoice", http.StatusNotFound)
	}))
	defer upstream.Close()

	h := proxiedGateway(t, upstream.URL, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/apis/billing/invoices/0", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no such invoice")
}

func TestProxy_TransportFailureIsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	base := upstream.URL
	upstream.Close()

	stats := infra.NewMemoryStatsStore()
	h := proxiedGateway(t, base, stats)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/apis/billing/x", nil))

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "No response from target API", body["message"])
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, int64(1), stats.Total()[domain.DecisionFailed])
}

func TestProxy_WithoutResolvedApp(t *testing.T) {
	w := httptest.NewRecorder()
	NewProxy(ProxyOptions{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
