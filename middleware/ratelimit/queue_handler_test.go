package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
)

type staticStatus map[domain.AppID]domain.QueueStatus

func (s staticStatus) Status(id domain.AppID) domain.QueueStatus { return s[id] }

func TestQueueStatusHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /queues/{appId}", QueueStatusHandler(staticStatus{
		"weather": {Length: 3, Draining: true},
	}))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/queues/weather", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"queueLength":3,"draining":true}`, w.Body.String())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/queues/unknown", nil))
	assert.JSONEq(t, `{"queueLength":0,"draining":false}`, w.Body.String())
}
