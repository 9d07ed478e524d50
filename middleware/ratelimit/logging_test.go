package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	tt := []struct {
		status int
		level  zapcore.Level
	}{
		{status: http.StatusOK, level: zapcore.InfoLevel},
		{status: http.StatusTooManyRequests, level: zapcore.WarnLevel},
		{status: http.StatusBadGateway, level: zapcore.ErrorLevel},
	}

	for _, tc := range tt {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/apis/a/b?c=d", nil))

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tc.level, entry.Level)
			fields := entry.ContextMap()
			assert.Equal(t, int64(tc.status), fields["status"])
			assert.Equal(t, "/apis/a/b?c=d", fields["path"])
			assert.Equal(t, w.Header().Get(HeaderRequestID), fields["request_id"])
		})
	}
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	var fromCtx, fromHeader string
	h := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
		fromHeader = r.Header.Get(HeaderRequestID)
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gw/", nil))
	assert.Len(t, fromCtx, 36)
	assert.Equal(t, fromCtx, fromHeader)
	assert.Equal(t, fromCtx, w.Header().Get(HeaderRequestID))

	r := httptest.NewRequest(http.MethodGet, "http://gw/", nil)
	r.Header.Set(HeaderRequestID, "client-chosen")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "client-chosen", fromCtx)
}
