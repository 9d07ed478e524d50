package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit        = "X-RateLimit-Limit"
	HeaderRemaining    = "X-RateLimit-Remaining"
	HeaderReset        = "X-RateLimit-Reset"
	HeaderRetryAfter   = "X-RateLimit-Retry-After"
	HeaderQueueLength  = "X-Queue-Length"
	HeaderProxiedBy    = "X-Proxied-By"
	HeaderProxyTime    = "X-Proxy-Timestamp"
	HeaderRequestID    = "X-Request-Id"
	DefaultProxiedBy   = "Rate Limiting Proxy API"
	msgTooManyRequests = "Too Many Requests"
)

type errorBody struct {
	Message    string `json:"message"`
	RetryAfter *int64 `json:"retryAfter,omitempty"`
	Error      string `json:"error,omitempty"`
}

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

func setRateLimitHeaders(h http.Header, st domain.RateLimitStatus) {
	h.Set(HeaderLimit, formatInt(st.Limit))
	h.Set(HeaderRemaining, formatInt(st.Remaining))
	h.Set(HeaderReset, formatInt64(st.Reset))
	if st.IsLimited {
		h.Set(HeaderRetryAfter, formatInt64(st.Reset))
	}
}

func stampProxied(h http.Header, by string, now time.Time) {
	h.Set(HeaderProxiedBy, by)
	h.Set(HeaderProxyTime, now.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTooMany(w http.ResponseWriter, msg string, st domain.RateLimitStatus, now time.Time) {
	retry := st.RetryAfterSeconds(now)
	writeJSON(w, http.StatusTooManyRequests, errorBody{Message: msg, RetryAfter: &retry})
}

// writeError traduz os erros de domínio para status HTTP.
func writeError(w http.ResponseWriter, err error, st domain.RateLimitStatus, now time.Time) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Message: "App not found"})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Message: "Request body too large"})
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeTooMany(w, "Queue is full, try again later", st, now)
	case errors.Is(err, domain.ErrQueueTimeout):
		writeJSON(w, http.StatusRequestTimeout, errorBody{Message: "Request timed out in queue"})
	case errors.Is(err, domain.ErrUpstream):
		writeJSON(w, http.StatusBadGateway, errorBody{Message: "No response from target API", Error: err.Error()})
	case errors.Is(err, domain.ErrQueueClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "Gateway is shutting down"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "Error applying rate limit"})
	}
}

// writeUpstream devolve ao cliente uma resposta do backend obtida pela fila.
// O Retry-After da negação original não vale mais: a requisição foi atendida.
func writeUpstream(w http.ResponseWriter, resp *domain.UpstreamResponse, proxiedBy string, now time.Time) {
	h := w.Header()
	h.Del(HeaderRetryAfter)
	for k, vs := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		h[k] = append([]string(nil), vs...)
	}
	stampProxied(h, proxiedBy, now)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// o corpo já foi lido inteiro, então o tamanho é recalculado
var hopHeaders = map[string]bool{
	"Content-Length":    true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Trailer":           true,
	"Upgrade":           true,
}
