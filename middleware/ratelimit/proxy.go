package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ProxyOptions struct {
	Transport http.RoundTripper
	Stats     domain.StatsStore
	Logger    *zap.Logger
	ProxiedBy string
	Now       func() time.Time
}

// NewProxy encaminha requisições admitidas para o backend do app resolvido
// pelo Middleware. Status não-2xx do backend passam direto; só falha de
// transporte vira 502.
func NewProxy(opts ProxyOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProxiedBy == "" {
		opts.ProxiedBy = DefaultProxiedBy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.Named("proxy")

	rp := &httputil.ReverseProxy{
		Transport: opts.Transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := pr.In.Context().Value(targetKey).(*url.URL)
			pr.Out.URL = target
			pr.Out.Host = ""
			pr.Out.Header.Del("X-Api-Key")
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			stampProxied(resp.Header, opts.ProxiedBy, opts.Now())
			if app, rest, ok := AppFromContext(resp.Request.Context()); ok {
				record(resp.Request.Context(), opts.Stats, app.ID, domain.DecisionForwarded, resp.Request.Method, rest, opts.Now())
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			app, rest, _ := AppFromContext(r.Context())
			if errors.Is(err, context.Canceled) {
				log.Debug("client canceled proxied request", zap.String("app_id", string(app.ID)))
			} else {
				log.Warn("proxy error",
					zap.String("app_id", string(app.ID)),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Error(err))
			}
			record(r.Context(), opts.Stats, app.ID, domain.DecisionFailed, r.Method, rest, opts.Now())
			writeError(w, fmt.Errorf("%w: %v", domain.ErrUpstream, err), domain.RateLimitStatus{}, opts.Now())
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, rest, ok := AppFromContext(r.Context())
		if !ok {
			log.Error("proxy reached without a resolved app", zap.String("path", r.URL.Path))
			writeError(w, errors.New("no app resolved"), domain.RateLimitStatus{}, opts.Now())
			return
		}
		target, err := infra.TargetURL(app, rest, r.URL.RawQuery)
		if err != nil {
			writeError(w, err, domain.RateLimitStatus{}, opts.Now())
			return
		}
		rp.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), targetKey, target)))
	})
}
