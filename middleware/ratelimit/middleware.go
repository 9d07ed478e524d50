package ratelimit

import (
	"context"
	"io"
	"net/http"
	"time"

	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Queue é o que o middleware usa do QueueManager.
type Queue interface {
	Enqueue(id domain.AppID, snap domain.RequestSnapshot, resetAt time.Time) (*domain.QueuedRequest, error)
	Remove(id domain.AppID, requestID string) bool
	Status(id domain.AppID) domain.QueueStatus
}

type Options struct {
	Checker application.Checker
	// Queue nil faz requisições limitadas receberem 429 na hora.
	Queue   Queue
	Stats   domain.StatsStore
	AppIDFn AppIDFunc
	Logger  *zap.Logger
	Now     func() time.Time

	// MaxBodyBytes limita o corpo copiado para o snapshot da fila.
	MaxBodyBytes int64
	ProxiedBy    string
}

const DefaultMaxBodyBytes = 1 << 20

// Middleware resolve o app, avalia o rate limit e decide:
//   - admitido: segue para next com o app no contexto (ver AppFromContext)
//   - limitado: enfileira e espera o drain, timeout ou desconexão do cliente
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.AppIDFn == nil {
		opts.AppIDFn = PathAppID(DefaultPrefix)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ProxiedBy == "" {
		opts.ProxiedBy = DefaultProxiedBy
	}
	log := opts.Logger.Named("ratelimit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, rest := opts.AppIDFn(r)
			if id == "" {
				writeJSON(w, http.StatusBadRequest, errorBody{Message: "App ID is required"})
				return
			}

			cfg, st, err := opts.Checker.Check(r.Context(), id)
			if err != nil {
				log.Warn("rate limit check failed",
					zap.String("app_id", string(id)),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Error(err))
				writeError(w, err, st, opts.Now())
				return
			}
			setRateLimitHeaders(w.Header(), st)

			if !st.IsLimited {
				record(r.Context(), opts.Stats, id, domain.DecisionAdmitted, r.Method, rest, opts.Now())
				next.ServeHTTP(w, r.WithContext(withApp(r.Context(), cfg, rest)))
				return
			}

			record(r.Context(), opts.Stats, id, domain.DecisionLimited, r.Method, rest, opts.Now())
			if opts.Queue == nil {
				writeTooMany(w, msgTooManyRequests, st, opts.Now())
				return
			}

			snap, err := Snapshot(w, r, rest, opts.MaxBodyBytes)
			if err != nil {
				writeError(w, err, st, opts.Now())
				return
			}
			item, err := opts.Queue.Enqueue(id, snap, st.ResetAt())
			if err != nil {
				log.Info("request not queued",
					zap.String("app_id", string(id)), zap.Error(err))
				writeError(w, err, st, opts.Now())
				return
			}
			w.Header().Set(HeaderQueueLength, formatInt(opts.Queue.Status(id).Length))

			select {
			case o := <-item.Done():
				if o.Err != nil {
					writeError(w, o.Err, st, opts.Now())
					return
				}
				writeUpstream(w, o.Response, opts.ProxiedBy, opts.Now())
			case <-r.Context().Done():
				// se o item já saiu da fila, o encaminhamento termina sem ninguém ouvindo
				if opts.Queue.Remove(id, item.ID) {
					log.Debug("client left while queued",
						zap.String("app_id", string(id)), zap.String("request_id", item.ID))
				}
			}
		})
	}
}

// Snapshot copia da requisição tudo o que o reenvio pela fila precisa.
// rest é o caminho relativo ao app.
func Snapshot(w http.ResponseWriter, r *http.Request, rest string, maxBody int64) (domain.RequestSnapshot, error) {
	snap := domain.RequestSnapshot{
		Method: r.Method,
		Path:   rest,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
	if r.Body == nil || r.Body == http.NoBody {
		return snap, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return domain.RequestSnapshot{}, err
	}
	snap.Body = body
	return snap, nil
}

func record(ctx context.Context, stats domain.StatsStore, id domain.AppID, kind domain.DecisionKind, method, path string, now time.Time) {
	if stats == nil {
		return
	}
	_ = stats.Record(ctx, domain.StatsEvent{
		AppID:  id,
		Kind:   kind,
		Method: method,
		Path:   path,
		At:     now,
	})
}
