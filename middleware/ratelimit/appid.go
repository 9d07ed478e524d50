package ratelimit

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
)

// AppIDFunc extrai da requisição o app de destino e o caminho relativo a ele.
type AppIDFunc func(r *http.Request) (id domain.AppID, rest string)

// DefaultPrefix é onde o gateway publica os apps: /apis/{appId}/{rest...}.
const DefaultPrefix = "/apis/"

// PathAppID lê o app do primeiro segmento depois de prefix.
// Fora do prefixo, devolve id vazio.
func PathAppID(prefix string) AppIDFunc {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return func(r *http.Request) (domain.AppID, string) {
		// rest fica na forma escapada: a%2Fb chega ao backend como a%2Fb.
		p, ok := strings.CutPrefix(r.URL.EscapedPath(), prefix)
		if !ok {
			return "", ""
		}
		rawID, rest, _ := strings.Cut(p, "/")
		id, err := url.PathUnescape(rawID)
		if err != nil {
			id = rawID
		}
		return domain.AppID(strings.TrimSpace(id)), rest
	}
}

type ctxKey int

const (
	appKey ctxKey = iota
	requestIDKey
	targetKey
)

type routedApp struct {
	cfg  domain.AppConfig
	rest string
}

func withApp(ctx context.Context, cfg domain.AppConfig, rest string) context.Context {
	return context.WithValue(ctx, appKey, routedApp{cfg: cfg, rest: rest})
}

// AppFromContext devolve o app resolvido pelo Middleware e o caminho
// relativo ao base_url dele.
func AppFromContext(ctx context.Context) (domain.AppConfig, string, bool) {
	ra, ok := ctx.Value(appKey).(routedApp)
	return ra.cfg, ra.rest, ok
}

// RequestIDFromContext devolve o id atribuído por RequestLogger.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func newRequestID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderRequestID)); v != "" {
		return v
	}
	return uuid.NewString()
}
