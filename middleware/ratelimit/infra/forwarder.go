package infra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// headers que não seguem para o backend
var skipRequestHeaders = map[string]bool{
	"Host":                true,
	"X-Api-Key":           true,
	"Content-Length":      true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// HTTPForwarder reenvia snapshots da fila para o backend do app.
// Não segue a conexão original: tudo vem do snapshot.
type HTTPForwarder struct {
	Client *http.Client
	// MaxResponseBytes limita o corpo lido do backend; acima disso o forward
	// falha com ErrUpstream. 0 usa 10 MiB.
	MaxResponseBytes int64
}

var _ domain.Forwarder = (*HTTPForwarder)(nil)

func NewHTTPForwarder(timeout time.Duration) *HTTPForwarder {
	return &HTTPForwarder{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPForwarder) Forward(ctx context.Context, app domain.AppConfig, snap domain.RequestSnapshot) (*domain.UpstreamResponse, error) {
	target, err := TargetURL(app, snap.Path, url.Values(snap.Query).Encode())
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(snap.Body) > 0 {
		body = bytes.NewReader(snap.Body)
	}
	req, err := http.NewRequestWithContext(ctx, snap.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrUpstream, err)
	}
	for k, vs := range snap.Header {
		if skipRequestHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUpstream, snap.Method, target, err)
	}
	defer resp.Body.Close()

	limit := f.MaxResponseBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrUpstream, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", domain.ErrUpstream, limit)
	}

	return &domain.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// TargetURL monta a URL do backend: base_url do app + caminho relativo.
// path vem escapado e segue assim, sem decodificar segmentos como %2F.
func TargetURL(app domain.AppConfig, path, rawQuery string) (*url.URL, error) {
	base, err := url.Parse(app.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base url %q: %v", domain.ErrValidation, app.BaseURL, err)
	}
	rel := strings.TrimPrefix(path, "/")
	decoded, err := url.PathUnescape(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid path %q: %v", domain.ErrValidation, path, err)
	}

	raw := base.EscapedPath()
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		raw += "/"
	}
	base.Path += decoded
	base.RawPath = raw + rel
	base.RawQuery = rawQuery
	return base, nil
}
