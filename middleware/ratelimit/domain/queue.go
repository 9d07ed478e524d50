package domain

import (
	"context"
	"sync"
	"time"
)

// RequestSnapshot é a cópia da requisição feita no enqueue.
//
// Ela é autoritativa para o reenvio: nada aqui aponta para a conexão viva.
// Path já vem relativo ao app (sem o prefixo /apis/{appId}/).
type RequestSnapshot struct {
	Method string
	Path   string
	Query  map[string][]string
	Header map[string][]string
	Body   []byte
}

// UpstreamResponse é o que o backend respondeu, já lido por completo.
type UpstreamResponse struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

// Forwarder executa um snapshot contra o backend do app.
// Status não-2xx não é erro; apenas falhas de transporte (ErrUpstream).
type Forwarder interface {
	Forward(ctx context.Context, app AppConfig, snap RequestSnapshot) (*UpstreamResponse, error)
}

// Outcome é o resultado entregue a quem está esperando um item da fila.
type Outcome struct {
	Response *UpstreamResponse
	Err      error
}

// QueuedRequest é uma tentativa de admissão adiada.
type QueuedRequest struct {
	ID         string
	AppID      AppID
	EnqueuedAt time.Time
	Deadline   time.Time
	Snapshot   RequestSnapshot

	done chan Outcome
	once sync.Once
}

func NewQueuedRequest(id string, app AppID, snap RequestSnapshot, now time.Time, timeout time.Duration) *QueuedRequest {
	return &QueuedRequest{
		ID:         id,
		AppID:      app,
		EnqueuedAt: now,
		Deadline:   now.Add(timeout),
		Snapshot:   snap,
		done:       make(chan Outcome, 1),
	}
}

// Done entrega exatamente um Outcome.
func (q *QueuedRequest) Done() <-chan Outcome { return q.done }

// Complete é one-shot: chamadas depois da primeira são ignoradas e retornam false.
func (q *QueuedRequest) Complete(o Outcome) bool {
	sent := false
	q.once.Do(func() {
		q.done <- o
		sent = true
	})
	return sent
}

type QueueStatus struct {
	Length   int  `json:"queueLength"`
	Draining bool `json:"draining"`
}
