package domain

import (
	"context"
	"time"
)

// DecisionKind classifica o que aconteceu com uma requisição.
type DecisionKind string

const (
	DecisionAdmitted  DecisionKind = "admitted"
	DecisionLimited   DecisionKind = "limited"
	DecisionQueued    DecisionKind = "queued"
	DecisionRejected  DecisionKind = "rejected"
	DecisionTimedOut  DecisionKind = "timed_out"
	DecisionForwarded DecisionKind = "forwarded"
	DecisionFailed    DecisionKind = "failed"
)

// StatsEvent representa um evento de decisão do gateway.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar AppID/Path sem controle pode
// explodir o número de chaves em uma base como Redis).
type StatsEvent struct {
	AppID AppID
	Kind  DecisionKind

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
//
// Implementações podem armazenar em Redis, memória, etc.
// Quem chama deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
