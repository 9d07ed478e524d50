package domain

import "errors"

var (
	// ErrValidation indica configuração malformada.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indica app ou RateLimitRecord inexistente.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded é retornado quando a fila do app está cheia.
	ErrCapacityExceeded = errors.New("queue is full, try again later")

	// ErrQueueTimeout é entregue a quem esperava na fila quando o prazo vence.
	ErrQueueTimeout = errors.New("request timed out while waiting in queue")

	// ErrConflict indica corrida na atualização otimista do registro.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrUpstream embrulha falhas ao encaminhar para o backend.
	ErrUpstream = errors.New("upstream error")

	// ErrQueueClosed é entregue aos itens pendentes no shutdown.
	ErrQueueClosed = errors.New("queue closed")
)
