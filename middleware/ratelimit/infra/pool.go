package infra

import (
	"context"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"golang.org/x/sync/semaphore"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool simples baseado em channel com capacidade `max`.
// É o semáforo do limite de concorrência das requisições HTTP.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

type weightedPool struct {
	sem *semaphore.Weighted
}

// NewWeightedPool limita quantos encaminhamentos o drain da fila faz ao mesmo
// tempo, somando todos os apps.
func NewWeightedPool(max int64) domain.SlotPool {
	return &weightedPool{sem: semaphore.NewWeighted(max)}
}

func (p *weightedPool) Acquire(ctx context.Context) (func(), bool) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	return func() { p.sem.Release(1) }, true
}
