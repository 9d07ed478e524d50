package domain

import (
	"context"
	"time"
)

// SlotPool representa um recurso com capacidade finita (ex: encaminhamentos
// simultâneos para os backends).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// Pacer espaça as tentativas de drain de um app.
//
// Reserve consome a próxima vaga e retorna quanto falta, a partir de now,
// para ela poder ser usada. Zero significa "pode agora".
type Pacer interface {
	Reserve(now time.Time) time.Duration
}

// PacerStore obtém o Pacer de cada app.
type PacerStore interface {
	Get(AppID) Pacer
}
