package application

import (
	"fmt"
	"math"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// Evaluation é o resultado de Evaluate: o status para o chamador e o
// registro já atualizado, pronto para ser persistido.
type Evaluation struct {
	Status domain.RateLimitStatus
	Record domain.RateLimitRecord
	// WindowReset indica que a janela foi reiniciada nesta avaliação,
	// o que pode liberar capacidade para itens na fila.
	WindowReset bool
}

// Evaluate decide admitir ou negar uma requisição do app e devolve o
// registro mutado. Não faz I/O; persistir o resultado é papel de quem chama.
func Evaluate(cfg domain.AppConfig, rec domain.RateLimitRecord, now time.Time) Evaluation {
	if now.After(rec.ResetTime) {
		return resetWindow(cfg, rec, now)
	}

	switch s := cfg.Strategy.Effective(); s {
	case domain.TokenBucket:
		return tokenBucket(cfg, rec, now)
	case domain.FixedWindow:
		return fixedWindow(cfg, rec, now)
	case domain.SlidingWindow:
		return slidingWindow(cfg, rec, now)
	case domain.LeakyBucket:
		return leakyBucket(cfg, rec, now)
	default:
		panic(fmt.Sprintf("ratelimit: unhandled strategy %q", s))
	}
}

func resetWindow(cfg domain.AppConfig, rec domain.RateLimitRecord, now time.Time) Evaluation {
	window := cfg.Window()
	strategy := cfg.Strategy.Effective()

	out := rec
	if strategy == domain.SlidingWindow {
		// a janela anterior só pesa se a nova começa logo depois dela
		out.PreviousCount = 0
		if !now.After(rec.ResetTime.Add(window)) {
			out.PreviousCount = rec.CurrentCount
		}
	}
	out.WindowStart = now
	out.LastRequest = now
	out.ResetTime = now.Add(window)
	out.CurrentCount = 1
	if strategy == domain.TokenBucket {
		out.TokenBucket = float64(cfg.RequestLimit - 1)
	}

	return Evaluation{
		Status:      status(cfg, cfg.RequestLimit-1, out.ResetTime, false),
		Record:      out,
		WindowReset: true,
	}
}

func tokenBucket(cfg domain.AppConfig, rec domain.RateLimitRecord, now time.Time) Evaluation {
	limit := float64(cfg.RequestLimit)
	added := windowFraction(cfg, rec.LastRequest, now) * limit

	level := math.Min(clamp(rec.TokenBucket, 0, limit)+added, limit)
	limited := level < 1
	if !limited {
		level--
	}

	out := rec
	out.LastRequest = now
	out.TokenBucket = level

	return Evaluation{
		Status: status(cfg, int(math.Floor(level)), rec.ResetTime, limited),
		Record: out,
	}
}

func fixedWindow(cfg domain.AppConfig, rec domain.RateLimitRecord, now time.Time) Evaluation {
	count := int(math.Floor(rec.CurrentCount))
	limited := count >= cfg.RequestLimit

	out := rec
	if !limited {
		out.CurrentCount = float64(count + 1)
		out.LastRequest = now
	}

	return Evaluation{
		Status: status(cfg, cfg.RequestLimit-count-consumed(limited), rec.ResetTime, limited),
		Record: out,
	}
}

func slidingWindow(cfg domain.AppConfig, rec domain.RateLimitRecord, now time.Time) Evaluation {
	progress := math.Min(windowFraction(cfg, rec.WindowStart, now), 1)
	effective := rec.PreviousCount*(1-progress) + rec.CurrentCount
	limited := effective >= float64(cfg.RequestLimit)

	out := rec
	if !limited {
		out.CurrentCount = rec.CurrentCount + 1
		out.LastRequest = now
	}

	remaining := cfg.RequestLimit - int(math.Ceil(effective)) - consumed(limited)
	return Evaluation{
		Status: status(cfg, remaining, rec.ResetTime, limited),
		Record: out,
	}
}

func leakyBucket(cfg domain.AppConfig, rec domain.RateLimitRecord, now time.Time) Evaluation {
	limit := float64(cfg.RequestLimit)
	leaked := windowFraction(cfg, rec.LastRequest, now) * limit

	level := math.Max(0, rec.CurrentCount-leaked)
	limited := level >= limit
	if !limited {
		level++
	}

	out := rec
	out.CurrentCount = level
	out.LastRequest = now

	// quando cheio, o reset anunciado é o instante em que uma vaga vaza;
	// o ResetTime persistido continua sendo o fim da janela
	reset := now
	if limited {
		wait := (level - limit + 1) / limit * float64(cfg.Window())
		reset = now.Add(time.Duration(wait))
	}

	return Evaluation{
		Status: status(cfg, int(math.Floor(limit-level)), reset, limited),
		Record: out,
	}
}

// windowFraction é quanto de uma janela passou entre from e now.
// Relógio andando para trás conta como zero.
func windowFraction(cfg domain.AppConfig, from, now time.Time) float64 {
	elapsed := now.Sub(from)
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(cfg.Window())
}

func status(cfg domain.AppConfig, remaining int, reset time.Time, limited bool) domain.RateLimitStatus {
	if remaining < 0 {
		remaining = 0
	}
	if remaining > cfg.RequestLimit {
		remaining = cfg.RequestLimit
	}
	return domain.RateLimitStatus{
		Limit:     cfg.RequestLimit,
		Remaining: remaining,
		Reset:     reset.Unix(),
		IsLimited: limited,
		ResetTime: reset,
	}
}

func consumed(limited bool) int {
	if limited {
		return 0
	}
	return 1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
