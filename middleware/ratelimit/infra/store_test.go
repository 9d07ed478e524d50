package infra

import (
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

func TestPacerStore_SameAppSharesLimiter(t *testing.T) {
	s := NewPacerStore(time.Second)

	l1 := s.limiter(domain.AppID("a"))
	l2 := s.limiter(domain.AppID("a"))
	if l1 != l2 {
		t.Fatalf("expected same limiter pointer for same app")
	}
}

func TestPacerStore_SecondReserveWaitsInterval(t *testing.T) {
	s := NewPacerStore(100 * time.Millisecond)
	now := time.Now()

	p := s.Get(domain.AppID("a"))
	if d := p.Reserve(now); d != 0 {
		t.Fatalf("expected first reserve to be immediate, got %s", d)
	}
	d := p.Reserve(now)
	if d < 90*time.Millisecond || d > 100*time.Millisecond {
		t.Fatalf("expected second reserve to wait ~100ms, got %s", d)
	}

	// outro app tem o próprio ritmo
	if d := s.Get(domain.AppID("b")).Reserve(now); d != 0 {
		t.Fatalf("expected other app to be independent, got %s", d)
	}
}

func TestPacerStore_ZeroIntervalNeverWaits(t *testing.T) {
	s := NewPacerStore(0)
	now := time.Now()
	p := s.Get(domain.AppID("a"))
	for i := 0; i < 5; i++ {
		if d := p.Reserve(now); d != 0 {
			t.Fatalf("expected no pacing, got %s", d)
		}
	}
}

func TestPacerStore_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewPacerStore(time.Second, WithIdleTTL(2*time.Millisecond), WithCleanupEvery(0))

	before := s.limiter(domain.AppID("a"))
	time.Sleep(4 * time.Millisecond)

	s.Cleanup()

	after := s.limiter(domain.AppID("a"))
	if before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}
