package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApps map[domain.AppID]domain.AppConfig

func (f fakeApps) Lookup(_ context.Context, id domain.AppID) (domain.AppConfig, error) {
	cfg, ok := f[id]
	if !ok {
		return domain.AppConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

func (f fakeApps) Put(_ context.Context, cfg domain.AppConfig) error {
	f[cfg.ID] = cfg
	return nil
}

// fakeRecords é um RecordStore mínimo com versão otimista e a opção de
// simular uma escrita concorrente antes do próximo Update.
type fakeRecords struct {
	mu        sync.Mutex
	recs      map[domain.AppID]domain.RateLimitRecord
	conflicts int
	updates   int
}

func newFakeRecords(recs ...domain.RateLimitRecord) *fakeRecords {
	f := &fakeRecords{recs: make(map[domain.AppID]domain.RateLimitRecord)}
	for _, r := range recs {
		f.recs[r.AppID] = r
	}
	return f
}

func (f *fakeRecords) Get(_ context.Context, id domain.AppID) (domain.RateLimitRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return domain.RateLimitRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecords) Update(_ context.Context, rec domain.RateLimitRecord) (domain.RateLimitRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.conflicts > 0 {
		f.conflicts--
		cur := f.recs[rec.AppID]
		cur.Version++
		f.recs[rec.AppID] = cur
		return domain.RateLimitRecord{}, domain.ErrConflict
	}
	if f.recs[rec.AppID].Version != rec.Version {
		return domain.RateLimitRecord{}, domain.ErrConflict
	}
	rec.Version++
	f.recs[rec.AppID] = rec
	return rec, nil
}

func (f *fakeRecords) Create(_ context.Context, rec domain.RateLimitRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recs[rec.AppID]; ok {
		return domain.ErrConflict
	}
	f.recs[rec.AppID] = rec
	return nil
}

func newTestService(cfg domain.AppConfig, records *fakeRecords, now time.Time) *Service {
	return &Service{
		Apps:    fakeApps{cfg.ID: cfg},
		Records: records,
		Now:     func() time.Time { return now },
	}
}

func TestService_Check_PersistsEvaluation(t *testing.T) {
	cfg := appWith(domain.FixedWindow, 5, 60000)
	records := newFakeRecords(domain.NewRecord(cfg, epoch))
	svc := newTestService(cfg, records, epoch.Add(time.Second))

	for i := 0; i < 5; i++ {
		_, st, err := svc.Check(context.Background(), cfg.ID)
		require.NoError(t, err)
		assert.False(t, st.IsLimited)
		assert.Equal(t, 4-i, st.Remaining)
	}

	_, st, err := svc.Check(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.True(t, st.IsLimited)

	rec, _ := records.Get(context.Background(), cfg.ID)
	assert.Equal(t, 5.0, rec.CurrentCount)
}

func TestService_Check_MissingRecordIsNotFound(t *testing.T) {
	cfg := appWith(domain.FixedWindow, 5, 60000)
	svc := newTestService(cfg, newFakeRecords(), epoch)

	_, _, err := svc.Check(context.Background(), cfg.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Check_UnknownOrInactiveAppIsNotFound(t *testing.T) {
	cfg := appWith(domain.FixedWindow, 5, 60000)
	cfg.Active = false
	svc := newTestService(cfg, newFakeRecords(domain.NewRecord(cfg, epoch)), epoch)

	_, _, err := svc.Check(context.Background(), cfg.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = svc.Check(context.Background(), "other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Check_RetriesOnceOnConflict(t *testing.T) {
	cfg := appWith(domain.FixedWindow, 5, 60000)
	records := newFakeRecords(domain.NewRecord(cfg, epoch))
	records.conflicts = 1
	svc := newTestService(cfg, records, epoch)

	_, st, err := svc.Check(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Remaining)
	assert.Equal(t, 2, records.updates)
}

func TestService_Check_SurfacesRepeatedConflict(t *testing.T) {
	cfg := appWith(domain.FixedWindow, 5, 60000)
	records := newFakeRecords(domain.NewRecord(cfg, epoch))
	records.conflicts = 2
	svc := newTestService(cfg, records, epoch)

	_, _, err := svc.Check(context.Background(), cfg.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestService_Check_NotifiesWindowReset(t *testing.T) {
	cfg := appWith(domain.TokenBucket, 5, 1000)
	records := newFakeRecords(domain.NewRecord(cfg, epoch))
	svc := newTestService(cfg, records, epoch.Add(2*time.Second))

	var resets []domain.AppID
	svc.OnWindowReset = func(id domain.AppID) { resets = append(resets, id) }

	_, st, err := svc.Check(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Remaining)

	_, _, err = svc.Check(context.Background(), cfg.ID)
	require.NoError(t, err)

	assert.Equal(t, []domain.AppID{cfg.ID}, resets)
}

func TestService_Check_SerializesConcurrentEvaluations(t *testing.T) {
	cfg := appWith(domain.FixedWindow, 25, 60000)
	records := newFakeRecords(domain.NewRecord(cfg, epoch))
	svc := newTestService(cfg, records, epoch)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, st, err := svc.Check(context.Background(), cfg.ID)
			if err == nil && !st.IsLimited {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), admitted.Load())
	rec, _ := records.Get(context.Background(), cfg.ID)
	assert.Equal(t, 25.0, rec.CurrentCount)
}
