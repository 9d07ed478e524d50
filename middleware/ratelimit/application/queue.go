package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Checker é a parte do Service que o drain precisa: reavaliar o app.
type Checker interface {
	Check(ctx context.Context, id domain.AppID) (domain.AppConfig, domain.RateLimitStatus, error)
}

type QueueOptions struct {
	MaxQueueSize   int
	QueueTimeout   time.Duration
	DrainPacing    time.Duration
	ResetSlack     time.Duration
	ForwardTimeout time.Duration

	Pacers domain.PacerStore
	Slots  ConcurrencyService
	Stats  domain.StatsStore
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

const (
	DefaultMaxQueueSize   = 1000
	DefaultQueueTimeout   = 30 * time.Second
	DefaultDrainPacing    = 100 * time.Millisecond
	DefaultResetSlack     = 100 * time.Millisecond
	DefaultForwardTimeout = 30 * time.Second
)

// QueueManager mantém, por app, uma fila FIFO limitada de requisições
// negadas pelo rate limit e as drena uma de cada vez quando há capacidade.
//
// Todo o estado é local ao processo: não sobrevive a restart e não é
// compartilhado entre instâncias do gateway.
type QueueManager struct {
	checker Checker
	fwd     domain.Forwarder
	opts    QueueOptions
	log     *zap.Logger

	mu     sync.Mutex
	queues map[domain.AppID]*appQueue
	closed bool

	steps sync.WaitGroup
}

// appQueue é o estado de um app. Tudo aqui é protegido por mu.
type appQueue struct {
	mu         sync.Mutex
	items      []*domain.QueuedRequest
	timers     map[string]*time.Timer
	draining   bool
	resetTimer *time.Timer
	paceTimer  *time.Timer
	closed     bool
}

func NewQueueManager(checker Checker, fwd domain.Forwarder, opts QueueOptions) *QueueManager {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = DefaultQueueTimeout
	}
	if opts.DrainPacing < 0 {
		opts.DrainPacing = 0
	}
	if opts.ResetSlack <= 0 {
		opts.ResetSlack = DefaultResetSlack
	}
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = DefaultForwardTimeout
	}
	if opts.Pacers == nil {
		opts.Pacers = newIntervalPacers(opts.DrainPacing)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &QueueManager{
		checker: checker,
		fwd:     fwd,
		opts:    opts,
		log:     opts.Logger.Named("queue"),
		queues:  make(map[domain.AppID]*appQueue),
	}
}

// Enqueue adia uma requisição do app.
//
// Fila cheia retorna ErrCapacityExceeded sem efeito colateral. Se resetAt
// estiver no futuro, o timer de reset do app é (re)armado para resetAt mais
// a folga configurada, substituindo o anterior.
func (m *QueueManager) Enqueue(id domain.AppID, snap domain.RequestSnapshot, resetAt time.Time) (*domain.QueuedRequest, error) {
	q, err := m.queueFor(id)
	if err != nil {
		return nil, err
	}

	now := m.opts.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, domain.ErrQueueClosed
	}
	if n := len(q.items); n >= m.opts.MaxQueueSize {
		q.mu.Unlock()
		m.record(id, domain.DecisionRejected, snap)
		return nil, fmt.Errorf("%w: app %s has %d queued requests", domain.ErrCapacityExceeded, id, n)
	}

	item := domain.NewQueuedRequest(m.opts.NewID(), id, snap, now, m.opts.QueueTimeout)
	q.items = append(q.items, item)
	q.timers[item.ID] = time.AfterFunc(m.opts.QueueTimeout, func() { m.expire(id, item.ID) })
	if resetAt.After(now) {
		m.armResetLocked(id, q, resetAt.Sub(now)+m.opts.ResetSlack, true)
	}
	length := len(q.items)
	q.mu.Unlock()

	m.log.Debug("request queued",
		zap.String("app_id", string(id)),
		zap.String("request_id", item.ID),
		zap.Int("queue_length", length))
	m.record(id, domain.DecisionQueued, snap)

	m.Drain(id)
	return item, nil
}

// Drain tenta processar a cabeça da fila do app. É idempotente e pode ser
// chamado de qualquer gatilho: se já há um drain em andamento ou agendado
// pelo pacing, não faz nada. Não bloqueia: o passo roda em outra goroutine.
func (m *QueueManager) Drain(id domain.AppID) {
	q := m.lookup(id)
	if q == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.draining || q.paceTimer != nil || len(q.items) == 0 {
		return
	}

	now := m.opts.Now()
	if wait := m.opts.Pacers.Get(id).Reserve(now); wait > 0 {
		var t *time.Timer
		t = time.AfterFunc(wait, func() { m.paced(id, q, &t) })
		q.paceTimer = t
		return
	}
	m.startLocked(id, q)
}

// Status informa o tamanho da fila e se há drain em andamento.
func (m *QueueManager) Status(id domain.AppID) domain.QueueStatus {
	q := m.lookup(id)
	if q == nil {
		return domain.QueueStatus{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.QueueStatus{Length: len(q.items), Draining: q.draining}
}

// Remove tira um item da fila (ex: o cliente desconectou). O item recebe
// context.Canceled. Retorna false se ele já não estava na fila.
func (m *QueueManager) Remove(id domain.AppID, requestID string) bool {
	item := m.take(id, requestID)
	if item == nil {
		return false
	}
	item.Complete(domain.Outcome{Err: context.Canceled})
	return true
}

// Close para todos os timers, entrega ErrQueueClosed aos itens pendentes e
// espera os passos de drain em andamento terminarem (ou o ctx encerrar).
func (m *QueueManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	queues := make([]*appQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	pending := 0
	for _, q := range queues {
		q.mu.Lock()
		q.closed = true
		items := q.items
		q.items = nil
		for _, t := range q.timers {
			t.Stop()
		}
		q.timers = make(map[string]*time.Timer)
		q.stopAppTimersLocked()
		q.mu.Unlock()

		for _, item := range items {
			item.Complete(domain.Outcome{Err: domain.ErrQueueClosed})
		}
		pending += len(items)
	}
	if pending > 0 {
		m.log.Info("queue closed with pending requests", zap.Int("pending", pending))
	}

	done := make(chan struct{})
	go func() {
		m.steps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *QueueManager) queueFor(id domain.AppID) (*appQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrQueueClosed
	}
	q, ok := m.queues[id]
	if !ok {
		q = &appQueue{timers: make(map[string]*time.Timer)}
		m.queues[id] = q
	}
	return q, nil
}

func (m *QueueManager) lookup(id domain.AppID) *appQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[id]
}

func (m *QueueManager) startLocked(id domain.AppID, q *appQueue) {
	q.draining = true
	m.steps.Add(1)
	go m.step(id, q)
}

// t só é lido com q.mu: o timer pode disparar antes de Drain atribuí-lo.
func (m *QueueManager) paced(id domain.AppID, q *appQueue, t **time.Timer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paceTimer != *t {
		return
	}
	q.paceTimer = nil
	if q.closed || q.draining || len(q.items) == 0 {
		return
	}
	m.startLocked(id, q)
}

// step é um passo de drain: reavalia o app e, se admitido, encaminha a
// cabeça da fila. Roda com draining=true e sem segurar locks durante I/O.
func (m *QueueManager) step(id domain.AppID, q *appQueue) {
	defer m.steps.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ForwardTimeout)
	defer cancel()

	q.mu.Lock()
	empty := len(q.items) == 0
	q.mu.Unlock()
	if empty {
		m.finishStep(id, q)
		return
	}

	cfg, st, err := m.checker.Check(ctx, id)
	if err != nil {
		if item := q.popHead(); item != nil {
			m.log.Warn("drain re-evaluation failed",
				zap.String("app_id", string(id)), zap.String("request_id", item.ID), zap.Error(err))
			item.Complete(domain.Outcome{Err: err})
			m.record(id, domain.DecisionFailed, item.Snapshot)
		}
		m.finishStep(id, q)
		return
	}

	if st.IsLimited {
		now := m.opts.Now()
		q.mu.Lock()
		q.draining = false
		if len(q.items) > 0 {
			wait := m.opts.ResetSlack
			if reset := st.ResetAt(); reset.After(now) {
				wait += reset.Sub(now)
			}
			m.armResetLocked(id, q, wait, false)
		}
		q.mu.Unlock()
		return
	}

	// a cabeça pode ter expirado entre a olhada e a admissão; segue com a
	// cabeça atual
	item := q.popHead()
	if item == nil {
		m.finishStep(id, q)
		return
	}

	m.forward(ctx, cfg, item)
	m.finishStep(id, q)
}

func (m *QueueManager) forward(ctx context.Context, cfg domain.AppConfig, item *domain.QueuedRequest) {
	release, ok := m.opts.Slots.Acquire(ctx)
	if !ok {
		err := fmt.Errorf("%w: no forwarding slot available", domain.ErrUpstream)
		item.Complete(domain.Outcome{Err: err})
		m.record(item.AppID, domain.DecisionFailed, item.Snapshot)
		return
	}
	defer release()

	resp, err := m.fwd.Forward(ctx, cfg, item.Snapshot)
	if err != nil {
		if !errors.Is(err, domain.ErrUpstream) {
			err = fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}
		m.log.Warn("queued request forward failed",
			zap.String("app_id", string(item.AppID)), zap.String("request_id", item.ID), zap.Error(err))
		item.Complete(domain.Outcome{Err: err})
		m.record(item.AppID, domain.DecisionFailed, item.Snapshot)
		return
	}

	m.log.Debug("queued request forwarded",
		zap.String("app_id", string(item.AppID)),
		zap.String("request_id", item.ID),
		zap.Duration("waited", m.opts.Now().Sub(item.EnqueuedAt)))
	item.Complete(domain.Outcome{Response: resp})
	m.record(item.AppID, domain.DecisionForwarded, item.Snapshot)
}

// finishStep volta o app para Idle e, se ainda há itens, pede o próximo
// drain; o pacer decide quando ele pode começar.
func (m *QueueManager) finishStep(id domain.AppID, q *appQueue) {
	q.mu.Lock()
	q.draining = false
	more := len(q.items) > 0 && !q.closed
	q.mu.Unlock()

	if more {
		m.Drain(id)
	}
}

func (m *QueueManager) expire(id domain.AppID, requestID string) {
	item := m.take(id, requestID)
	if item == nil {
		return
	}
	m.log.Debug("queued request timed out",
		zap.String("app_id", string(id)), zap.String("request_id", requestID))
	item.Complete(domain.Outcome{Err: domain.ErrQueueTimeout})
	m.record(id, domain.DecisionTimedOut, item.Snapshot)
}

// take remove o item pelo id, esteja onde estiver na fila.
func (m *QueueManager) take(id domain.AppID, requestID string) *domain.QueuedRequest {
	q := m.lookup(id)
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID != requestID {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		q.stopTimerLocked(requestID)
		if len(q.items) == 0 {
			q.stopAppTimersLocked()
		}
		return item
	}
	return nil
}

// armResetLocked arma o timer de reset do app. Com replace=false, um timer
// já armado é mantido.
func (m *QueueManager) armResetLocked(id domain.AppID, q *appQueue, d time.Duration, replace bool) {
	if q.resetTimer != nil {
		if !replace {
			return
		}
		q.resetTimer.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.mu.Lock()
		if q.resetTimer == t {
			q.resetTimer = nil
		}
		q.mu.Unlock()
		m.Drain(id)
	})
	q.resetTimer = t
}

func (m *QueueManager) record(id domain.AppID, kind domain.DecisionKind, snap domain.RequestSnapshot) {
	if m.opts.Stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = m.opts.Stats.Record(ctx, domain.StatsEvent{
		AppID:  id,
		Kind:   kind,
		Method: snap.Method,
		Path:   snap.Path,
		At:     m.opts.Now(),
	})
}

func (q *appQueue) popHead() *domain.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.stopTimerLocked(item.ID)
	if len(q.items) == 0 {
		q.stopAppTimersLocked()
	}
	return item
}

func (q *appQueue) stopTimerLocked(requestID string) {
	if t, ok := q.timers[requestID]; ok {
		t.Stop()
		delete(q.timers, requestID)
	}
}

// stopAppTimersLocked solta os timers do app quando a fila esvazia.
func (q *appQueue) stopAppTimersLocked() {
	if q.resetTimer != nil {
		q.resetTimer.Stop()
		q.resetTimer = nil
	}
	if q.paceTimer != nil {
		q.paceTimer.Stop()
		q.paceTimer = nil
	}
}

// intervalPacer é o pacer usado quando nenhum PacerStore é configurado:
// garante ao menos interval entre o início de dois drains do mesmo app.
type intervalPacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func (p *intervalPacer) Reserve(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := now
	if p.next.After(now) {
		start = p.next
	}
	p.next = start.Add(p.interval)
	return start.Sub(now)
}

type intervalPacers struct {
	interval time.Duration
	pacers   sync.Map
}

func newIntervalPacers(interval time.Duration) *intervalPacers {
	return &intervalPacers{interval: interval}
}

func (s *intervalPacers) Get(id domain.AppID) domain.Pacer {
	p, _ := s.pacers.LoadOrStore(id, &intervalPacer{interval: s.interval})
	return p.(*intervalPacer)
}
