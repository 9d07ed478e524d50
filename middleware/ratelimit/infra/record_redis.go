package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisRecordStore guarda cada RateLimitRecord como JSON em uma chave
// `<prefix>:<appID>`. Update usa WATCH/MULTI: se a chave mudar entre a
// leitura e a escrita, ou a versão não bater, retorna ErrConflict.
//
// Os registros não expiram: vivem enquanto o app estiver registrado.
type RedisRecordStore struct {
	rdb    *redis.Client
	prefix string
}

var _ domain.RecordStore = (*RedisRecordStore)(nil)

type RedisRecordOption func(*RedisRecordStore)

func WithRecordPrefix(prefix string) RedisRecordOption {
	return func(s *RedisRecordStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedisRecordStore(rdb *redis.Client, opts ...RedisRecordOption) *RedisRecordStore {
	s := &RedisRecordStore{
		rdb:    rdb,
		prefix: "ratelimit:record",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stringGetter cobre *redis.Client e *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisRecordStore) key(id domain.AppID) string {
	return s.prefix + ":" + string(id)
}

func (s *RedisRecordStore) Get(ctx context.Context, id domain.AppID) (domain.RateLimitRecord, error) {
	return s.read(ctx, s.rdb, id)
}

func (s *RedisRecordStore) Update(ctx context.Context, rec domain.RateLimitRecord) (domain.RateLimitRecord, error) {
	key := s.key(rec.AppID)
	next := rec
	next.Version = rec.Version + 1

	data, err := json.Marshal(next)
	if err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("encode record %s: %w", rec.AppID, err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.read(ctx, tx, rec.AppID)
		if err != nil {
			return err
		}
		if cur.Version != rec.Version {
			return fmt.Errorf("%w: record %s at version %d, update from %d", domain.ErrConflict, rec.AppID, cur.Version, rec.Version)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.RateLimitRecord{}, fmt.Errorf("%w: record %s changed during update", domain.ErrConflict, rec.AppID)
	}
	if err != nil {
		return domain.RateLimitRecord{}, err
	}
	return next, nil
}

// Create retorna ErrConflict se o app já tem registro.
func (s *RedisRecordStore) Create(ctx context.Context, rec domain.RateLimitRecord) error {
	rec.Version = 1
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.AppID, err)
	}

	ok, err := s.rdb.SetNX(ctx, s.key(rec.AppID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create record %s: %w", rec.AppID, err)
	}
	if !ok {
		return fmt.Errorf("%w: rate limit record for %s already exists", domain.ErrConflict, rec.AppID)
	}
	return nil
}

func (s *RedisRecordStore) read(ctx context.Context, c stringGetter, id domain.AppID) (domain.RateLimitRecord, error) {
	raw, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RateLimitRecord{}, fmt.Errorf("%w: rate limit record for %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}

	var rec domain.RateLimitRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}
