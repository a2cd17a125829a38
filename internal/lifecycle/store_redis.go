package lifecycle

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/pkg/logger"
)

// RedisConfig 描述 Redis 存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// redisClient 收敛了 RedisBackend 实际使用的命令，便于替换。
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisBackend 以 <prefix>:<kind>:<commitment> 为键，通过 SETNX 保证只写一次。
type RedisBackend struct {
	client redisClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore 连接 Redis 并返回 Store。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RecordStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "connect redis")
	}
	return NewRecordStore(newRedisBackend(client, cfg.Prefix)), nil
}

func newRedisBackend(client redisClient, prefix string) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "intentfusion"
	}
	return &RedisBackend{client: client, prefix: prefix, logger: logger.Named("lifecycle")}
}

func (b *RedisBackend) key(kind RecordKind, commitment string) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, kind, commitment)
}

func (b *RedisBackend) indexKey(kind RecordKind) string {
	return fmt.Sprintf("%s:index:%s", b.prefix, kind)
}

// PutOnce 实现 Backend。
func (b *RedisBackend) PutOnce(ctx context.Context, kind RecordKind, commitment string, payload []byte) error {
	key := b.key(kind, commitment)
	created, err := b.client.SetNX(ctx, key, string(payload), 0).Result()
	if err != nil {
		return fmt.Errorf("setnx %s: %w", key, err)
	}
	if !created {
		existing, err := b.Get(ctx, kind, commitment)
		if err != nil {
			return err
		}
		if samePayload(existing, payload) {
			return nil
		}
		return ErrCollision
	}

	// 记录已经落盘，索引只影响 List 的可见性，失败时不能把写入报告为失败。
	if err := b.index(ctx, kind, commitment); err != nil {
		b.logger.Warn("记录索引失败",
			slog.String("kind", string(kind)),
			slog.String("commitment", commitment),
			slog.String("error", err.Error()))
	}
	return nil
}

func (b *RedisBackend) index(ctx context.Context, kind RecordKind, commitment string) error {
	seq, err := b.client.Incr(ctx, b.prefix+":seq").Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	if err := b.client.ZAdd(ctx, b.indexKey(kind), redis.Z{Score: float64(seq), Member: commitment}).Err(); err != nil {
		return fmt.Errorf("index %s: %w", b.key(kind, commitment), err)
	}
	return nil
}

// Get 实现 Backend。
func (b *RedisBackend) Get(ctx context.Context, kind RecordKind, commitment string) ([]byte, error) {
	value, err := b.client.Get(ctx, b.key(kind, commitment)).Result()
	if stdErrors.Is(err, redis.Nil) {
		return nil, ErrNotPresent
	}
	if err != nil {
		return nil, fmt.Errorf("get %s record: %w", kind, err)
	}
	return []byte(value), nil
}

// List 实现 Backend。
func (b *RedisBackend) List(ctx context.Context, kind RecordKind, limit int) ([][]byte, error) {
	commitments, err := b.client.ZRevRange(ctx, b.indexKey(kind), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s index: %w", kind, err)
	}
	if len(commitments) == 0 {
		return nil, nil
	}
	keys := make([]string, len(commitments))
	for i, commitment := range commitments {
		keys[i] = b.key(kind, commitment)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget %s records: %w", kind, err)
	}
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		if s, ok := value.(string); ok {
			out = append(out, []byte(s))
		}
	}
	return out, nil
}

// Clear 删除前缀下的全部键。
func (b *RedisBackend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+":*", 256).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", b.prefix, err)
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete %s keys: %w", b.prefix, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
