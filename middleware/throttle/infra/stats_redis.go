package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"throttle-gateway/middleware/throttle/domain"

	"github.com/redis/go-redis/v9"
)

const (
	BucketMinute = "minute"
	BucketNone   = "none"
)

// RedisStatsStore grava decisões em hashes Redis, num único pipeline por evento.
//
// Cada hash (total, bucket por minuto, por nome) recebe o campo do resultado
// ("allowed" | "denied") e o mesmo campo qualificado pela política
// ("time:allowed", "count:denied"), de modo que o corte por política existe em
// todas as granularidades. Rotas vão para um hash próprio, "METHOD path:outcome".
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl vale para buckets e hashes por nome; total é cumulativo e não expira.
	ttl        time.Duration
	bucket     string
	trackNames bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket escolhe BucketMinute (padrão) ou BucketNone.
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackNames(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackNames = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "throttle:stats",
		ttl:    24 * time.Hour,
		bucket: BucketMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) TotalKey() string { return s.prefix + ":total" }

func (s *RedisStatsStore) RouteKey() string { return s.prefix + ":route" }

func (s *RedisStatsStore) MinuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func (s *RedisStatsStore) NameKey(name domain.Name) string {
	return s.prefix + ":name:" + string(name)
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// Record implementa domain.StatsStore.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	out := outcome(ev.Allowed)
	fields := []string{out}
	if ev.Policy != "" {
		fields = append(fields, string(ev.Policy)+":"+out)
	}

	pipe := s.rdb.Pipeline()
	incr := func(key string, expire bool) {
		for _, f := range fields {
			pipe.HIncrBy(ctx, key, f, 1)
		}
		if expire && s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	incr(s.TotalKey(), false)
	if s.bucket == BucketMinute {
		incr(s.MinuteKey(at), true)
	}
	if s.trackNames {
		if n := strings.TrimSpace(string(ev.Name)); n != "" {
			incr(s.NameKey(domain.Name(n)), true)
		}
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.RouteKey(), route+":"+out, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// StatsSnapshot é o conteúdo de um hash de estatísticas já somado.
type StatsSnapshot struct {
	All      Counters                       `json:"all"`
	ByPolicy map[domain.PolicyKind]Counters `json:"byPolicy,omitempty"`
}

// Totals lê o hash cumulativo.
func (s *RedisStatsStore) Totals(ctx context.Context) (StatsSnapshot, error) {
	return s.snapshot(ctx, s.TotalKey())
}

// Minute lê o bucket do minuto que contém at. Bucket expirado vem zerado.
func (s *RedisStatsStore) Minute(ctx context.Context, at time.Time) (StatsSnapshot, error) {
	return s.snapshot(ctx, s.MinuteKey(at))
}

// ForName lê o hash de um nome; só tem dados com WithStatsTrackNames(true).
func (s *RedisStatsStore) ForName(ctx context.Context, name domain.Name) (StatsSnapshot, error) {
	return s.snapshot(ctx, s.NameKey(name))
}

func (s *RedisStatsStore) snapshot(ctx context.Context, key string) (StatsSnapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return StatsSnapshot{}, err
	}
	return parseSnapshot(key, fields)
}

func parseSnapshot(key string, fields map[string]string) (StatsSnapshot, error) {
	snap := StatsSnapshot{ByPolicy: make(map[domain.PolicyKind]Counters)}
	for f, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return StatsSnapshot{}, fmt.Errorf("%s: field %q: %w", key, f, err)
		}

		policy, out, qualified := strings.Cut(f, ":")
		if !qualified {
			snap.All.addN(f, n)
			continue
		}
		c := snap.ByPolicy[domain.PolicyKind(policy)]
		c.addN(out, n)
		snap.ByPolicy[domain.PolicyKind(policy)] = c
	}
	return snap, nil
}
