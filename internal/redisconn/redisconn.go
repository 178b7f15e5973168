// Package redisconn cria o cliente go-redis e espera o Redis ficar disponível
// na subida do processo.
package redisconn

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// StartupWait é o tempo máximo tentando o primeiro PING (0 = uma tentativa só).
	StartupWait time.Duration `mapstructure:"startupWait"`
}

func New(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Ping tenta PING com backoff exponencial até maxWait. Só é usado na subida;
// as decisões do throttle nunca fazem retry.
func Ping(ctx context.Context, rdb redis.UniversalClient, maxWait time.Duration, logger *zap.Logger) error {
	if rdb == nil {
		return errors.New("nil redis client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}
	if maxWait <= 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("redis not ready, retrying", zap.Error(err), zap.Duration("next", next))
	})
}
