// Package cli implementa o throttlectl: abrir, inspecionar e zerar throttles
// guardados no Redis, e ler as estatísticas gravadas pelo gateway.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"throttle-gateway/internal/config"
	"throttle-gateway/internal/redisconn"
	"throttle-gateway/middleware/throttle/infra"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	output  string

	cfg   config.Config
	rdb   *redis.Client
	mgr   *infra.RedisManager
	stats *infra.RedisStatsStore
}

// NewRootCmd monta a árvore de comandos.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "throttlectl",
		Short:         "Operate distributed throttles stored in Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.rdb != nil {
				_ = a.rdb.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml/json/toml)")
	pf.String("redis-addr", "", "redis address (overrides redis.addr)")
	pf.String("key-prefix", "", "redis key prefix (overrides throttle.keyPrefix)")
	pf.StringVarP(&a.output, "output", "o", "table", "output format: table|json")
	_ = a.v.BindPFlag("redis.addr", pf.Lookup("redis-addr"))
	_ = a.v.BindPFlag("throttle.keyPrefix", pf.Lookup("key-prefix"))

	root.AddCommand(newOpenCmd(a), newInspectCmd(a), newResetCmd(a), newStatsCmd(a))
	return root
}

// Execute roda o comando raiz com o contexto dado.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) setup(ctx context.Context) error {
	switch a.output {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported output format: %s", a.output)
	}

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %q: %w", a.cfgFile, err)
		}
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis address is required (--redis-addr or redis.addr)")
	}
	a.cfg = cfg

	a.rdb = redisconn.New(cfg.Redis)
	a.stats = infra.NewRedisStatsStore(a.rdb,
		infra.WithStatsPrefix(cfg.Stats.Prefix),
		infra.WithStatsBucket(cfg.Stats.Bucket),
	)
	a.mgr, err = infra.NewRedisManager(a.rdb,
		infra.WithPrefix(cfg.Throttle.KeyPrefix),
		infra.WithTimeout(cfg.Throttle.Timeout),
		infra.WithTTL(cfg.Throttle.TTL),
	)
	return err
}
