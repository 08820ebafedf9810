//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/mailer"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the Redis backends to test. miniredis is always
// available; a real server is added when REDIS_ADDR is set and a cluster
// when REDIS_CLUSTER_ADDRS is.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func integrationConfig() marketauth.Config {
	cfg := marketauth.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.MaxEnumerationDelay = 0
	return cfg
}

func buildEngine(t *testing.T, st marketauth.Store, rdb redis.UniversalClient) (*marketauth.Engine, *mailer.Recorder) {
	t.Helper()

	mail := mailer.NewRecorder()
	b := marketauth.New().
		WithConfig(integrationConfig()).
		WithStore(st).
		WithMailer(mail)
	if rdb != nil {
		b.WithRedis(rdb)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mail
}
