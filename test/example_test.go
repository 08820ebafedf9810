package test

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/store"
	"github.com/redis/go-redis/v9"
)

// ExampleNew builds an Engine with shared rate-limit counters in Redis.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	engine, err := marketauth.New().
		WithStore(store.NewMemory()).
		WithRedis(rdb).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()
}

// ExampleEngine_Login shows the two possible login outcomes and rate-limit
// handling.
func ExampleEngine_Login() {
	var engine *marketauth.Engine

	res, err := engine.Login(context.Background(), "buyer@example.com", "password", "Mozilla/5.0", "203.0.113.5")
	var limited *marketauth.RateLimitError
	switch {
	case errors.As(err, &limited):
		fmt.Println("retry after", limited.RetryAfterSeconds(), "seconds")
	case err != nil:
		return
	case res.TwoFactorRequired:
		_ = res.Ticket // exchange through CompleteTwoFactorLogin
	default:
		_ = res.Session.Token // set as the auth_session cookie
	}
}

// ExampleEngine_MetricsSnapshot reads the in-process counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *marketauth.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[marketauth.MetricLoginFailure]
}
