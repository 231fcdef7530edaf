package testutil

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCandidates are tried in order when REDIS_ADDR is unset.
var redisCandidates = []string{"redis:6379", "localhost:6379", "localhost:56379"}

// SetupTestRedis connects to the first reachable Redis, selects TEST_REDIS_DB
// (default 1) and flushes it. The test is skipped when no Redis answers unless
// TEST_REQUIRE_REDIS is set. The client is closed when the test ends.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addrs := redisCandidates
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		addrs = []string{addr}
	}
	db := 1
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			db = i
		}
	}

	for _, addr := range addrs {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx).Err()
		if err == nil {
			err = client.FlushDB(ctx).Err()
		}
		cancel()
		if err != nil {
			t.Logf("redis not available at %s: %v", addr, err)
			closeAndLog(t, "redis client", client)
			continue
		}
		t.Cleanup(func() { closeAndLog(t, "redis client", client) })
		return client
	}

	if requireRedis() {
		t.Fatal("redis not available for testing")
	}
	t.Skip("redis not available for testing")
	return nil
}
