package testutil

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis returns a client for the test Redis instance, skipping the
// test when it is unavailable. Defaults to port 56379 (local test instance
// from the docker-compose test profile); CI sets TEST_REDIS_ADDR explicitly.
func SetupTestRedis(t TestingTB) redis.UniversalClient {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:56379")
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			t.Logf("test redis close failed: %v", cerr)
		}
		if requireInfra() {
			t.Fatal("Test Redis not available:", err)
		}
		t.Skip("Test Redis not available:", err)
	}
	return client
}

// TeardownTestRedis closes the test Redis client.
func TeardownTestRedis(t TestingTB, client redis.UniversalClient) {
	t.Helper()
	if client != nil {
		if err := client.Close(); err != nil {
			t.Fatal("Failed to close Redis client:", err)
		}
	}
}

func requireInfra() bool { return envBool("TEST_REQUIRE_INFRA") }
