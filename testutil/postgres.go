package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// SetupTestDB opens the database named by TEST_PG_DSN and applies migrate to
// it. It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T, migrate func(context.Context, *sql.DB) error) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if migrate != nil {
		if err := migrate(context.Background(), database); err != nil {
			database.Close()
			t.Fatalf("failed to run migrations: %v", err)
		}
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupTestRedis connects to TEST_REDIS_URL. It skips the test if the
// variable is not set or the server does not answer PING.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}
