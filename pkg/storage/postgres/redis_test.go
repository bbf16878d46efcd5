package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/colabrix/colabrix/pkg/storage"
)

// setupRedisClientTest creates a miniredis instance and returns the client and cleanup function
func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	config := storage.DefaultConfig()
	config.RedisURL = "redis://" + mr.Addr()

	client, err := NewRedisClient(config)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	config := storage.DefaultConfig()
	config.RedisURL = "invalid://url"

	_, err := NewRedisClient(config)
	if err == nil {
		t.Fatal("Expected error for invalid Redis URL")
	}
}

func TestRedisClient_GetMiss(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	data, err := client.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get on missing key should not error, got: %v", err)
	}
	if data != nil {
		t.Fatalf("Expected nil on miss, got %q", data)
	}
}

func TestRedisClient_SetGet(t *testing.T) {
	client, mr, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()
	if err := client.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, err := client.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "v" {
		t.Fatalf("Expected %q, got %q", "v", data)
	}

	// Value disappears after the TTL elapses.
	mr.FastForward(2 * time.Minute)
	data, err = client.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after expiry failed: %v", err)
	}
	if data != nil {
		t.Fatal("Expected miss after TTL expiry")
	}
}

func TestRedisClient_DelIdempotent(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()
	if err := client.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	// Second delete of the same key succeeds.
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("Del of absent key should succeed, got: %v", err)
	}
}

func TestRedisClient_IncrBy(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrBy(ctx, "counter", 1)
		if err != nil {
			t.Fatalf("IncrBy failed: %v", err)
		}
		if got != want {
			t.Fatalf("Expected %d, got %d", want, got)
		}
	}
}

func TestRedisClient_SetOperations(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()
	if err := client.SAdd(ctx, "idx", "a", "b"); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}

	members, err := client.SMembers(ctx, "idx")
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}

	if err := client.SRem(ctx, "idx", "a"); err != nil {
		t.Fatalf("SRem failed: %v", err)
	}
	members, err = client.SMembers(ctx, "idx")
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("Expected [b], got %v", members)
	}
}

func TestRedisClient_DeleteByPattern(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()
	for _, key := range []string{"org:1:features", "org:2:features", "unrelated"} {
		if err := client.Set(ctx, key, []byte("x"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	deleted, err := client.DeleteByPattern(ctx, "org:*:features")
	if err != nil {
		t.Fatalf("DeleteByPattern failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("Expected 2 keys deleted, got %d", deleted)
	}

	data, err := client.Get(ctx, "org:1:features")
	if err != nil || data != nil {
		t.Fatalf("Expected org keys deleted, got data=%q err=%v", data, err)
	}
	data, err = client.Get(ctx, "unrelated")
	if err != nil || string(data) != "x" {
		t.Fatalf("Expected unrelated key to survive, got data=%q err=%v", data, err)
	}
}

func TestRedisClient_UnavailableWrapsError(t *testing.T) {
	client, mr, cleanup := setupRedisClientTest(t)
	defer cleanup()

	mr.Close()

	_, err := client.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("Expected error after redis shutdown")
	}
	if !storage.IsCacheUnavailable(err) {
		t.Fatalf("Expected ErrCacheUnavailable, got: %v", err)
	}
}

func TestParseReplicaURLs(t *testing.T) {
	urls := ParseReplicaURLs(" postgres://a , postgres://b ,")
	if len(urls) != 2 || urls[0] != "postgres://a" || urls[1] != "postgres://b" {
		t.Fatalf("Unexpected parse result: %v", urls)
	}
	if got := ParseReplicaURLs(""); got != nil {
		t.Fatalf("Expected nil for empty input, got %v", got)
	}
}
