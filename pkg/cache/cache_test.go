package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

type fakePermissions struct {
	RoleName    string   `json:"role_name"`
	Permissions []string `json:"permissions"`
}

func setupCacheTest(t *testing.T) (*Cache, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := postgres.NewRedisClientFromExisting(redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	}))
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	c := New("permissions", client, logger, nil)
	return c, mr, func() {
		client.Close()
		mr.Close()
	}
}

func TestGetOrLoadMissThenHit(t *testing.T) {
	c, _, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	loads := 0
	loader := func(ctx context.Context) (fakePermissions, bool, error) {
		loads++
		return fakePermissions{RoleName: "Admin", Permissions: []string{"projects:read"}}, true, nil
	}

	got, found, err := GetOrLoad(ctx, c, "user:u1:org:o1:permissions", 5*time.Minute, loader)
	if err != nil || !found {
		t.Fatalf("First GetOrLoad failed: found=%v err=%v", found, err)
	}
	if got.RoleName != "Admin" {
		t.Fatalf("Expected Admin, got %q", got.RoleName)
	}

	got, found, err = GetOrLoad(ctx, c, "user:u1:org:o1:permissions", 5*time.Minute, loader)
	if err != nil || !found {
		t.Fatalf("Second GetOrLoad failed: found=%v err=%v", found, err)
	}
	if got.RoleName != "Admin" {
		t.Fatalf("Expected Admin from cache, got %q", got.RoleName)
	}
	if loads != 1 {
		t.Fatalf("Expected loader to run once, ran %d times", loads)
	}
}

func TestGetOrLoadTTLExpiry(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	loads := 0
	loader := func(ctx context.Context) (string, bool, error) {
		loads++
		return "value", true, nil
	}

	if _, _, err := GetOrLoad(ctx, c, "k", time.Minute, loader); err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, _, err := GetOrLoad(ctx, c, "k", time.Minute, loader); err != nil {
		t.Fatalf("GetOrLoad after expiry failed: %v", err)
	}
	if loads != 2 {
		t.Fatalf("Expected loader to run again after TTL, ran %d times", loads)
	}
}

func TestGetOrLoadAbsentNotCached(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	loads := 0
	loader := func(ctx context.Context) (string, bool, error) {
		loads++
		return "", false, nil
	}

	_, found, err := GetOrLoad(ctx, c, "user:ghost:org:o1:permissions", time.Minute, loader)
	if err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	if found {
		t.Fatal("Expected not found")
	}
	if mr.Exists("user:ghost:org:o1:permissions") {
		t.Fatal("Absent result must not be cached")
	}

	if _, _, err := GetOrLoad(ctx, c, "user:ghost:org:o1:permissions", time.Minute, loader); err != nil {
		t.Fatalf("Second GetOrLoad failed: %v", err)
	}
	if loads != 2 {
		t.Fatalf("Expected loader to run each time for absent entity, ran %d times", loads)
	}
}

func TestGetOrLoadFallsBackWhenRedisDown(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	mr.Close()

	got, found, err := GetOrLoad(context.Background(), c, "k", time.Minute,
		func(ctx context.Context) (string, bool, error) {
			return "from store", true, nil
		})
	if err != nil {
		t.Fatalf("Expected fallback to loader, got error: %v", err)
	}
	if !found || got != "from store" {
		t.Fatalf("Expected store value, got found=%v value=%q", found, got)
	}
}

func TestGetOrLoadLoaderError(t *testing.T) {
	c, _, cleanup := setupCacheTest(t)
	defer cleanup()

	wantErr := errors.New("store down")
	_, _, err := GetOrLoad(context.Background(), c, "k", time.Minute,
		func(ctx context.Context) (string, bool, error) {
			return "", false, wantErr
		})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected loader error, got %v", err)
	}
}

func TestGetOrLoadDiscardsCorruptEntry(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	if err := mr.Set("k", "{not json"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	got, found, err := GetOrLoad(context.Background(), c, "k", time.Minute,
		func(ctx context.Context) (fakePermissions, bool, error) {
			return fakePermissions{RoleName: "Viewer"}, true, nil
		})
	if err != nil || !found {
		t.Fatalf("GetOrLoad failed: found=%v err=%v", found, err)
	}
	if got.RoleName != "Viewer" {
		t.Fatalf("Expected loader value after corrupt entry, got %q", got.RoleName)
	}
}

func TestInvalidate(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	if _, _, err := GetOrLoad(ctx, c, "k1", time.Minute, func(ctx context.Context) (string, bool, error) {
		return "v", true, nil
	}); err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}

	if err := c.Invalidate(ctx, "k1", "missing-key"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if mr.Exists("k1") {
		t.Fatal("Expected k1 removed")
	}
}

func TestInvalidatePattern(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	for _, key := range []string{"org:1:features", "org:2:features", "other"} {
		if err := mr.Set(key, "x"); err != nil {
			t.Fatalf("Seed failed: %v", err)
		}
	}

	n, err := c.InvalidatePattern(ctx, "org:*:features")
	if err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 keys removed, got %d", n)
	}
	if !mr.Exists("other") {
		t.Fatal("Unrelated key must survive")
	}
}
