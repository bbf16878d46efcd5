package rbac

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabrix/colabrix/pkg/cache"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

func setupResolverTest(t *testing.T) (*Resolver, sqlmock.Sqlmock, *miniredis.Miniredis, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := postgres.NewRedisClientFromExisting(redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	}))
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	resolver := NewResolver(
		NewStore(db),
		cache.New("permissions", client, logger, nil),
		5*time.Minute,
		logger,
		nil,
	)

	return resolver, mock, mr, func() {
		client.Close()
		mr.Close()
		db.Close()
	}
}

func expectPermissionQuery(t *testing.T, mock sqlmock.Sqlmock, userID, orgID string, perms []Permission) {
	t.Helper()
	mock.ExpectQuery(regexp.QuoteMeta("JOIN roles r ON r.id = m.role_id")).
		WithArgs(userID, orgID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "permissions"}).
			AddRow("r1", RoleViewer, permissionsJSON(t, perms)))
}

func TestResolveCachesPermissionSet(t *testing.T) {
	resolver, mock, _, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)

	// First call loads from the database, second is served from Redis.
	for i := 0; i < 2; i++ {
		ps, err := resolver.Resolve(ctx, "u1", "o1")
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, ps.RoleName)
		assert.Equal(t, perms, ps.Permissions)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveExpiresAfterTTL(t *testing.T) {
	resolver, mock, mr, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)
	expectPermissionQuery(t, mock, "u1", "o1", perms)

	_, err := resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)

	mr.FastForward(6 * time.Minute)

	_, err = resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveNotAMemberNeverCached(t *testing.T) {
	resolver, mock, mr, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	empty := sqlmock.NewRows([]string{"id", "name", "permissions"})
	mock.ExpectQuery(regexp.QuoteMeta("JOIN roles r ON r.id = m.role_id")).
		WithArgs("u1", "o1").
		WillReturnRows(empty)

	_, err := resolver.Resolve(ctx, "u1", "o1")
	assert.True(t, IsNotAMember(err))
	assert.False(t, mr.Exists(permissionsKey("u1", "o1")))

	// The user gets added; the very next resolve sees the membership.
	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)

	ps, err := resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, ps.RoleName)
}

func TestResolveFallsBackToStoreWhenRedisDown(t *testing.T) {
	resolver, mock, mr, cleanup := setupResolverTest(t)
	defer cleanup()

	mr.Close()

	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)

	ps, err := resolver.Resolve(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, perms, ps.Permissions)
}

func TestCheck(t *testing.T) {
	resolver, mock, _, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)

	err := resolver.Check(ctx, "u1", "o1", Permission{Resource: ResourceProjects, Action: ActionRead})
	assert.NoError(t, err)

	// Same cached set, different permission.
	err = resolver.Check(ctx, "u1", "o1", Permission{Resource: ResourceProjects, Action: ActionDelete})
	assert.True(t, IsPermissionDenied(err))
}

func TestCheckNotAMember(t *testing.T) {
	resolver, mock, _, cleanup := setupResolverTest(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN roles r ON r.id = m.role_id")).
		WithArgs("outsider", "o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "permissions"}))

	err := resolver.Check(context.Background(), "outsider", "o1", Permission{Resource: ResourceProjects, Action: ActionRead})
	assert.True(t, IsNotAMember(err))
	assert.False(t, IsPermissionDenied(err))
}

func TestInvalidateUser(t *testing.T) {
	resolver, mock, mr, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	viewerPerms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", viewerPerms)

	_, err := resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)
	require.True(t, mr.Exists(permissionsKey("u1", "o1")))

	require.NoError(t, resolver.InvalidateUser(ctx, "u1", "o1"))
	assert.False(t, mr.Exists(permissionsKey("u1", "o1")))

	// Next resolve reflects a role change immediately.
	adminPerms := AllPermissions()
	mock.ExpectQuery(regexp.QuoteMeta("JOIN roles r ON r.id = m.role_id")).
		WithArgs("u1", "o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "permissions"}).
			AddRow("r2", RoleAdmin, permissionsJSON(t, adminPerms)))

	ps, err := resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, ps.RoleName)
}

func TestInvalidateRoleFansOutToMembers(t *testing.T) {
	resolver, mock, mr, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)
	expectPermissionQuery(t, mock, "u2", "o1", perms)

	_, err := resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, "u2", "o1")
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "organization_id", "role_id", "invited_by", "joined_at"}).
			AddRow("m1", "u1", "o1", "r1", nil, now).
			AddRow("m2", "u2", "o1", "r1", nil, now))

	require.NoError(t, resolver.InvalidateRole(ctx, "r1"))
	assert.False(t, mr.Exists(permissionsKey("u1", "o1")))
	assert.False(t, mr.Exists(permissionsKey("u2", "o1")))
}

func TestInvalidateOrganization(t *testing.T) {
	resolver, mock, mr, cleanup := setupResolverTest(t)
	defer cleanup()

	ctx := context.Background()
	perms := []Permission{{Resource: ResourceProjects, Action: ActionRead}}
	expectPermissionQuery(t, mock, "u1", "o1", perms)

	_, err := resolver.Resolve(ctx, "u1", "o1")
	require.NoError(t, err)

	require.NoError(t, resolver.InvalidateOrganization(ctx, "o1"))
	assert.False(t, mr.Exists(permissionsKey("u1", "o1")))
}
