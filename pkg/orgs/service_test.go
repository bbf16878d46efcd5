package orgs

import (
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabrix/colabrix/pkg/cache"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/rbac"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func setupServiceTest(t *testing.T) (*Service, sqlmock.Sqlmock, *miniredis.Miniredis, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := postgres.NewRedisClientFromExisting(redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	}))
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	rbacStore := rbac.NewStore(db)
	permissions := rbac.NewResolver(rbacStore,
		cache.New("permissions", client, logger, nil), 5*time.Minute, logger, nil)
	ent := entitlements.NewResolver(entitlements.NewStore(db),
		cache.New("entitlements", client, logger, nil), client, 10*time.Minute, logger, nil)

	svc := NewService(db, rbacStore, permissions, ent, logger)
	svc.now = func() time.Time { return testNow }

	return svc, mock, mr, func() {
		client.Close()
		mr.Close()
		db.Close()
	}
}

func TestCreateOrganization(t *testing.T) {
	svc, mock, _, cleanup := setupServiceTest(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Three system roles, then the owner membership.
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO roles").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	org, err := svc.CreateOrganization(context.Background(), "Acme Corp", "u1")
	require.NoError(t, err)

	assert.NotEmpty(t, org.ID)
	assert.Equal(t, entitlements.PlanStandard, org.Plan)
	assert.True(t, strings.HasPrefix(org.Slug, "acme-corp-"))
	require.NotNil(t, org.TrialEndsAt)
	assert.Equal(t, testNow.Add(TrialDuration), *org.TrialEndsAt)
	assert.True(t, org.Trialing(testNow))
	assert.False(t, org.Trialing(testNow.Add(15*24*time.Hour)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrganizationRollsBackOnFailure(t *testing.T) {
	svc, mock, _, cleanup := setupServiceTest(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO roles").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, err := svc.CreateOrganization(context.Background(), "Acme Corp", "u1")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrganizationNotFound(t *testing.T) {
	svc, mock, _, cleanup := setupServiceTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "plan", "owner_id", "trial_ends_at", "settings", "created_at", "updated_at"}))

	_, err := svc.GetOrganization(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestGetOrganization(t *testing.T) {
	svc, mock, _, cleanup := setupServiceTest(t)
	defer cleanup()

	trialEnd := testNow.Add(10 * 24 * time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "plan", "owner_id", "trial_ends_at", "settings", "created_at", "updated_at"}).
			AddRow("o1", "Acme Corp", "acme-corp-abc12345", "STANDARD", "u1", trialEnd, []byte(`{"theme":"dark"}`), testNow, testNow))

	org, err := svc.GetOrganization(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanStandard, org.Plan)
	assert.Equal(t, "dark", org.Settings["theme"])
	require.NotNil(t, org.TrialEndsAt)
	assert.True(t, org.Trialing(testNow))
}

func TestChangePlanInvalidatesEntitlements(t *testing.T) {
	svc, mock, mr, cleanup := setupServiceTest(t)
	defer cleanup()

	require.NoError(t, mr.Set("org:o1:features", `{"plan":"STANDARD"}`))

	mock.ExpectExec("UPDATE organizations").
		WithArgs("PREMIUM", sqlmock.AnyArg(), "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.ChangePlan(context.Background(), "o1", entitlements.PlanPremium))
	assert.False(t, mr.Exists("org:o1:features"))
}

func TestChangePlanUnknownPlan(t *testing.T) {
	svc, _, _, cleanup := setupServiceTest(t)
	defer cleanup()

	err := svc.ChangePlan(context.Background(), "o1", entitlements.Plan("GOLD"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plan")
}

func TestChangePlanOrganizationNotFound(t *testing.T) {
	svc, mock, _, cleanup := setupServiceTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE organizations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.ChangePlan(context.Background(), "ghost", entitlements.PlanFree)
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestGenerateSlug(t *testing.T) {
	slug := generateSlug("  Acme Corp & Friends!  ")
	assert.True(t, strings.HasPrefix(slug, "acme-corp-friends-"), "got %q", slug)
	assert.NotEqual(t, generateSlug("Acme"), generateSlug("Acme"))
	assert.True(t, strings.HasPrefix(generateSlug("!!!"), "org-"))
}

func TestDeleteOrganizationInvalidatesCaches(t *testing.T) {
	svc, mock, mr, cleanup := setupServiceTest(t)
	defer cleanup()

	require.NoError(t, mr.Set("org:o1:features", "{}"))
	require.NoError(t, mr.Set("user:u1:org:o1:permissions", "{}"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM organizations WHERE id = $1")).
		WithArgs("o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteOrganization(context.Background(), "o1"))
	assert.False(t, mr.Exists("org:o1:features"))
	assert.False(t, mr.Exists("user:u1:org:o1:permissions"))
}
