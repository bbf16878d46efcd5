package billing

import (
	"context"
	"io"
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
	"github.com/colabrix/colabrix/pkg/orgs"
	"github.com/colabrix/colabrix/pkg/rbac"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func setupBillingTest(t *testing.T) (*Service, sqlmock.Sqlmock, *miniredis.Miniredis, func()) {
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
	orgService := orgs.NewService(db, rbacStore, permissions, ent, logger)

	svc := NewService(db, orgService, ent, logger)
	svc.now = func() time.Time { return testNow }

	return svc, mock, mr, func() {
		client.Close()
		mr.Close()
		db.Close()
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.GetSubscription(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestGetSubscription(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "plan", "status", "provider_customer_id",
			"provider_subscription_id", "current_period_start", "current_period_end",
			"canceled_at", "created_at", "updated_at",
		}).AddRow("s1", "o1", "PREMIUM", "active", "cus_1", "sub_1",
			testNow, testNow.AddDate(0, 1, 0), nil, testNow, testNow))

	sub, err := svc.GetSubscription(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanPremium, sub.Plan)
	assert.True(t, sub.Active())
	assert.Nil(t, sub.CanceledAt)
}

func TestApplyPaymentSuccess(t *testing.T) {
	svc, mock, mr, cleanup := setupBillingTest(t)
	defer cleanup()

	require.NoError(t, mr.Set("org:o1:features", `{"plan":"STANDARD"}`))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectExec("UPDATE organizations").
		WithArgs("PREMIUM", testNow, "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := svc.ApplyPaymentSuccess(context.Background(), PaymentSuccess{
		OrganizationID:         "o1",
		Plan:                   entitlements.PlanPremium,
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", sub.ID)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, testNow.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	assert.False(t, mr.Exists("org:o1:features"), "entitlements should be invalidated after commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentSuccessUnknownOrganization(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectExec("UPDATE organizations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.ApplyPaymentSuccess(context.Background(), PaymentSuccess{
		OrganizationID: "ghost",
		Plan:           entitlements.PlanPremium,
	})
	assert.ErrorIs(t, err, orgs.ErrOrganizationNotFound)
}

func TestApplyPaymentSuccessUnknownPlan(t *testing.T) {
	svc, _, _, cleanup := setupBillingTest(t)
	defer cleanup()

	_, err := svc.ApplyPaymentSuccess(context.Background(), PaymentSuccess{
		OrganizationID: "o1",
		Plan:           entitlements.Plan("GOLD"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plan")
}

func TestApplyPaymentFailure(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs("past_due", testNow, "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.ApplyPaymentFailure(context.Background(), "o1"))
}

func TestApplyPaymentFailureNoSubscription(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.ApplyPaymentFailure(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestCancelSubscriptionDowngradesToFree(t *testing.T) {
	svc, mock, mr, cleanup := setupBillingTest(t)
	defer cleanup()

	require.NoError(t, mr.Set("org:o1:features", `{"plan":"PREMIUM"}`))

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs("canceled", testNow, "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE organizations").
		WithArgs("FREE", sqlmock.AnyArg(), "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.CancelSubscription(context.Background(), "o1"))
	assert.False(t, mr.Exists("org:o1:features"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTrialExpiry(t *testing.T) {
	svc, mock, mr, cleanup := setupBillingTest(t)
	defer cleanup()

	require.NoError(t, mr.Set("org:o1:features", "{}"))
	require.NoError(t, mr.Set("org:o2:features", "{}"))

	// Downgrades run on a worker pool, so the UPDATEs can land in any order.
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o1").AddRow("o2"))
	mock.ExpectExec("UPDATE organizations").
		WithArgs("FREE", sqlmock.AnyArg(), "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE organizations").
		WithArgs("FREE", sqlmock.AnyArg(), "o2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	downgraded, err := svc.CheckTrialExpiry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, downgraded)
	assert.False(t, mr.Exists("org:o1:features"))
	assert.False(t, mr.Exists("org:o2:features"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTrialExpiryNothingToDo(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	downgraded, err := svc.CheckTrialExpiry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, downgraded)
}

func TestCheckTrialExpiryPartialFailure(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o1").AddRow("o2"))
	mock.ExpectExec("UPDATE organizations").
		WithArgs("FREE", sqlmock.AnyArg(), "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE organizations").
		WithArgs("FREE", sqlmock.AnyArg(), "o2").
		WillReturnError(context.DeadlineExceeded)

	downgraded, err := svc.CheckTrialExpiry(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, downgraded)
}
