package billing

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabrix/colabrix/pkg/entitlements"
)

func TestUpsertPlanRejectsUnknownPlan(t *testing.T) {
	svc, _, _, cleanup := setupBillingTest(t)
	defer cleanup()

	err := svc.UpsertPlan(context.Background(), &PlanInfo{Plan: entitlements.Plan("GOLD")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plan")
}

func TestGetPlanNotFound(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM plans").
		WithArgs("PREMIUM").
		WillReturnRows(sqlmock.NewRows([]string{"plan"}))

	_, err := svc.GetPlan(context.Background(), entitlements.PlanPremium)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestListPlans(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM plans").
		WillReturnRows(sqlmock.NewRows([]string{
			"plan", "name", "price_cents", "interval", "active", "created_at", "updated_at",
		}).
			AddRow("FREE", "Free", int64(0), "month", true, testNow, testNow).
			AddRow("STANDARD", "Standard", int64(2900), "month", true, testNow, testNow))

	plans, err := svc.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, entitlements.PlanFree, plans[0].Plan)
	assert.Equal(t, int64(2900), plans[1].PriceCents)
}

func TestDeactivatePlanInUse(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT(.+) FROM organizations").
		WithArgs("STANDARD").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	err := svc.DeactivatePlan(context.Background(), entitlements.PlanStandard)
	assert.ErrorIs(t, err, ErrPlanInUse)
}

func TestDeactivatePlan(t *testing.T) {
	svc, mock, _, cleanup := setupBillingTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT(.+) FROM organizations").
		WithArgs("PREMIUM").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE plans").
		WithArgs(testNow, "PREMIUM").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeactivatePlan(context.Background(), entitlements.PlanPremium))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultPlanCatalogCoversAllPlans(t *testing.T) {
	catalog := DefaultPlanCatalog()
	require.Len(t, catalog, 4)

	seen := make(map[entitlements.Plan]bool)
	for _, p := range catalog {
		assert.True(t, p.Plan.Valid(), "catalog entry %q", p.Plan)
		assert.True(t, p.Active)
		seen[p.Plan] = true
	}
	assert.True(t, seen[entitlements.PlanFree])
	assert.True(t, seen[entitlements.PlanEnterprise])
	assert.Equal(t, int64(0), catalog[0].PriceCents)
}
