package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colabrix/colabrix/pkg/async"
	"github.com/colabrix/colabrix/pkg/entitlements"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/orgs"
)

const trialSweepTimeout = 30 * time.Second

// Service manages the plan catalog and subscription state
type Service struct {
	db           *sql.DB
	orgs         *orgs.Service
	entitlements *entitlements.Resolver
	logger       *observability.Logger
	now          func() time.Time
}

// NewService creates a billing service
func NewService(db *sql.DB, orgService *orgs.Service, ent *entitlements.Resolver, logger *observability.Logger) *Service {
	return &Service{
		db:           db,
		orgs:         orgService,
		entitlements: ent,
		logger:       logger,
		now:          time.Now,
	}
}

// UpsertPlan creates or updates a plan catalog entry
func (s *Service) UpsertPlan(ctx context.Context, plan *PlanInfo) error {
	if !plan.Plan.Valid() {
		return fmt.Errorf("unknown plan %q", plan.Plan)
	}

	query := `
		INSERT INTO plans (plan, name, price_cents, interval, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (plan) DO UPDATE
		SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
		    interval = EXCLUDED.interval, active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		plan.Plan, plan.Name, plan.PriceCents, plan.Interval, plan.Active, s.now(),
	); err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}

	return nil
}

// GetPlan retrieves a plan catalog entry
func (s *Service) GetPlan(ctx context.Context, plan entitlements.Plan) (*PlanInfo, error) {
	query := `
		SELECT plan, name, price_cents, interval, active, created_at, updated_at
		FROM plans
		WHERE plan = $1
	`

	info := &PlanInfo{}
	err := s.db.QueryRowContext(ctx, query, plan).Scan(
		&info.Plan, &info.Name, &info.PriceCents, &info.Interval,
		&info.Active, &info.CreatedAt, &info.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return info, nil
}

// ListPlans lists the active plan catalog
func (s *Service) ListPlans(ctx context.Context) ([]PlanInfo, error) {
	query := `
		SELECT plan, name, price_cents, interval, active, created_at, updated_at
		FROM plans
		WHERE active = TRUE
		ORDER BY price_cents
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []PlanInfo
	for rows.Next() {
		var info PlanInfo
		if err := rows.Scan(
			&info.Plan, &info.Name, &info.PriceCents, &info.Interval,
			&info.Active, &info.CreatedAt, &info.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, info)
	}

	return plans, rows.Err()
}

// DeactivatePlan retires a plan from the catalog. Plans with
// organizations still on them cannot be retired.
func (s *Service) DeactivatePlan(ctx context.Context, plan entitlements.Plan) error {
	var orgCount int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organizations WHERE plan = $1`, plan,
	).Scan(&orgCount); err != nil {
		return fmt.Errorf("failed to count plan organizations: %w", err)
	}
	if orgCount > 0 {
		return fmt.Errorf("%w: %d organizations", ErrPlanInUse, orgCount)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET active = FALSE, updated_at = $1 WHERE plan = $2`,
		s.now(), plan,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate plan: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate plan: %w", err)
	}
	if affected == 0 {
		return ErrPlanNotFound
	}

	return nil
}

// GetSubscription retrieves an organization's subscription
func (s *Service) GetSubscription(ctx context.Context, organizationID string) (*Subscription, error) {
	query := `
		SELECT id, organization_id, plan, status, provider_customer_id,
		       provider_subscription_id, current_period_start, current_period_end,
		       canceled_at, created_at, updated_at
		FROM subscriptions
		WHERE organization_id = $1
	`

	sub := &Subscription{}
	var canceledAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, organizationID).Scan(
		&sub.ID, &sub.OrganizationID, &sub.Plan, &sub.Status,
		&sub.ProviderCustomerID, &sub.ProviderSubscriptionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&canceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if canceledAt.Valid {
		at := canceledAt.Time
		sub.CanceledAt = &at
	}

	return sub, nil
}

// PaymentSuccess carries the provider outcome for a settled payment
type PaymentSuccess struct {
	OrganizationID         string
	Plan                   entitlements.Plan
	ProviderCustomerID     string
	ProviderSubscriptionID string
}

// ApplyPaymentSuccess records a settled payment: the subscription is
// upserted as active, the organization moves to the paid plan and its
// trial deadline is cleared, all in one transaction. Cached
// entitlements are dropped after commit so the new plan is visible on
// the next check.
func (s *Service) ApplyPaymentSuccess(ctx context.Context, payment PaymentSuccess) (*Subscription, error) {
	if !payment.Plan.Valid() {
		return nil, fmt.Errorf("unknown plan %q", payment.Plan)
	}

	now := s.now()
	sub := &Subscription{
		ID:                     uuid.NewString(),
		OrganizationID:         payment.OrganizationID,
		Plan:                   payment.Plan,
		Status:                 SubscriptionStatusActive,
		ProviderCustomerID:     payment.ProviderCustomerID,
		ProviderSubscriptionID: payment.ProviderSubscriptionID,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO subscriptions (id, organization_id, plan, status, provider_customer_id,
			provider_subscription_id, current_period_start, current_period_end,
			canceled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $9)
		ON CONFLICT (organization_id) DO UPDATE
		SET plan = EXCLUDED.plan, status = EXCLUDED.status,
		    provider_customer_id = EXCLUDED.provider_customer_id,
		    provider_subscription_id = EXCLUDED.provider_subscription_id,
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end,
		    canceled_at = NULL, updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query,
		sub.ID, sub.OrganizationID, sub.Plan, sub.Status,
		sub.ProviderCustomerID, sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now,
	).Scan(&sub.ID); err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE organizations
		SET plan = $1, trial_ends_at = NULL, updated_at = $2
		WHERE id = $3
	`, sub.Plan, now, sub.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to update organization plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update organization plan: %w", err)
	}
	if affected == 0 {
		return nil, orgs.ErrOrganizationNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	if err := s.entitlements.InvalidateOrganization(ctx, sub.OrganizationID); err != nil {
		s.logger.WithError(err).WithField("organization_id", sub.OrganizationID).
			Warn("failed to invalidate entitlements after payment")
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": sub.OrganizationID,
		"plan":            string(sub.Plan),
	}).Info("payment applied")

	return sub, nil
}

// ApplyPaymentFailure marks an organization's subscription past due.
// The plan is left untouched; repeated failures end in cancellation.
func (s *Service) ApplyPaymentFailure(ctx context.Context, organizationID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE organization_id = $3
	`, SubscriptionStatusPastDue, s.now(), organizationID)
	if err != nil {
		return fmt.Errorf("failed to mark subscription past due: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark subscription past due: %w", err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

// CancelSubscription cancels an organization's subscription and
// downgrades it to the FREE plan.
func (s *Service) CancelSubscription(ctx context.Context, organizationID string) error {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $1, canceled_at = $2, updated_at = $2
		WHERE organization_id = $3
	`, SubscriptionStatusCanceled, now, organizationID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}

	if err := s.orgs.ChangePlan(ctx, organizationID, entitlements.PlanFree); err != nil {
		return fmt.Errorf("failed to downgrade organization: %w", err)
	}

	s.logger.WithField("organization_id", organizationID).Info("subscription canceled")
	return nil
}

// CheckTrialExpiry sweeps organizations whose trial deadline passed
// without an active subscription and downgrades them to FREE. The
// jobs binary runs this hourly. Returns the number downgraded.
func (s *Service) CheckTrialExpiry(ctx context.Context) (int, error) {
	query := `
		SELECT o.id
		FROM organizations o
		LEFT JOIN subscriptions s ON s.organization_id = o.id AND s.status = 'active'
		WHERE o.trial_ends_at IS NOT NULL AND o.trial_ends_at < $1 AND s.id IS NULL
	`

	rows, err := s.db.QueryContext(ctx, query, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired trials: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan expired trial: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to list expired trials: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	errs := async.Batch(ctx, expired, 4, "trial expiry", trialSweepTimeout,
		func(ctx context.Context, organizationID string) error {
			if err := s.orgs.ChangePlan(ctx, organizationID, entitlements.PlanFree); err != nil {
				return fmt.Errorf("organization %s: %w", organizationID, err)
			}
			s.logger.WithField("organization_id", organizationID).Info("trial expired, downgraded to FREE")
			return nil
		})

	downgraded := len(expired) - len(errs)
	for _, err := range errs {
		s.logger.WithError(err).Warn("trial downgrade failed")
	}
	if len(errs) > 0 {
		return downgraded, fmt.Errorf("trial sweep: %d of %d downgrades failed", len(errs), len(expired))
	}

	return downgraded, nil
}
