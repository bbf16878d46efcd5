package entitlements

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/colabrix/colabrix/pkg/async"
	"github.com/colabrix/colabrix/pkg/cache"
	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

const (
	// usageTTL keeps a month's counter alive well past the month so
	// late reads and reconciliation still see it.
	usageTTL = 30 * 24 * time.Hour

	// syncTimeout bounds the detached durable mirror write.
	syncTimeout = 10 * time.Second
)

// Resolver answers plan and feature questions per organization, with
// the feature map cached in Redis and metered usage counted there.
type Resolver struct {
	store   *Store
	cache   *cache.Cache
	redis   *postgres.RedisClient
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics

	// now is swappable so tests can pin the month bucket.
	now func() time.Time
}

// NewResolver creates an entitlement resolver. metrics may be nil.
func NewResolver(store *Store, c *cache.Cache, redis *postgres.RedisClient, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cache:   c,
		redis:   redis,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func featuresKey(organizationID string) string {
	return "org:" + organizationID + ":features"
}

func usageKey(organizationID, featureKey, period string) string {
	return "org:" + organizationID + ":feature:" + featureKey + ":usage:" + period
}

// GetOrganizationFeatures returns the resolved feature map of an
// organization, from cache when fresh.
func (r *Resolver) GetOrganizationFeatures(ctx context.Context, organizationID string) (*OrgFeatures, error) {
	of, found, err := cache.GetOrLoad(ctx, r.cache, featuresKey(organizationID), r.ttl,
		func(ctx context.Context) (*OrgFeatures, bool, error) {
			plan, err := r.store.GetOrganizationPlan(ctx, organizationID)
			if err != nil {
				if IsOrganizationNotFound(err) {
					return nil, false, nil
				}
				return nil, false, err
			}

			features, err := r.store.GetPlanFeatures(ctx, plan)
			if err != nil {
				return nil, false, err
			}

			return &OrgFeatures{
				OrganizationID: organizationID,
				Plan:           plan,
				Features:       features,
			}, true, nil
		})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, organizationID)
	}
	return of, nil
}

// HasFeature reports whether the organization's plan enables the
// feature, ignoring any usage limit.
func (r *Resolver) HasFeature(ctx context.Context, organizationID, featureKey string) (bool, error) {
	of, err := r.GetOrganizationFeatures(ctx, organizationID)
	if err != nil {
		return false, err
	}
	return of.Enabled(featureKey), nil
}

// GetFeatureUsage returns the organization's usage of a metered
// feature in the current month. Redis is authoritative; on a counter
// miss or a cache outage the durable mirror is consulted, and a miss
// re-seeds the counter.
func (r *Resolver) GetFeatureUsage(ctx context.Context, organizationID, featureKey string) (int64, error) {
	period := PeriodOf(r.now())
	key := usageKey(organizationID, featureKey, period)

	data, err := r.redis.Get(ctx, key)
	if err != nil {
		if !storage.IsCacheUnavailable(err) {
			return 0, err
		}
		r.logger.WithError(err).WithField("key", key).Warn("cache unavailable, reading usage from store")
		return r.store.GetUsage(ctx, organizationID, featureKey, period)
	}

	if data != nil {
		count, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt usage counter %s: %w", key, err)
		}
		return count, nil
	}

	// No counter this month. Usually that means zero usage, but the
	// durable mirror wins if Redis lost the key mid-month.
	count, err := r.store.GetUsage(ctx, organizationID, featureKey, period)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		if err := r.redis.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), usageTTL); err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("failed to re-seed usage counter")
		}
	}
	return count, nil
}

// TrackFeatureUsage counts one or more uses of a metered feature and
// returns the new monthly total. The durable mirror is written on a
// detached goroutine; callers do not wait for Postgres. When Redis is
// down the durable row is incremented directly so usage is never lost.
func (r *Resolver) TrackFeatureUsage(ctx context.Context, organizationID, featureKey string, delta int64) (int64, error) {
	period := PeriodOf(r.now())
	key := usageKey(organizationID, featureKey, period)

	count, err := r.redis.IncrBy(ctx, key, delta)
	if err != nil {
		if !storage.IsCacheUnavailable(err) {
			return 0, err
		}
		r.logger.WithError(err).WithField("key", key).Warn("cache unavailable, counting usage in store")
		return r.store.AddUsage(ctx, organizationID, featureKey, period, delta)
	}

	// First increment of the month creates the key; give it its TTL.
	if count == delta {
		if _, err := r.redis.Expire(ctx, key, usageTTL); err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("failed to set usage counter TTL")
		}
	}

	rec := UsageRecord{
		OrganizationID: organizationID,
		FeatureKey:     featureKey,
		Period:         period,
		Count:          count,
	}
	async.SafeGo(syncTimeout, "usage sync", func(ctx context.Context) error {
		if err := r.store.UpsertUsage(ctx, rec); err != nil {
			if r.metrics != nil {
				r.metrics.UsageSyncFailuresTotal.Inc()
			}
			return err
		}
		return nil
	})

	return count, nil
}

// CheckFeatureAccess verifies that the organization may use the
// feature right now: the plan must include it and, for metered
// features, the monthly limit must not be reached yet.
func (r *Resolver) CheckFeatureAccess(ctx context.Context, organizationID, featureKey string) error {
	of, err := r.GetOrganizationFeatures(ctx, organizationID)
	if err != nil {
		r.checked(featureKey, "error")
		return err
	}

	pf := of.Feature(featureKey)
	if pf == nil || !pf.Enabled {
		r.checked(featureKey, "not_entitled")
		return &FeatureNotEntitledError{
			OrganizationID: organizationID,
			FeatureKey:     featureKey,
			Plan:           of.Plan,
		}
	}

	if pf.Limit == nil {
		r.checked(featureKey, "allowed")
		return nil
	}

	usage, err := r.GetFeatureUsage(ctx, organizationID, featureKey)
	if err != nil {
		r.checked(featureKey, "error")
		return err
	}

	if usage >= *pf.Limit {
		r.checked(featureKey, "limit_exceeded")
		if r.metrics != nil {
			r.metrics.UsageLimitHitsTotal.WithLabelValues(featureKey).Inc()
		}
		return &UsageLimitExceededError{
			OrganizationID: organizationID,
			FeatureKey:     featureKey,
			Current:        usage,
			Limit:          *pf.Limit,
		}
	}

	r.checked(featureKey, "allowed")
	return nil
}

// InvalidateOrganization drops the cached feature map after a plan
// change. Usage counters survive; they belong to the month, not the
// plan.
func (r *Resolver) InvalidateOrganization(ctx context.Context, organizationID string) error {
	return r.cache.Invalidate(ctx, featuresKey(organizationID))
}

// SyncUsageToStore walks every live usage counter in Redis and writes
// it to the durable table. The jobs binary runs this periodically as a
// safety net behind the per-increment detached writes.
func (r *Resolver) SyncUsageToStore(ctx context.Context) (int, error) {
	keys, err := r.redis.ScanKeys(ctx, "org:*:feature:*:usage:*")
	if err != nil {
		return 0, fmt.Errorf("sync usage: %w", err)
	}

	synced := 0
	for _, key := range keys {
		organizationID, featureKey, period, ok := parseUsageKey(key)
		if !ok {
			continue
		}

		data, err := r.redis.Get(ctx, key)
		if err != nil {
			return synced, fmt.Errorf("sync usage: %w", err)
		}
		if data == nil {
			continue
		}
		count, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			r.logger.WithField("key", key).Warn("skipping corrupt usage counter")
			continue
		}

		if err := r.store.UpsertUsage(ctx, UsageRecord{
			OrganizationID: organizationID,
			FeatureKey:     featureKey,
			Period:         period,
			Count:          count,
		}); err != nil {
			return synced, fmt.Errorf("sync usage: %w", err)
		}
		synced++
	}

	return synced, nil
}

func parseUsageKey(key string) (organizationID, featureKey, period string, ok bool) {
	// org:<id>:feature:<key>:usage:<YYYY-MM>
	parts := strings.Split(key, ":")
	if len(parts) != 6 || parts[0] != "org" || parts[2] != "feature" || parts[4] != "usage" {
		return "", "", "", false
	}
	return parts[1], parts[3], parts[5], true
}

func (r *Resolver) checked(featureKey, result string) {
	if r.metrics != nil {
		r.metrics.EntitlementChecksTotal.WithLabelValues(featureKey, result).Inc()
	}
}
