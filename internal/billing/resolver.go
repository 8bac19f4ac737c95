package billing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

// Status is the derived subscription state for a tenant.
type Status struct {
	Status           string     `json:"status"`
	Active           bool       `json:"active"`
	Plan             string     `json:"plan"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	SubscriptionID   *string    `json:"subscription_id"`
}

// DefaultStatus is the canonical no-subscription answer.
func DefaultStatus() Status {
	return Status{
		Status: "inactive",
		Active: false,
		Plan:   "Free",
	}
}

type SubscriptionStore interface {
	GetActiveSubscription(ctx context.Context, subdomain string) (*db.Subscription, error)
}

// Resolver answers "does this tenant currently have paid access?". Pure
// read; lookup failures degrade to the locked default rather than failing
// the read path, and never grant access on error.
type Resolver struct {
	store  SubscriptionStore
	cache  *cache.Cache
	logger *zap.Logger
}

func NewResolver(store SubscriptionStore, c *cache.Cache, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  c,
		logger: logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, subdomain string) Status {
	key := cache.SubscriptionKey(subdomain)

	var cached Status
	if r.cache.GetJSON(ctx, key, &cached) {
		return cached
	}

	sub, err := r.store.GetActiveSubscription(ctx, subdomain)
	if errors.Is(err, db.ErrNotFound) {
		status := DefaultStatus()
		r.cache.SetJSON(ctx, key, status, cache.TTLSubscription)
		return status
	}
	if err != nil {
		// Transport failure: conservative answer, not cached so the next
		// read retries the lookup.
		r.logger.Error("subscription lookup failed, returning inactive default",
			zap.String("subdomain", subdomain), zap.Error(err))
		return DefaultStatus()
	}

	plan := sub.Plan
	if plan == "" {
		plan = "Free"
	}
	subscriptionID := sub.StripeSubscriptionID
	status := Status{
		Status:           sub.Status,
		Active:           true,
		Plan:             plan,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		SubscriptionID:   &subscriptionID,
	}

	r.cache.SetJSON(ctx, key, status, cache.TTLSubscription)
	return status
}
