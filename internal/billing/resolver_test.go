package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return data, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

type fakeSubStore struct {
	subs  map[string]*db.Subscription
	err   error
	calls int
}

func (f *fakeSubStore) GetActiveSubscription(_ context.Context, subdomain string) (*db.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[subdomain]
	if !ok {
		return nil, db.ErrNotFound
	}
	return sub, nil
}

func newTestResolver(store *fakeSubStore) *Resolver {
	return NewResolver(store, cache.New(newMemStore(), zap.NewNop(), nil), zap.NewNop())
}

func TestResolveActiveSubscription(t *testing.T) {
	end := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeSubStore{subs: map[string]*db.Subscription{
		"acme": {
			StripeSubscriptionID: "sub_1",
			Status:               "active",
			Plan:                 "Pro Monthly",
			CurrentPeriodEnd:     &end,
		},
	}}

	status := newTestResolver(store).Resolve(context.Background(), "acme")

	assert.True(t, status.Active)
	assert.Equal(t, "active", status.Status)
	assert.Equal(t, "Pro Monthly", status.Plan)
	require.NotNil(t, status.SubscriptionID)
	assert.Equal(t, "sub_1", *status.SubscriptionID)
	require.NotNil(t, status.CurrentPeriodEnd)
	assert.Equal(t, end, *status.CurrentPeriodEnd)
}

func TestResolveTrialingIsActive(t *testing.T) {
	store := &fakeSubStore{subs: map[string]*db.Subscription{
		"acme": {StripeSubscriptionID: "sub_1", Status: "trialing", Plan: "Pro"},
	}}

	status := newTestResolver(store).Resolve(context.Background(), "acme")
	assert.True(t, status.Active)
	assert.Equal(t, "trialing", status.Status)
}

func TestResolveNoSubscriptionDefault(t *testing.T) {
	status := newTestResolver(&fakeSubStore{subs: map[string]*db.Subscription{}}).
		Resolve(context.Background(), "acme")

	assert.Equal(t, DefaultStatus(), status)
	assert.False(t, status.Active)
	assert.Equal(t, "Free", status.Plan)
	assert.Nil(t, status.SubscriptionID)
}

func TestResolveLookupFailureDegradesSafely(t *testing.T) {
	store := &fakeSubStore{err: errors.New("connection refused")}

	status := newTestResolver(store).Resolve(context.Background(), "acme")

	// Never grants access on error.
	assert.Equal(t, DefaultStatus(), status)
}

func TestResolveCachesResult(t *testing.T) {
	store := &fakeSubStore{subs: map[string]*db.Subscription{
		"acme": {StripeSubscriptionID: "sub_1", Status: "active", Plan: "Pro"},
	}}
	resolver := newTestResolver(store)

	resolver.Resolve(context.Background(), "acme")
	resolver.Resolve(context.Background(), "acme")

	assert.Equal(t, 1, store.calls)
}

func TestResolveFailureNotCached(t *testing.T) {
	store := &fakeSubStore{err: errors.New("down")}
	resolver := newTestResolver(store)

	resolver.Resolve(context.Background(), "acme")
	resolver.Resolve(context.Background(), "acme")

	// Each read retries the lookup instead of caching the degraded answer.
	assert.Equal(t, 2, store.calls)
}
