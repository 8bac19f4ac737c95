package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

type fakeReport struct {
	id         int64
	subdomain  string
	plan       string
	isUnlocked bool
	paymentID  string
}

type fakeStore struct {
	reports       map[int64]*fakeReport
	subscriptions map[string]*db.Subscription
	seenEvents    map[string]bool
	monitoring    map[int64]bool // installation id -> active

	// fail-once knobs for transient store errors
	unlockErr error
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reports:       make(map[int64]*fakeReport),
		subscriptions: make(map[string]*db.Subscription),
		seenEvents:    make(map[string]bool),
		monitoring:    make(map[int64]bool),
	}
}

func (f *fakeStore) UnlockReport(_ context.Context, reportID int64, subdomain, paymentID string) (bool, error) {
	if f.unlockErr != nil {
		err := f.unlockErr
		f.unlockErr = nil
		return false, err
	}
	r, ok := f.reports[reportID]
	if !ok || r.subdomain != subdomain || r.isUnlocked {
		return false, nil
	}
	r.isUnlocked = true
	r.paymentID = paymentID
	return true, nil
}

func (f *fakeStore) UnlockReportsForSubdomain(_ context.Context, subdomain, plan string) ([]int64, error) {
	ids := []int64{}
	for _, r := range f.reports {
		if r.subdomain == subdomain && !r.isUnlocked {
			r.isUnlocked = true
			r.plan = plan
			ids = append(ids, r.id)
		}
	}
	return ids, nil
}

func (f *fakeStore) ReportExists(_ context.Context, reportID int64, subdomain string) (bool, error) {
	r, ok := f.reports[reportID]
	return ok && r.subdomain == subdomain, nil
}

func (f *fakeStore) UpsertSubscription(_ context.Context, sub *db.Subscription) error {
	if f.upsertErr != nil {
		err := f.upsertErr
		f.upsertErr = nil
		return err
	}
	f.subscriptions[sub.StripeSubscriptionID] = sub
	return nil
}

func (f *fakeStore) RecordWebhookEvent(_ context.Context, eventID, _ string) (bool, error) {
	if f.seenEvents[eventID] {
		return false, nil
	}
	f.seenEvents[eventID] = true
	return true, nil
}

func (f *fakeStore) DeactivateMonitoring(_ context.Context, installationID int64) error {
	f.monitoring[installationID] = false
	return nil
}

type fakeInvalidator struct {
	reportIDs       []int64
	installationIDs []int64
	subdomains      []string
}

func (f *fakeInvalidator) InvalidateReport(_ context.Context, reportID int64) {
	f.reportIDs = append(f.reportIDs, reportID)
}

func (f *fakeInvalidator) InvalidateInstallation(_ context.Context, installationID int64) {
	f.installationIDs = append(f.installationIDs, installationID)
}

func (f *fakeInvalidator) InvalidateSubscription(_ context.Context, subdomain string) {
	f.subdomains = append(f.subdomains, subdomain)
}

type fakeRecorder struct {
	unlocked []int64
}

func (f *fakeRecorder) RecordReportUnlocked(reportID int64, _ string) {
	f.unlocked = append(f.unlocked, reportID)
}

func paidSession() CheckoutSession {
	return CheckoutSession{
		EventID:        "evt_1",
		SessionID:      "cs_123",
		PaymentStatus:  "paid",
		ReportID:       10,
		Subdomain:      "acme",
		InstallationID: 77,
	}
}

func TestHandleCheckoutCompletedUnlocks(t *testing.T) {
	store := newFakeStore()
	store.reports[10] = &fakeReport{id: 10, subdomain: "acme"}
	inv := &fakeInvalidator{}
	rec := &fakeRecorder{}
	svc := NewService(store, inv, zap.NewNop(), rec)

	err := svc.HandleCheckoutCompleted(context.Background(), paidSession())
	require.NoError(t, err)

	assert.True(t, store.reports[10].isUnlocked)
	assert.Equal(t, "cs_123", store.reports[10].paymentID)
	assert.Contains(t, inv.reportIDs, int64(10))
	assert.Contains(t, inv.installationIDs, int64(77))
	assert.Equal(t, []int64{10}, rec.unlocked)
}

func TestHandleCheckoutCompletedReplayIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.reports[10] = &fakeReport{id: 10, subdomain: "acme"}
	inv := &fakeInvalidator{}
	rec := &fakeRecorder{}
	svc := NewService(store, inv, zap.NewNop(), rec)

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), paidSession()))
	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), paidSession()))

	// Still unlocked, side effects fired exactly once, invalidation for
	// every delivery.
	assert.True(t, store.reports[10].isUnlocked)
	assert.Equal(t, []int64{10}, rec.unlocked)
	assert.Equal(t, []int64{10, 10}, inv.reportIDs)
}

func TestHandleCheckoutCompletedRetryAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.reports[10] = &fakeReport{id: 10, subdomain: "acme"}
	store.unlockErr = assert.AnError
	inv := &fakeInvalidator{}
	rec := &fakeRecorder{}
	svc := NewService(store, inv, zap.NewNop(), rec)

	// First delivery fails mid-mutation; no dedup marker may be left
	// behind or the redelivery below gets absorbed and the paid unlock
	// is lost for good.
	err := svc.HandleCheckoutCompleted(context.Background(), paidSession())
	require.Error(t, err)
	assert.False(t, store.reports[10].isUnlocked)
	assert.Empty(t, store.seenEvents)
	assert.Empty(t, inv.reportIDs)

	require.NoError(t, svc.HandleCheckoutCompleted(context.Background(), paidSession()))
	assert.True(t, store.reports[10].isUnlocked)
	assert.Equal(t, []int64{10}, rec.unlocked)
	assert.Contains(t, inv.reportIDs, int64(10))
}

func TestHandleCheckoutCompletedUnconfirmedPayment(t *testing.T) {
	store := newFakeStore()
	store.reports[10] = &fakeReport{id: 10, subdomain: "acme"}
	inv := &fakeInvalidator{}
	svc := NewService(store, inv, zap.NewNop(), nil)

	sess := paidSession()
	sess.PaymentStatus = "unpaid"
	err := svc.HandleCheckoutCompleted(context.Background(), sess)

	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
	assert.False(t, store.reports[10].isUnlocked)
	assert.Empty(t, inv.reportIDs)
}

func TestHandleCheckoutCompletedMissingMetadata(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeInvalidator{}, zap.NewNop(), nil)

	sess := paidSession()
	sess.ReportID = 0
	assert.ErrorIs(t, svc.HandleCheckoutCompleted(context.Background(), sess), ErrMissingMetadata)

	sess = paidSession()
	sess.Subdomain = ""
	assert.ErrorIs(t, svc.HandleCheckoutCompleted(context.Background(), sess), ErrMissingMetadata)
}

func TestHandleCheckoutCompletedReportNotFound(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeInvalidator{}, zap.NewNop(), nil)

	err := svc.HandleCheckoutCompleted(context.Background(), paidSession())
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func activeSubEvent() SubscriptionEvent {
	end := time.Now().Add(30 * 24 * time.Hour)
	return SubscriptionEvent{
		EventID:          "evt_sub_1",
		Type:             "customer.subscription.created",
		SubscriptionID:   "sub_123",
		Status:           "active",
		Plan:             "Pro Monthly",
		Subdomain:        "acme",
		UserID:           "u1",
		InstallationID:   77,
		CurrentPeriodEnd: &end,
	}
}

func TestHandleSubscriptionActiveBulkUnlocks(t *testing.T) {
	store := newFakeStore()
	store.reports[1] = &fakeReport{id: 1, subdomain: "acme"}
	store.reports[2] = &fakeReport{id: 2, subdomain: "acme", isUnlocked: true}
	store.reports[3] = &fakeReport{id: 3, subdomain: "globex"}
	inv := &fakeInvalidator{}
	svc := NewService(store, inv, zap.NewNop(), nil)

	require.NoError(t, svc.HandleSubscriptionEvent(context.Background(), activeSubEvent()))

	assert.True(t, store.reports[1].isUnlocked)
	assert.Equal(t, "Pro Monthly", store.reports[1].plan)
	// Other tenants untouched.
	assert.False(t, store.reports[3].isUnlocked)
	// Subscription row recorded for the resolver.
	require.Contains(t, store.subscriptions, "sub_123")
	assert.Equal(t, "active", store.subscriptions["sub_123"].Status)

	assert.Contains(t, inv.subdomains, "acme")
	assert.Contains(t, inv.installationIDs, int64(77))
	assert.Contains(t, inv.reportIDs, int64(1))
}

func TestHandleSubscriptionTrialingCountsAsActive(t *testing.T) {
	store := newFakeStore()
	store.reports[1] = &fakeReport{id: 1, subdomain: "acme"}
	svc := NewService(store, &fakeInvalidator{}, zap.NewNop(), nil)

	event := activeSubEvent()
	event.Status = "trialing"
	require.NoError(t, svc.HandleSubscriptionEvent(context.Background(), event))

	assert.True(t, store.reports[1].isUnlocked)
}

func TestHandleSubscriptionDeletedPreservesUnlocks(t *testing.T) {
	store := newFakeStore()
	// One individually-unlocked report, one subscription-unlocked report.
	store.reports[1] = &fakeReport{id: 1, subdomain: "acme", isUnlocked: true, paymentID: "cs_9"}
	store.reports[2] = &fakeReport{id: 2, subdomain: "acme", isUnlocked: true}
	store.monitoring[77] = true
	inv := &fakeInvalidator{}
	svc := NewService(store, inv, zap.NewNop(), nil)

	event := activeSubEvent()
	event.EventID = "evt_sub_2"
	event.Type = "customer.subscription.deleted"
	event.Status = "canceled"
	require.NoError(t, svc.HandleSubscriptionEvent(context.Background(), event))

	// No re-lock, ever.
	assert.True(t, store.reports[1].isUnlocked)
	assert.True(t, store.reports[2].isUnlocked)
	// Monitoring is subscription-gated and shuts off.
	assert.False(t, store.monitoring[77])
	assert.Contains(t, inv.subdomains, "acme")
}

func TestHandleSubscriptionDuplicateEventAbsorbed(t *testing.T) {
	store := newFakeStore()
	store.reports[1] = &fakeReport{id: 1, subdomain: "acme"}
	inv := &fakeInvalidator{}
	svc := NewService(store, inv, zap.NewNop(), nil)

	require.NoError(t, svc.HandleSubscriptionEvent(context.Background(), activeSubEvent()))
	upserts := len(store.subscriptions)
	require.NoError(t, svc.HandleSubscriptionEvent(context.Background(), activeSubEvent()))

	// Second delivery does not mutate again but still invalidates the
	// tenant's whole group, installation listings included.
	assert.Len(t, store.subscriptions, upserts)
	assert.Equal(t, []string{"acme", "acme"}, inv.subdomains)
	assert.Equal(t, []int64{77, 77}, inv.installationIDs)
}

func TestHandleSubscriptionRetryAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.reports[1] = &fakeReport{id: 1, subdomain: "acme"}
	store.upsertErr = assert.AnError
	inv := &fakeInvalidator{}
	svc := NewService(store, inv, zap.NewNop(), nil)

	err := svc.HandleSubscriptionEvent(context.Background(), activeSubEvent())
	require.Error(t, err)
	assert.Empty(t, store.subscriptions)
	assert.Empty(t, store.seenEvents)
	assert.Empty(t, inv.subdomains)

	// Redelivery persists the subscription and runs the bulk unlock.
	require.NoError(t, svc.HandleSubscriptionEvent(context.Background(), activeSubEvent()))
	require.Contains(t, store.subscriptions, "sub_123")
	assert.True(t, store.reports[1].isUnlocked)
}

func TestHandleSubscriptionMissingMetadata(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeInvalidator{}, zap.NewNop(), nil)

	event := activeSubEvent()
	event.Subdomain = ""
	assert.ErrorIs(t, svc.HandleSubscriptionEvent(context.Background(), event), ErrMissingMetadata)
}
