package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

var (
	// ErrPaymentNotConfirmed rejects checkout events whose payment has not
	// settled; no state is mutated for them.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrMissingMetadata     = errors.New("missing required event metadata")
	ErrReportNotFound      = errors.New("report not found")
)

// CheckoutSession is the parsed checkout.session.completed event.
type CheckoutSession struct {
	EventID        string
	SessionID      string
	PaymentStatus  string
	ReportID       int64
	Subdomain      string
	UserID         string
	InstallationID int64
	AmountTotal    int64
}

// SubscriptionEvent is a parsed customer.subscription.* event.
type SubscriptionEvent struct {
	EventID          string
	Type             string
	SubscriptionID   string
	Status           string
	Plan             string
	Subdomain        string
	UserID           string
	InstallationID   int64
	CurrentPeriodEnd *time.Time
}

// Active reports whether the event leaves the subscription in a paid
// state. Trialing counts as active.
func (e SubscriptionEvent) Active() bool {
	return e.Status == "active" || e.Status == "trialing"
}

type Store interface {
	UnlockReport(ctx context.Context, reportID int64, subdomain, paymentID string) (bool, error)
	UnlockReportsForSubdomain(ctx context.Context, subdomain, plan string) ([]int64, error)
	ReportExists(ctx context.Context, reportID int64, subdomain string) (bool, error)
	UpsertSubscription(ctx context.Context, sub *db.Subscription) error
	RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
	DeactivateMonitoring(ctx context.Context, installationID int64) error
}

type Invalidator interface {
	InvalidateReport(ctx context.Context, reportID int64)
	InvalidateInstallation(ctx context.Context, installationID int64)
	InvalidateSubscription(ctx context.Context, subdomain string)
}

// UnlockRecorder receives post-commit notification of an actual unlock
// transition. Dispatch happens after the mutation is durable and never for
// duplicate deliveries.
type UnlockRecorder interface {
	RecordReportUnlocked(reportID int64, subdomain string)
}

// Service translates billing events into the minimal state mutation plus
// the mandated cache invalidation.
//
// Unlock state machine per report: LOCKED -> UNLOCKED via active
// subscription at creation, one-off payment, or subscription-activation
// bulk update. UNLOCKED -> LOCKED never happens automatically: a
// subscription loss deactivates monitoring but does not re-lock reports.
type Service struct {
	store    Store
	cache    Invalidator
	logger   *zap.Logger
	recorder UnlockRecorder
}

func NewService(store Store, cache Invalidator, logger *zap.Logger, recorder UnlockRecorder) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		logger:   logger,
		recorder: recorder,
	}
}

// HandleCheckoutCompleted applies a one-off report unlock. Replays are
// absorbed: the guarded UPDATE matches no rows the second time and the
// idempotent invalidation is harmless.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, sess CheckoutSession) error {
	if sess.PaymentStatus != "paid" {
		s.logger.Warn("checkout session with unconfirmed payment",
			zap.String("session_id", sess.SessionID),
			zap.String("payment_status", sess.PaymentStatus),
		)
		return ErrPaymentNotConfirmed
	}
	if sess.ReportID == 0 || sess.Subdomain == "" {
		return ErrMissingMetadata
	}

	exists, err := s.store.ReportExists(ctx, sess.ReportID, sess.Subdomain)
	if err != nil {
		return fmt.Errorf("failed to look up report %d: %w", sess.ReportID, err)
	}
	if !exists {
		return ErrReportNotFound
	}

	// The guarded UPDATE is the idempotency barrier, so the mutation runs
	// first. The dedup marker is recorded only once the unlock is durable:
	// a transient failure here returns an error with no marker, and the
	// Stripe redelivery gets a clean retry instead of being absorbed.
	changed, err := s.store.UnlockReport(ctx, sess.ReportID, sess.Subdomain, sess.SessionID)
	if err != nil {
		return err
	}

	if sess.EventID != "" {
		fresh, err := s.store.RecordWebhookEvent(ctx, sess.EventID, "checkout.session.completed")
		if err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		if !fresh {
			s.logger.Info("duplicate checkout event absorbed",
				zap.String("event_id", sess.EventID),
				zap.Int64("report_id", sess.ReportID),
			)
		}
	}

	// Invalidation runs on every delivery, changed or not.
	s.cache.InvalidateReport(ctx, sess.ReportID)
	if sess.InstallationID != 0 {
		s.cache.InvalidateInstallation(ctx, sess.InstallationID)
	}

	if changed {
		s.logger.Info("report unlocked via one-off payment",
			zap.Int64("report_id", sess.ReportID),
			zap.String("subdomain", sess.Subdomain),
			zap.String("payment_id", sess.SessionID),
		)
		if s.recorder != nil {
			s.recorder.RecordReportUnlocked(sess.ReportID, sess.Subdomain)
		}
	}
	return nil
}

// HandleSubscriptionEvent records the subscription state and applies the
// bulk unlock or the monitoring shutdown it implies.
func (s *Service) HandleSubscriptionEvent(ctx context.Context, event SubscriptionEvent) error {
	if event.Subdomain == "" || event.SubscriptionID == "" {
		return ErrMissingMetadata
	}

	sub := &db.Subscription{
		StripeSubscriptionID: event.SubscriptionID,
		Subdomain:            event.Subdomain,
		InstallationID:       event.InstallationID,
		UserID:               event.UserID,
		Status:               event.Status,
		Plan:                 event.Plan,
		CurrentPeriodEnd:     event.CurrentPeriodEnd,
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}

	var unlocked []int64
	if event.Active() {
		plan := event.Plan
		if plan == "" {
			plan = "Paid"
		}
		var err error
		unlocked, err = s.store.UnlockReportsForSubdomain(ctx, event.Subdomain, plan)
		if err != nil {
			return err
		}
	} else if event.InstallationID != 0 {
		// Subscription lost: monitoring is subscription-gated and shuts
		// off. Reports are deliberately NOT re-locked, individually-
		// unlocked or otherwise; access already shown is never revoked.
		if err := s.store.DeactivateMonitoring(ctx, event.InstallationID); err != nil {
			return err
		}
	}

	// Every mutation is durable; only now does the delivery get its
	// dedup marker, so a failed attempt above stays retryable. The upsert
	// and the guarded bulk unlock keep replays harmless.
	if event.EventID != "" {
		fresh, err := s.store.RecordWebhookEvent(ctx, event.EventID, event.Type)
		if err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		if !fresh {
			s.logger.Info("duplicate subscription event absorbed",
				zap.String("event_id", event.EventID))
		}
	}

	// Invalidation runs on every delivery, duplicates included.
	s.cache.InvalidateSubscription(ctx, event.Subdomain)
	if event.InstallationID != 0 {
		s.cache.InvalidateInstallation(ctx, event.InstallationID)
	}
	for _, reportID := range unlocked {
		s.cache.InvalidateReport(ctx, reportID)
	}

	if event.Active() {
		s.logger.Info("subscription active, reports unlocked",
			zap.String("subdomain", event.Subdomain),
			zap.String("status", event.Status),
			zap.Int("reports_unlocked", len(unlocked)),
		)
	} else {
		s.logger.Info("subscription inactive, monitoring deactivated",
			zap.String("subdomain", event.Subdomain),
			zap.String("status", event.Status),
			zap.Int64("installation_id", event.InstallationID),
		)
	}
	return nil
}
