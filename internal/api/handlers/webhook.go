package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/billing"
)

const maxWebhookBody = 65536

// StripeWebhook verifies the signature and dispatches billing events.
// Errors that a redelivery cannot fix are acknowledged with 200 so
// Stripe stops retrying them.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.config.Stripe.WebhookSecret)
	if err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		h.metrics.RecordWebhookEvent("unknown", "bad_signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	ctx := c.Request.Context()
	eventType := string(event.Type)

	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutEvent(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		err = h.handleSubscriptionEvent(ctx, event)
	default:
		h.logger.Debug("Ignoring webhook event", zap.String("type", eventType))
		h.metrics.RecordWebhookEvent(eventType, "ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch {
	case err == nil:
		h.metrics.RecordWebhookEvent(eventType, "processed")
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, billing.ErrPaymentNotConfirmed),
		errors.Is(err, billing.ErrMissingMetadata),
		errors.Is(err, billing.ErrReportNotFound):
		h.logger.Warn("Webhook event not actionable",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
		h.metrics.RecordWebhookEvent(eventType, "rejected")
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		h.logger.Error("Failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
		h.metrics.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) handleCheckoutEvent(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}

	reportID, _ := strconv.ParseInt(sess.Metadata["report_id"], 10, 64)
	installID, _ := strconv.ParseInt(sess.Metadata["installation_id"], 10, 64)

	return h.billing.HandleCheckoutCompleted(ctx, billing.CheckoutSession{
		EventID:        event.ID,
		SessionID:      sess.ID,
		PaymentStatus:  string(sess.PaymentStatus),
		ReportID:       reportID,
		Subdomain:      sess.Metadata["subdomain"],
		UserID:         sess.Metadata["user_id"],
		InstallationID: installID,
		AmountTotal:    sess.AmountTotal,
	})
}

func (h *Handler) handleSubscriptionEvent(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}

	installID, _ := strconv.ParseInt(sub.Metadata["installation_id"], 10, 64)

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	return h.billing.HandleSubscriptionEvent(ctx, billing.SubscriptionEvent{
		EventID:          event.ID,
		Type:             string(event.Type),
		SubscriptionID:   sub.ID,
		Status:           string(sub.Status),
		Plan:             planName(&sub),
		Subdomain:        sub.Metadata["subdomain"],
		UserID:           sub.Metadata["user_id"],
		InstallationID:   installID,
		CurrentPeriodEnd: periodEnd,
	})
}

func planName(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	price := sub.Items.Data[0].Price
	if price.Nickname != "" {
		return price.Nickname
	}
	if price.Recurring != nil {
		switch price.Recurring.Interval {
		case stripe.PriceRecurringIntervalMonth:
			return "Monthly"
		case stripe.PriceRecurringIntervalYear:
			return "Yearly"
		}
	}
	return ""
}
