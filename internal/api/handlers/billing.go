package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
)

func (h *Handler) GetSubscription(c *gin.Context) {
	subdomain := c.Query("subdomain")
	if subdomain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subdomain query parameter required"})
		return
	}

	status := h.resolver.Resolve(c.Request.Context(), subdomain)
	c.JSON(http.StatusOK, status)
}

type checkoutRequest struct {
	Mode           string `json:"mode" binding:"required,oneof=subscription payment"`
	Plan           string `json:"plan" binding:"omitempty,oneof=monthly yearly"`
	ReportID       int64  `json:"report_id"`
	InstallationID int64  `json:"installation_id" binding:"required"`
	Subdomain      string `json:"subdomain" binding:"required"`
	UserID         string `json:"user_id"`
}

// CreateCheckout opens a Stripe Checkout session. Subscription mode sells
// the recurring plan; payment mode is the one-off unlock of a single
// report and requires report_id.
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var priceID string
	mode := stripe.CheckoutSessionModeSubscription
	switch req.Mode {
	case "payment":
		if req.ReportID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "report_id required for one-off unlock"})
			return
		}
		mode = stripe.CheckoutSessionModePayment
		priceID = h.config.Stripe.PriceOneOff
	default:
		priceID = h.config.Stripe.PriceMonthly
		if req.Plan == "yearly" {
			priceID = h.config.Stripe.PriceYearly
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(h.config.Stripe.SuccessURL),
		CancelURL:  stripe.String(fmt.Sprintf("https://%s.zendesk.com", req.Subdomain)),
	}
	params.AddMetadata("subdomain", req.Subdomain)
	params.AddMetadata("installation_id", strconv.FormatInt(req.InstallationID, 10))
	if req.UserID != "" {
		params.AddMetadata("user_id", req.UserID)
	}
	if req.ReportID > 0 {
		params.AddMetadata("report_id", strconv.FormatInt(req.ReportID, 10))
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		// Subscription events arrive without the session, so the
		// subscription itself has to carry the tenant metadata.
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"subdomain":       req.Subdomain,
				"installation_id": strconv.FormatInt(req.InstallationID, 10),
			},
		}
	}

	sess, err := session.New(params)
	if err != nil {
		h.internalError(c, "Failed to create checkout session", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL, "session_id": sess.ID})
}
