package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/billing"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/util"
)

// ListPlans returns the available subscription tiers
// GET /api/v1/billing/plans
func (h *Handlers) ListPlans(c *gin.Context) {
	plans, err := h.billing.ListPlans()
	if err != nil {
		util.RespondInternalError(c, "failed to list plans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetUsage returns the user's plan and usage counters for the current period
// GET /api/v1/billing/usage
func (h *Handlers) GetUsage(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	plan, err := h.billing.GetPlan(user.PlanID)
	if err != nil {
		util.RespondInternalError(c, "failed to load plan")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":               plan,
		"analyses_used":      user.AnalysesUsed,
		"comparisons_used":   user.ComparisonsUsed,
		"usage_period_start": user.UsagePeriodStart,
	})
}

// CreateCheckout starts a Stripe checkout session for a plan upgrade
// POST /api/v1/billing/checkout
func (h *Handlers) CreateCheckout(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	var req struct {
		PlanID string `json:"plan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	url, err := h.billing.CreateCheckoutSession(user, req.PlanID)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing is not configured"})
			return
		}
		logger.Log.Error("Checkout creation failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
		util.RespondInternalError(c, "failed to start checkout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// CreatePortal returns a Stripe customer portal URL
// POST /api/v1/billing/portal
func (h *Handlers) CreatePortal(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	url, err := h.billing.CreatePortalSession(user)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing is not configured"})
			return
		}
		util.RespondBadRequest(c, "no billing account for this user")
		return
	}

	c.JSON(http.StatusOK, gin.H{"portal_url": url})
}

// StripeWebhook receives subscription lifecycle events from Stripe.
// Unauthenticated, verified by signature instead.
// POST /api/v1/billing/webhook
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		util.RespondBadRequest(c, "failed to read payload")
		return
	}

	if err := h.billing.HandleWebhook(payload, c.GetHeader("Stripe-Signature")); err != nil {
		logger.Log.Warn("Stripe webhook rejected", zap.Error(err))
		// Stripe retries on non-2xx, only signal failure for processing errors
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
