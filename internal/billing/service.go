package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
)

var (
	ErrQuotaExceeded    = errors.New("monthly quota exceeded")
	ErrExportNotAllowed = errors.New("plan does not include exports")
	ErrNotConfigured    = errors.New("billing is not configured")
)

// ReceiptSender delivers a subscription receipt after a completed checkout
type ReceiptSender interface {
	SendSubscriptionReceiptEmail(ctx context.Context, toEmail, planName string, priceCents int) error
}

// Service handles Stripe checkout, webhooks and plan quota enforcement.
// When STRIPE_SECRET_KEY is unset the Stripe surface is disabled but quota
// checks keep working against the free tier.
type Service struct {
	enabled       bool
	webhookSecret string
	successURL    string
	cancelURL     string
	portalURL     string
	receipts      ReceiptSender
}

// SetReceiptSender wires the email service for checkout receipts
func (s *Service) SetReceiptSender(sender ReceiptSender) {
	s.receipts = sender
}

// NewService creates the billing service from environment configuration
func NewService() *Service {
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}

	svc := &Service{
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		successURL:    frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     frontendURL + "/billing",
		portalURL:     frontendURL + "/settings/billing",
	}

	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		stripe.Key = key
		svc.enabled = true
	} else {
		logger.Log.Warn("STRIPE_SECRET_KEY not set, billing endpoints disabled")
	}

	return svc
}

// Enabled reports whether Stripe credentials are configured
func (s *Service) Enabled() bool {
	return s.enabled
}

// EnsurePlans upserts the built-in plan rows and attaches Stripe price IDs
// from the environment
func (s *Service) EnsurePlans() error {
	priceIDs := map[string]string{
		models.PlanPro:  os.Getenv("STRIPE_PRICE_PRO"),
		models.PlanTeam: os.Getenv("STRIPE_PRICE_TEAM"),
	}

	for _, plan := range models.DefaultPlans() {
		plan.StripePriceID = priceIDs[plan.ID]

		var existing models.Plan
		err := database.DB.First(&existing, "id = ?", plan.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := database.DB.Create(&plan).Error; err != nil {
				return fmt.Errorf("failed to create plan %s: %w", plan.ID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load plan %s: %w", plan.ID, err)
		}

		if plan.StripePriceID != "" && existing.StripePriceID != plan.StripePriceID {
			if err := database.DB.Model(&existing).
				Update("stripe_price_id", plan.StripePriceID).Error; err != nil {
				return fmt.Errorf("failed to update plan %s: %w", plan.ID, err)
			}
		}
	}

	return nil
}

// GetPlan loads a plan by ID
func (s *Service) GetPlan(planID string) (*models.Plan, error) {
	var plan models.Plan
	if err := database.DB.First(&plan, "id = ?", planID).Error; err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}
	return &plan, nil
}

// ListPlans returns all plans ordered by price
func (s *Service) ListPlans() ([]models.Plan, error) {
	var plans []models.Plan
	if err := database.DB.Order("price_cents ASC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// rolloverUsage resets the user's counters when the usage period has
// elapsed. Persists the reset and mutates the passed user in place.
func (s *Service) rolloverUsage(user *models.User) error {
	now := time.Now().UTC()
	if user.UsagePeriodStart.IsZero() || now.After(user.UsagePeriodStart.AddDate(0, 1, 0)) {
		updates := map[string]interface{}{
			"analyses_used":      0,
			"comparisons_used":   0,
			"usage_period_start": now,
		}
		if err := database.DB.Model(user).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to roll over usage period: %w", err)
		}
		user.AnalysesUsed = 0
		user.ComparisonsUsed = 0
		user.UsagePeriodStart = now
	}
	return nil
}

// CanRunAnalysis checks the user's monthly analysis quota
func (s *Service) CanRunAnalysis(user *models.User) error {
	if err := s.rolloverUsage(user); err != nil {
		return err
	}

	plan, err := s.GetPlan(user.PlanID)
	if err != nil {
		return err
	}

	// Negative quota means unlimited
	if plan.MonthlyAnalyses < 0 {
		return nil
	}
	if user.AnalysesUsed >= plan.MonthlyAnalyses {
		return fmt.Errorf("%w: %d of %d analyses used this period",
			ErrQuotaExceeded, user.AnalysesUsed, plan.MonthlyAnalyses)
	}
	return nil
}

// CanRunComparison checks the user's monthly comparison quota
func (s *Service) CanRunComparison(user *models.User) error {
	if err := s.rolloverUsage(user); err != nil {
		return err
	}

	plan, err := s.GetPlan(user.PlanID)
	if err != nil {
		return err
	}

	if plan.MaxComparisons < 0 {
		return nil
	}
	if user.ComparisonsUsed >= plan.MaxComparisons {
		return fmt.Errorf("%w: %d of %d comparisons used this period",
			ErrQuotaExceeded, user.ComparisonsUsed, plan.MaxComparisons)
	}
	return nil
}

// CanExport checks whether the user's plan includes report exports
func (s *Service) CanExport(user *models.User) error {
	plan, err := s.GetPlan(user.PlanID)
	if err != nil {
		return err
	}
	if !plan.ExportEnabled {
		return ErrExportNotAllowed
	}
	return nil
}

// RecordAnalysis increments the user's analysis counter
func (s *Service) RecordAnalysis(userID string) error {
	return database.DB.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("analyses_used", gorm.Expr("analyses_used + 1")).Error
}

// RecordComparison increments the user's comparison counter
func (s *Service) RecordComparison(userID string) error {
	return database.DB.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("comparisons_used", gorm.Expr("comparisons_used + 1")).Error
}

// CreateCheckoutSession starts a Stripe checkout for a paid plan and
// returns the hosted checkout URL
func (s *Service) CreateCheckoutSession(user *models.User, planID string) (string, error) {
	if !s.enabled {
		return "", ErrNotConfigured
	}

	plan, err := s.GetPlan(planID)
	if err != nil {
		return "", err
	}
	if plan.StripePriceID == "" {
		return "", fmt.Errorf("plan %s has no Stripe price configured", planID)
	}

	customerID, err := s.ensureCustomer(user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(user.ID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("plan_id", planID)
	params.AddMetadata("user_id", user.ID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	logger.Log.Info("Created checkout session",
		zap.String("user_id", user.ID),
		zap.String("plan_id", planID))

	return sess.URL, nil
}

// CreatePortalSession returns a Stripe customer portal URL for managing
// the subscription
func (s *Service) CreatePortalSession(user *models.User) (string, error) {
	if !s.enabled {
		return "", ErrNotConfigured
	}
	if user.StripeCustomerID == nil {
		return "", fmt.Errorf("user has no billing account")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*user.StripeCustomerID),
		ReturnURL: stripe.String(s.portalURL),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

// ensureCustomer creates a Stripe customer for the user on first use
func (s *Service) ensureCustomer(user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.DisplayName),
	}
	params.AddMetadata("user_id", user.ID)

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	if err := database.DB.Model(user).
		Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", fmt.Errorf("failed to store customer ID: %w", err)
	}
	user.StripeCustomerID = &cust.ID

	return cust.ID, nil
}

// HandleWebhook verifies and processes a Stripe webhook payload
func (s *Service) HandleWebhook(payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return ErrNotConfigured
	}

	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("webhook signature verification failed: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("failed to parse checkout session: %w", err)
		}
		return s.handleCheckoutCompleted(&sess)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to parse subscription: %w", err)
		}
		return s.handleSubscriptionUpdated(&sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to parse subscription: %w", err)
		}
		return s.handleSubscriptionDeleted(&sub)

	default:
		logger.Log.Debug("Ignoring webhook event",
			zap.String("event_type", string(event.Type)))
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(sess *stripe.CheckoutSession) error {
	userID := sess.ClientReferenceID
	planID := sess.Metadata["plan_id"]
	if userID == "" || planID == "" {
		return fmt.Errorf("checkout session missing user or plan reference")
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	updates := map[string]interface{}{"plan_id": planID}
	if user.StripeCustomerID == nil && sess.Customer != nil {
		updates["stripe_customer_id"] = sess.Customer.ID
	}
	if err := database.DB.Model(&user).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to upgrade user plan: %w", err)
	}

	if sess.Subscription != nil {
		sub := models.Subscription{
			UserID:               user.ID,
			PlanID:               planID,
			StripeSubscriptionID: sess.Subscription.ID,
			Status:               models.SubscriptionActive,
		}
		// Period bounds arrive with the first subscription.updated event
		if err := database.DB.
			Where("stripe_subscription_id = ?", sess.Subscription.ID).
			FirstOrCreate(&sub).Error; err != nil {
			return fmt.Errorf("failed to record subscription: %w", err)
		}
	}

	if s.receipts != nil {
		if plan, err := s.GetPlan(planID); err == nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := s.receipts.SendSubscriptionReceiptEmail(ctx, user.Email, plan.Name, plan.PriceCents); err != nil {
					logger.Log.Warn("Failed to send receipt email",
						zap.String("user_id", user.ID),
						zap.Error(err))
				}
			}()
		}
	}

	logger.Log.Info("Checkout completed",
		zap.String("user_id", user.ID),
		zap.String("plan_id", planID))
	return nil
}

func (s *Service) handleSubscriptionUpdated(sub *stripe.Subscription) error {
	var record models.Subscription
	err := database.DB.First(&record, "stripe_subscription_id = ?", sub.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Update arrived before checkout.session.completed, nothing to attach it to yet
		logger.Log.Warn("Subscription update for unknown subscription",
			zap.String("stripe_subscription_id", sub.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	status := mapSubscriptionStatus(sub.Status)
	updates := map[string]interface{}{
		"status":               status,
		"current_period_start": time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		"current_period_end":   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	}

	// Plan changes made through the customer portal show up here as a
	// different price on the subscription item
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		var plan models.Plan
		if err := database.DB.First(&plan, "stripe_price_id = ?", sub.Items.Data[0].Price.ID).Error; err == nil {
			updates["plan_id"] = plan.ID
			if status == models.SubscriptionActive {
				if err := database.DB.Model(&models.User{}).
					Where("id = ?", record.UserID).
					Update("plan_id", plan.ID).Error; err != nil {
					return fmt.Errorf("failed to update user plan: %w", err)
				}
			}
		}
	}

	if err := database.DB.Model(&record).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if status == models.SubscriptionCanceled {
		return s.downgradeToFree(record.UserID)
	}
	return nil
}

func (s *Service) handleSubscriptionDeleted(sub *stripe.Subscription) error {
	var record models.Subscription
	err := database.DB.First(&record, "stripe_subscription_id = ?", sub.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if err := database.DB.Model(&record).
		Update("status", models.SubscriptionCanceled).Error; err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	return s.downgradeToFree(record.UserID)
}

func (s *Service) downgradeToFree(userID string) error {
	if err := database.DB.Model(&models.User{}).
		Where("id = ?", userID).
		Update("plan_id", models.PlanFree).Error; err != nil {
		return fmt.Errorf("failed to downgrade user: %w", err)
	}
	logger.Log.Info("User downgraded to free plan", zap.String("user_id", userID))
	return nil
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue
	default:
		return models.SubscriptionCanceled
	}
}
