package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
)

type checkoutRequest struct {
	UserEmail string `json:"user_email" binding:"required"`
	Plan      string `json:"plan" binding:"required"`
}

// CreateCheckout handles POST /api/checkout: starts a Stripe Checkout
// Session for a pro subscription or a lifetime purchase. The user row is
// created lazily when the email is new.
func (a *App) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_email and plan are required"})
		return
	}

	plan, err := models.ParsePlan(req.Plan)
	if err != nil || plan == models.PlanFree {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan must be 'pro' or 'lifetime'"})
		return
	}

	user, err := a.Billing.FindOrCreateUserByEmail(c.Request.Context(), req.UserEmail)
	if err != nil {
		log.Printf("checkout user lookup failed email=%s err=%v", req.UserEmail, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	url, err := a.Billing.CreateCheckoutSession(c.Request.Context(), user, plan)
	if err != nil {
		log.Printf("stripe checkout session failed user=%d err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

type portalRequest struct {
	UserEmail string `json:"user_email" binding:"required"`
}

// CreatePortal handles POST /api/portal: a Stripe customer portal session
// for managing an existing subscription.
func (a *App) CreatePortal(c *gin.Context) {
	var req portalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_email is required"})
		return
	}

	user, err := a.Store.UserByEmail(c.Request.Context(), req.UserEmail)
	if err != nil || user.StripeCustomerID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found or no active subscription"})
		return
	}

	url, err := a.Billing.CreatePortalSession(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// StripeWebhook handles Stripe subscription events. The signature is
// verified over the raw body before anything is parsed; unrecognized event
// types are acknowledged and ignored; a failing handler returns 500 so
// Stripe retries the event.
func (a *App) StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("stripe webhook read failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	endpointSecret := a.Cfg.Stripe.WebhookSecret
	if endpointSecret == "" {
		log.Printf("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("stripe webhook signature failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Printf("stripe session unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}
		if err := a.Billing.HandleCheckoutCompleted(c.Request.Context(), &sess); err != nil {
			a.webhookError(c, event, err)
			return
		}

	case "customer.subscription.updated":
		sub, ok := a.unmarshalSubscription(c, event)
		if !ok {
			return
		}
		if err := a.Billing.HandleSubscriptionUpdated(c.Request.Context(), sub); err != nil {
			a.webhookError(c, event, err)
			return
		}

	case "customer.subscription.deleted":
		sub, ok := a.unmarshalSubscription(c, event)
		if !ok {
			return
		}
		if err := a.Billing.HandleSubscriptionDeleted(c.Request.Context(), sub); err != nil {
			a.webhookError(c, event, err)
			return
		}

	case "invoice.paid":
		log.Printf("invoice paid: %s", event.ID)

	case "invoice.payment_failed":
		log.Printf("invoice payment failed: %s", event.ID)

	default:
		// Intentionally ignore unhandled events.
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (a *App) unmarshalSubscription(c *gin.Context, event stripe.Event) (*stripe.Subscription, bool) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		log.Printf("stripe subscription unmarshal failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
		return nil, false
	}
	return &sub, true
}

func (a *App) webhookError(c *gin.Context, event stripe.Event, err error) {
	if errors.Is(err, store.ErrNotFound) {
		// Referential gaps are dropped, not retried.
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	log.Printf("stripe webhook handler failed type=%s id=%s err=%v", event.Type, event.ID, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook handler error"})
}
