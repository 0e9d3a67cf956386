package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"

	"example/aegis-portal/app/config"
	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
)

// InitStripe wires the Stripe API key from the loaded configuration.
func InitStripe(cfg *config.Config) {
	stripe.Key = cfg.Stripe.SecretKey
}

// StripeService creates checkout/portal sessions and reconciles Stripe
// webhook events into local subscription state.
type StripeService struct {
	store store.Store
	cfg   *config.Config
}

func NewStripeService(st store.Store, cfg *config.Config) *StripeService {
	return &StripeService{store: st, cfg: cfg}
}

// ensureStripeCustomer finds or creates a Stripe Customer for the user and
// stores the reference on the users row.
func (s *StripeService) ensureStripeCustomer(ctx context.Context, user models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
	}
	params.AddMetadata("user_id", fmt.Sprintf("%d", user.ID))

	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}

	if err := s.store.SetStripeCustomerID(ctx, user.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a Stripe Checkout Session: a recurring
// subscription for pro, a one-time payment for lifetime. Returns the
// redirect URL.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, user models.User, plan models.Plan) (string, error) {
	customerID, err := s.ensureStripeCustomer(ctx, user)
	if err != nil {
		return "", fmt.Errorf("ensure stripe customer: %w", err)
	}

	mode := stripe.CheckoutSessionModeSubscription
	priceID := s.cfg.Stripe.ProPriceID
	if plan == models.PlanLifetime {
		mode = stripe.CheckoutSessionModePayment
		priceID = s.cfg.Stripe.LifetimePriceID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(mode)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
	}
	params.AddMetadata("user_id", fmt.Sprintf("%d", user.ID))
	params.AddMetadata("plan", string(plan))

	sess, err := session.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// CreatePortalSession creates a Stripe customer portal session for managing
// an existing subscription.
func (s *StripeService) CreatePortalSession(user models.User) (string, error) {
	if user.StripeCustomerID == "" {
		return "", errors.New("user has no stripe customer")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.AppURL + "/dashboard"),
	}

	sess, err := portal.New(params)
	if err != nil {
		log.Printf("stripe portal session failed customer=%s err=%v", user.StripeCustomerID, err)
		return "", err
	}
	return sess.URL, nil
}
