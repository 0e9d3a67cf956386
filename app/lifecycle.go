package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripesub "github.com/stripe/stripe-go/v79/subscription"

	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
)

// Webhook event transitions. Each one commits before the webhook responds,
// and replaying the same event reproduces the same state (at-least-once
// delivery). Events referencing users or subscriptions we do not have are
// logged and dropped so the provider stops redelivering them.

// HandleCheckoutCompleted activates the purchased plan for the user named in
// the session metadata.
func (s *StripeService) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID, err := strconv.ParseInt(sess.Metadata["user_id"], 10, 64)
	if err != nil || userID == 0 {
		log.Printf("checkout session %s missing user_id metadata", sess.ID)
		return nil
	}
	plan := models.Plan(sess.Metadata["plan"])
	if plan != models.PlanLifetime {
		plan = models.PlanPro
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("checkout completed for unknown user %d, dropping event", userID)
			return nil
		}
		return err
	}

	sub, err := s.store.SubscriptionByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	sub.UserID = user.ID

	if plan == models.PlanLifetime {
		if err := s.store.SetLifetimeLicense(ctx, user.ID); err != nil {
			return err
		}
		sub.Plan = models.PlanLifetime
		sub.Status = models.StatusLifetime
		if err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		log.Printf("activated lifetime license for user %d", user.ID)
		return nil
	}

	sub.Plan = models.PlanPro
	sub.Status = models.StatusActive
	if sess.Subscription != nil {
		sub.StripeSubscriptionID = sess.Subscription.ID
		start, end, err := s.billingPeriod(sess.Subscription)
		if err != nil {
			// Period dates are cosmetic; the activation still commits.
			log.Printf("fetch billing period for %s failed: %v", sess.Subscription.ID, err)
		} else {
			sub.CurrentPeriodStart = start
			sub.CurrentPeriodEnd = end
		}
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	log.Printf("activated pro subscription for user %d", user.ID)
	return nil
}

// billingPeriod reads the current period from the session's subscription,
// fetching the full object from Stripe when the event carried only a
// reference.
func (s *StripeService) billingPeriod(sub *stripe.Subscription) (*time.Time, *time.Time, error) {
	if sub.CurrentPeriodEnd == 0 {
		full, err := stripesub.Get(sub.ID, nil)
		if err != nil {
			return nil, nil, err
		}
		sub = full
	}
	return unixTime(sub.CurrentPeriodStart), unixTime(sub.CurrentPeriodEnd), nil
}

// HandleSubscriptionUpdated maps the provider status onto the local enum and
// copies the billing period verbatim.
func (s *StripeService) HandleSubscriptionUpdated(ctx context.Context, stripeSub *stripe.Subscription) error {
	sub, err := s.store.SubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("subscription %s not found, dropping update event", stripeSub.ID)
			return nil
		}
		return err
	}

	sub.Status = models.SubscriptionStatusFromStripe(string(stripeSub.Status))
	sub.CurrentPeriodStart = unixTime(stripeSub.CurrentPeriodStart)
	sub.CurrentPeriodEnd = unixTime(stripeSub.CurrentPeriodEnd)
	sub.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	log.Printf("updated subscription %s to %s", stripeSub.ID, sub.Status)
	return nil
}

// HandleSubscriptionDeleted downgrades to the free plan immediately. Stripe
// sends this event at period end when the user cancelled with
// cancel_at_period_end, so the deferral is the provider's job.
func (s *StripeService) HandleSubscriptionDeleted(ctx context.Context, stripeSub *stripe.Subscription) error {
	sub, err := s.store.SubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("subscription %s not found, dropping delete event", stripeSub.ID)
			return nil
		}
		return err
	}

	sub.Status = models.StatusCancelled
	sub.Plan = models.PlanFree

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	log.Printf("cancelled subscription %s", stripeSub.ID)
	return nil
}

// FindOrCreateUserByEmail backs checkout: users buying before signing up get
// a row created lazily with the free-tier starting balance.
func (s *StripeService) FindOrCreateUserByEmail(ctx context.Context, email string) (models.User, error) {
	user, err := s.store.UserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, err
	}

	user, err = s.store.CreateUser(ctx, email, "", s.cfg.Tokens.FreeTokens)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Raced with another request creating the same user.
			return s.store.UserByEmail(ctx, email)
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
