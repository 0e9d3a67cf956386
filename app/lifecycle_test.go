package app

import (
	"context"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"

	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store/memory"
)

func TestHandleCheckoutCompletedPro(t *testing.T) {
	st := memory.New()
	svc := NewStripeService(st, newTestConfig())
	user := newTestUser(t, st, 5000)
	ctx := context.Background()

	periodStart := time.Now().UTC().Truncate(time.Second)
	periodEnd := periodStart.Add(30 * 24 * time.Hour)
	sess := &stripe.CheckoutSession{
		ID:       "cs_test_1",
		Metadata: map[string]string{"user_id": "1", "plan": "pro"},
		Subscription: &stripe.Subscription{
			ID:                 "sub_test_1",
			CurrentPeriodStart: periodStart.Unix(),
			CurrentPeriodEnd:   periodEnd.Unix(),
		},
	}

	if err := svc.HandleCheckoutCompleted(ctx, sess); err != nil {
		t.Fatalf("HandleCheckoutCompleted error = %v", err)
	}

	sub, err := st.SubscriptionByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("SubscriptionByUserID error = %v", err)
	}
	if sub.Plan != models.PlanPro || sub.Status != models.StatusActive || sub.StripeSubscriptionID != "sub_test_1" {
		t.Fatalf("subscription = %+v", sub)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, periodEnd)
	}

	// Replaying the same event must land in the same state with one row.
	if err := svc.HandleCheckoutCompleted(ctx, sess); err != nil {
		t.Fatalf("replay error = %v", err)
	}
	replayed, _ := st.SubscriptionByUserID(ctx, user.ID)
	if replayed.ID != sub.ID || replayed.Status != models.StatusActive {
		t.Fatalf("replay changed state: %+v vs %+v", replayed, sub)
	}
}

func TestHandleCheckoutCompletedLifetime(t *testing.T) {
	st := memory.New()
	svc := NewStripeService(st, newTestConfig())
	user := newTestUser(t, st, 0)
	ctx := context.Background()

	sess := &stripe.CheckoutSession{
		ID:       "cs_test_2",
		Metadata: map[string]string{"user_id": "1", "plan": "lifetime"},
	}
	if err := svc.HandleCheckoutCompleted(ctx, sess); err != nil {
		t.Fatalf("HandleCheckoutCompleted error = %v", err)
	}

	fresh, _ := st.UserByID(ctx, user.ID)
	if !fresh.LifetimeLicense {
		t.Fatalf("lifetime license not set")
	}
	sub, err := st.SubscriptionByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("SubscriptionByUserID error = %v", err)
	}
	if sub.Plan != models.PlanLifetime || sub.Status != models.StatusLifetime {
		t.Fatalf("subscription = %+v", sub)
	}

	// Token balance stays untouched; a lifetime license bypasses metering.
	access := DecideAccess(fresh, &sub, "")
	if !access.Allowed || !access.Unlimited {
		t.Fatalf("lifetime access = %+v", access)
	}
}

func TestHandleCheckoutCompletedUnknownUserDropped(t *testing.T) {
	st := memory.New()
	svc := NewStripeService(st, newTestConfig())

	sess := &stripe.CheckoutSession{
		ID:       "cs_test_3",
		Metadata: map[string]string{"user_id": "99", "plan": "pro"},
	}
	// Unknown users are logged and dropped so the provider stops retrying.
	if err := svc.HandleCheckoutCompleted(context.Background(), sess); err != nil {
		t.Fatalf("unknown user should not error, got %v", err)
	}
}

func TestHandleSubscriptionUpdatedStatusMapping(t *testing.T) {
	cases := []struct {
		provider string
		want     models.SubscriptionStatus
	}{
		{"active", models.StatusActive},
		{"trialing", models.StatusTrialing},
		{"canceled", models.StatusCancelled},
		{"past_due", models.StatusExpired},
		{"unpaid", models.StatusExpired},
		{"incomplete", models.StatusExpired},
	}

	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			st := memory.New()
			svc := NewStripeService(st, newTestConfig())
			user := newTestUser(t, st, 0)
			ctx := context.Background()

			seed := models.Subscription{
				UserID:               user.ID,
				Plan:                 models.PlanPro,
				Status:               models.StatusActive,
				StripeSubscriptionID: "sub_map",
			}
			if err := st.UpsertSubscription(ctx, seed); err != nil {
				t.Fatalf("UpsertSubscription error = %v", err)
			}

			end := time.Now().UTC().Truncate(time.Second).Add(24 * time.Hour)
			update := &stripe.Subscription{
				ID:                "sub_map",
				Status:            stripe.SubscriptionStatus(tc.provider),
				CurrentPeriodEnd:  end.Unix(),
				CancelAtPeriodEnd: true,
			}
			if err := svc.HandleSubscriptionUpdated(ctx, update); err != nil {
				t.Fatalf("HandleSubscriptionUpdated error = %v", err)
			}

			sub, _ := st.SubscriptionByUserID(ctx, user.ID)
			if sub.Status != tc.want {
				t.Fatalf("status = %s, want %s", sub.Status, tc.want)
			}
			if !sub.CancelAtPeriodEnd {
				t.Fatalf("cancel_at_period_end not copied")
			}
			if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(end) {
				t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, end)
			}
		})
	}
}

func TestHandleSubscriptionUpdatedUnknownDropped(t *testing.T) {
	st := memory.New()
	svc := NewStripeService(st, newTestConfig())

	update := &stripe.Subscription{ID: "sub_missing", Status: stripe.SubscriptionStatusActive}
	if err := svc.HandleSubscriptionUpdated(context.Background(), update); err != nil {
		t.Fatalf("unknown subscription should not error, got %v", err)
	}
}

func TestHandleSubscriptionDeletedDowngradesToFree(t *testing.T) {
	st := memory.New()
	svc := NewStripeService(st, newTestConfig())
	user := newTestUser(t, st, 0)
	ctx := context.Background()

	seed := models.Subscription{
		UserID:               user.ID,
		Plan:                 models.PlanPro,
		Status:               models.StatusActive,
		StripeSubscriptionID: "sub_del",
	}
	if err := st.UpsertSubscription(ctx, seed); err != nil {
		t.Fatalf("UpsertSubscription error = %v", err)
	}

	if err := svc.HandleSubscriptionDeleted(ctx, &stripe.Subscription{ID: "sub_del"}); err != nil {
		t.Fatalf("HandleSubscriptionDeleted error = %v", err)
	}

	sub, _ := st.SubscriptionByUserID(ctx, user.ID)
	if sub.Plan != models.PlanFree || sub.Status != models.StatusCancelled {
		t.Fatalf("subscription after delete = %+v", sub)
	}

	// With the trial already spent, the user is now gated.
	fresh, _ := st.UserByID(ctx, user.ID)
	access := DecideAccess(fresh, &sub, "")
	if access.Allowed {
		t.Fatalf("downgraded user with 0 tokens should be denied: %+v", access)
	}
}

func TestFindOrCreateUserByEmail(t *testing.T) {
	st := memory.New()
	svc := NewStripeService(st, newTestConfig())
	ctx := context.Background()

	user, err := svc.FindOrCreateUserByEmail(ctx, "buyer@example.test")
	if err != nil {
		t.Fatalf("FindOrCreateUserByEmail error = %v", err)
	}
	if user.TokenBalance != 5000 {
		t.Fatalf("lazy-created balance = %d, want 5000", user.TokenBalance)
	}

	again, err := svc.FindOrCreateUserByEmail(ctx, "buyer@example.test")
	if err != nil {
		t.Fatalf("second lookup error = %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("second lookup created a new user: %d vs %d", again.ID, user.ID)
	}
}
