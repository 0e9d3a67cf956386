package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example/aegis-portal/app/models"
)

// signWebhookPayload builds a Stripe-Signature header the verifier accepts.
func signWebhookPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(router http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func webhookEvent(t *testing.T, eventType string, object any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_test_1",
		"type": eventType,
		"data": map[string]any{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	a, _, router := newTestApp(t)
	payload := webhookEvent(t, "invoice.paid", map[string]any{"id": "in_1"})

	t.Run("missing signature", func(t *testing.T) {
		if w := postWebhook(router, payload, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := signWebhookPayload("whsec_wrong", payload)
		if w := postWebhook(router, payload, sig); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := signWebhookPayload(a.Cfg.Stripe.WebhookSecret, payload)
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = 'X'
		if w := postWebhook(router, tampered, sig); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	a, st, router := newTestApp(t)
	user := newTestUser(t, st, 5000)

	payload := webhookEvent(t, "checkout.session.completed", map[string]any{
		"id": "cs_hook_1",
		"metadata": map[string]string{
			"user_id": fmt.Sprintf("%d", user.ID),
			"plan":    "lifetime",
		},
	})
	sig := signWebhookPayload(a.Cfg.Stripe.WebhookSecret, payload)

	w := postWebhook(router, payload, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	fresh, _ := st.UserByID(context.Background(), user.ID)
	if !fresh.LifetimeLicense {
		t.Fatalf("webhook did not set the lifetime license")
	}
}

func TestStripeWebhookSubscriptionDeleted(t *testing.T) {
	a, st, router := newTestApp(t)
	user := newTestUser(t, st, 0)

	seed := models.Subscription{
		UserID:               user.ID,
		Plan:                 models.PlanPro,
		Status:               models.StatusActive,
		StripeSubscriptionID: "sub_hook_1",
	}
	if err := st.UpsertSubscription(context.Background(), seed); err != nil {
		t.Fatalf("UpsertSubscription error = %v", err)
	}

	payload := webhookEvent(t, "customer.subscription.deleted", map[string]any{"id": "sub_hook_1"})
	sig := signWebhookPayload(a.Cfg.Stripe.WebhookSecret, payload)

	w := postWebhook(router, payload, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	sub, _ := st.SubscriptionByUserID(context.Background(), user.ID)
	if sub.Plan != models.PlanFree || sub.Status != models.StatusCancelled {
		t.Fatalf("subscription = %+v", sub)
	}
}

func TestStripeWebhookAcksUnhandledAndOrphanedEvents(t *testing.T) {
	a, _, router := newTestApp(t)

	cases := []struct {
		name    string
		payload []byte
	}{
		{"unknown type", webhookEvent(t, "charge.refunded", map[string]any{"id": "ch_1"})},
		{"orphaned update", webhookEvent(t, "customer.subscription.updated", map[string]any{"id": "sub_ghost", "status": "active"})},
		{"orphaned checkout", webhookEvent(t, "checkout.session.completed", map[string]any{
			"id":       "cs_ghost",
			"metadata": map[string]string{"user_id": "999", "plan": "pro"},
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := signWebhookPayload(a.Cfg.Stripe.WebhookSecret, tc.payload)
			w := postWebhook(router, tc.payload, sig)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 ack: %s", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), "received") {
				t.Fatalf("unexpected ack body: %s", w.Body.String())
			}
		})
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	_, _, router := newTestApp(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing fields", `{}`},
		{"free plan", `{"user_email":"a@b.test","plan":"free"}`},
		{"unknown plan", `{"user_email":"a@b.test","plan":"platinum"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/checkout", "", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreatePortalUnknownUser(t *testing.T) {
	_, _, router := newTestApp(t)

	w := doRequest(router, http.MethodPost, "/api/portal", "", `{"user_email":"nobody@example.test"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}
