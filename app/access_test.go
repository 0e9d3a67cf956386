package app

import (
	"testing"

	"example/aegis-portal/app/models"
)

const testUpgradeURL = "https://portal.test/billing"

func TestDecideAccessLifetimeWinsOverSubscription(t *testing.T) {
	user := models.User{ID: 1, LifetimeLicense: true, TokenBalance: 0}
	sub := &models.Subscription{UserID: 1, Plan: models.PlanPro, Status: models.StatusCancelled}

	got := DecideAccess(user, sub, testUpgradeURL)
	if !got.Allowed || got.Plan != models.PlanLifetime || got.Status != models.StatusLifetime {
		t.Fatalf("lifetime decision = %+v", got)
	}
	if got.Balance != models.UnlimitedBalance || !got.Unlimited || !got.LifetimeLicense {
		t.Fatalf("lifetime should be unlimited: %+v", got)
	}
}

func TestDecideAccessActivePro(t *testing.T) {
	user := models.User{ID: 2, TokenBalance: 0}
	sub := &models.Subscription{UserID: 2, Plan: models.PlanPro, Status: models.StatusActive}

	got := DecideAccess(user, sub, testUpgradeURL)
	if !got.Allowed || got.Plan != models.PlanPro || got.Status != models.StatusActive {
		t.Fatalf("pro decision = %+v", got)
	}
	if got.Balance != models.UnlimitedBalance || !got.Unlimited {
		t.Fatalf("active pro should be unlimited: %+v", got)
	}
	if got.LifetimeLicense {
		t.Fatalf("pro subscription must not report a lifetime license")
	}
}

func TestDecideAccessFreeTier(t *testing.T) {
	cases := []struct {
		name       string
		balance    int
		sub        *models.Subscription
		allowed    bool
		status     models.SubscriptionStatus
		wantbal    int
		wantHint   bool
	}{
		{"trial with tokens", 5000, nil, true, models.StatusTrialing, 5000, false},
		{"trial nearly spent", 1, nil, true, models.StatusTrialing, 1, false},
		{"trial exhausted", 0, nil, false, models.StatusExpired, 0, true},
		{"negative balance", -3, nil, false, models.StatusExpired, 0, true},
		{"cancelled pro falls to free", 0, &models.Subscription{Plan: models.PlanPro, Status: models.StatusCancelled}, false, models.StatusExpired, 0, true},
		{"expired pro with tokens left", 20, &models.Subscription{Plan: models.PlanPro, Status: models.StatusExpired}, true, models.StatusTrialing, 20, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecideAccess(models.User{ID: 3, TokenBalance: tc.balance}, tc.sub, testUpgradeURL)
			if got.Allowed != tc.allowed || got.Plan != models.PlanFree || got.Status != tc.status {
				t.Fatalf("decision = %+v, want allowed=%v status=%s", got, tc.allowed, tc.status)
			}
			if got.Balance != tc.wantbal {
				t.Fatalf("balance = %d, want %d", got.Balance, tc.wantbal)
			}
			if got.Unlimited {
				t.Fatalf("free tier is metered: %+v", got)
			}
			if tc.wantHint {
				if got.Message == "" || got.UpgradeURL != testUpgradeURL {
					t.Fatalf("denied decision missing upgrade hint: %+v", got)
				}
			} else if got.UpgradeURL != "" {
				t.Fatalf("allowed decision should not carry an upgrade hint: %+v", got)
			}
		})
	}
}
