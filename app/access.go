// Package app implements the Aegis portal: access policy, token ledger,
// subscription lifecycle, and the HTTP handlers that expose them.
package app

import "example/aegis-portal/app/models"

// AccessDecision is the resolved entitlement for one user at one instant.
type AccessDecision struct {
	Allowed         bool
	Plan            models.Plan
	Status          models.SubscriptionStatus
	Balance         int // models.UnlimitedBalance when not metered
	Unlimited       bool
	LifetimeLicense bool
	Message         string
	UpgradeURL      string
}

// DecideAccess resolves entitlement with strict precedence, first match wins:
//
//  1. a lifetime license grants unlimited access regardless of any
//     subscription row,
//  2. an active pro subscription grants unlimited access,
//  3. everything else falls through to the free tier and is gated by the
//     raw token balance.
//
// sub is nil when the user has no subscription row. The function is pure;
// it is evaluated on every status check and before every spend.
func DecideAccess(user models.User, sub *models.Subscription, upgradeURL string) AccessDecision {
	if user.LifetimeLicense {
		return AccessDecision{
			Allowed:         true,
			Plan:            models.PlanLifetime,
			Status:          models.StatusLifetime,
			Balance:         models.UnlimitedBalance,
			Unlimited:       true,
			LifetimeLicense: true,
		}
	}

	if sub != nil && sub.Plan == models.PlanPro && sub.Status == models.StatusActive {
		return AccessDecision{
			Allowed:   true,
			Plan:      models.PlanPro,
			Status:    models.StatusActive,
			Balance:   models.UnlimitedBalance,
			Unlimited: true,
		}
	}

	if user.TokenBalance <= 0 {
		return AccessDecision{
			Allowed:    false,
			Plan:       models.PlanFree,
			Status:     models.StatusExpired,
			Balance:    0,
			Message:    "Free trial expired. Upgrade to continue.",
			UpgradeURL: upgradeURL,
		}
	}

	return AccessDecision{
		Allowed: true,
		Plan:    models.PlanFree,
		Status:  models.StatusTrialing,
		Balance: user.TokenBalance,
	}
}
