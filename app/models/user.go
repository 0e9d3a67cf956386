// Package models defines the entitlement data model: users, subscriptions,
// the token ledger, and API keys.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanLifetime Plan = "lifetime"
)

// ParsePlan validates a wire-supplied plan value.
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanFree, PlanPro, PlanLifetime:
		return Plan(s), nil
	}
	return "", fmt.Errorf("invalid plan: %q", s)
}

type SubscriptionStatus string

const (
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
	StatusLifetime  SubscriptionStatus = "lifetime"
)

// SubscriptionStatusFromStripe maps a Stripe subscription status onto the
// local enum. Failure-like provider statuses (past_due, unpaid, anything
// unrecognized) collapse to expired.
func SubscriptionStatusFromStripe(s string) SubscriptionStatus {
	switch s {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "canceled":
		return StatusCancelled
	default:
		return StatusExpired
	}
}

// TokenAction is the closed set of ledger action kinds. The last three are
// the metered actions a client may spend on.
type TokenAction string

const (
	ActionCredit      TokenAction = "credit"
	ActionDebit       TokenAction = "debit"
	ActionSignupBonus TokenAction = "signup_bonus"
	ActionPurchase    TokenAction = "purchase"
	ActionVibeCheck   TokenAction = "vibe_check"
	ActionContextSync TokenAction = "context_sync"
	ActionAgentRelay  TokenAction = "agent_relay"
)

// ParseTokenAction validates a wire-supplied action value.
func ParseTokenAction(s string) (TokenAction, error) {
	switch TokenAction(s) {
	case ActionCredit, ActionDebit, ActionSignupBonus, ActionPurchase,
		ActionVibeCheck, ActionContextSync, ActionAgentRelay:
		return TokenAction(s), nil
	}
	return "", fmt.Errorf("invalid action: %q", s)
}

// UnlimitedBalance is the reserved sentinel reported for plans that are not
// metered. It is never stored as a real balance; consumers must never
// subtract from it.
const UnlimitedBalance = -1

type User struct {
	ID               int64
	Email            string
	PasswordHash     string // empty for users created lazily at checkout
	TokenBalance     int
	LifetimeLicense  bool
	StripeCustomerID string
	CreatedAt        time.Time
}

// Subscription tracks the at-most-one billing subscription per user.
type Subscription struct {
	ID                   int64
	UserID               int64
	Plan                 Plan
	Status               SubscriptionStatus
	StripeSubscriptionID string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
}

// LedgerEntry is an immutable audit record of one balance change. For a
// given user, entries ordered by creation time form a running sum:
// each BalanceAfter equals the previous BalanceAfter plus Amount.
type LedgerEntry struct {
	ID           int64
	UserID       int64
	Action       TokenAction
	Amount       int // negative for debits
	BalanceAfter int
	Description  string
	ProjectID    string
	CreatedAt    time.Time
}

// APIKey authenticates the desktop client. Only the sha256 hash of the key
// material is stored; the full key is shown once at creation.
type APIKey struct {
	ID         uuid.UUID
	UserID     int64
	KeyHash    string
	KeyPrefix  string // truncated display form, e.g. "aegis_abc123..."
	Name       string
	Revoked    bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
}
