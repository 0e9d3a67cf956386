// Package client implements the desktop-side status checker: it validates
// the locally stored API key against the portal and interprets the response
// into a local entitlement decision. Transport failures never hard-gate the
// app; they degrade to a permissive offline status.
package client

import "fmt"

type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanLifetime Plan = "lifetime"
	PlanUnknown  Plan = "unknown"
)

type State string

const (
	StateActive    State = "active"
	StateTrialing  State = "trialing"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
	StateLifetime  State = "lifetime"
	StateUnknown   State = "unknown"
)

// Status is the client's view of the current subscription.
type Status struct {
	Valid        bool
	Plan         Plan
	State        State
	TokenBalance int
	Lifetime     bool
	Email        string
	ExpiresAt    string
	ErrorMessage string
	// Offline marks a status produced by a transport failure rather than a
	// server decision.
	Offline bool
}

// CanUseApp reports whether local feature use is permitted.
func (s Status) CanUseApp() bool {
	if s.Lifetime {
		return true
	}
	if s.State == StateActive || s.State == StateTrialing {
		return true
	}
	if s.Plan == PlanFree && s.TokenBalance > 0 {
		return true
	}
	return s.Offline
}

// TokensRemaining is the human-readable balance.
func (s Status) TokensRemaining() string {
	if s.Lifetime || s.Plan == PlanPro {
		return "Unlimited"
	}
	return fmt.Sprintf("%d", s.TokenBalance)
}

// Expired builds the hard-gated status: the server (or a missing key) said
// no.
func Expired(message string) Status {
	return Status{
		Plan:         PlanFree,
		State:        StateExpired,
		ErrorMessage: message,
	}
}

// OfflineStatus builds the permissive fallback used when the server is
// unreachable: limited trust, but the app stays usable.
func OfflineStatus() Status {
	return Status{
		Valid:        true,
		Plan:         PlanFree,
		State:        StateUnknown,
		Offline:      true,
		ErrorMessage: "Offline mode - limited functionality",
	}
}

func parsePlan(s string) Plan {
	switch Plan(s) {
	case PlanFree, PlanPro, PlanLifetime:
		return Plan(s)
	}
	return PlanFree
}

func parseState(s string) State {
	switch State(s) {
	case StateActive, StateTrialing, StateExpired, StateCancelled, StateLifetime:
		return State(s)
	}
	return StateUnknown
}
