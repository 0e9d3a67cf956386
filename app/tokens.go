package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"example/aegis-portal/app/config"
	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
)

// ErrInsufficientTokens is the wire error kind for every entitlement-denied
// spend outcome.
const ErrInsufficientTokens = "insufficient_tokens"

// TokenService owns balance reads, deductions, and credits. Every deduction
// is gated by the access policy and recorded in the ledger.
type TokenService struct {
	store store.Store
	cfg   *config.Config
}

func NewTokenService(st store.Store, cfg *config.Config) *TokenService {
	return &TokenService{store: st, cfg: cfg}
}

// CheckAccess loads the user's subscription (at most one row) and delegates
// to the access policy. Side-effect free.
func (s *TokenService) CheckAccess(ctx context.Context, user models.User) (AccessDecision, error) {
	sub, err := s.subscriptionOf(ctx, user.ID)
	if err != nil {
		return AccessDecision{}, err
	}
	return DecideAccess(user, sub, s.cfg.BillingURL()), nil
}

func (s *TokenService) subscriptionOf(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := s.store.SubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// SpendResult reports one spend attempt. On failure Error carries the kind
// and Required the action's cost.
type SpendResult struct {
	Success    bool
	TokensUsed int
	Balance    int
	Plan       models.Plan
	Error      string
	Required   int
	Message    string
	UpgradeURL string
}

// Spend deducts the static cost of action from the user's balance. Unlimited
// plans are not metered: the call succeeds with zero tokens used and no
// ledger entry. The store re-checks the balance at write time, so a
// concurrent spend that wins the race surfaces here as an insufficient
// result rather than a negative balance.
func (s *TokenService) Spend(ctx context.Context, user models.User, action models.TokenAction, projectID string) (SpendResult, error) {
	access, err := s.CheckAccess(ctx, user)
	if err != nil {
		return SpendResult{}, err
	}

	if !access.Allowed {
		message := access.Message
		if message == "" {
			message = "No tokens remaining"
		}
		return SpendResult{
			Error:      ErrInsufficientTokens,
			Balance:    0,
			Plan:       models.PlanFree,
			Message:    message,
			UpgradeURL: s.cfg.BillingURL(),
		}, nil
	}

	if access.Unlimited {
		return SpendResult{
			Success: true,
			Balance: models.UnlimitedBalance,
			Plan:    access.Plan,
		}, nil
	}

	cost := s.cfg.Tokens.Cost(action)
	if cost > user.TokenBalance {
		return s.insufficient(user.TokenBalance, cost), nil
	}

	description := fmt.Sprintf("Spent %d tokens on %s", cost, action)
	newBalance, err := s.store.Deduct(ctx, user.ID, cost, action, description, projectID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			// Lost the race to a concurrent spend; newBalance holds the
			// fresh value.
			return s.insufficient(newBalance, cost), nil
		}
		return SpendResult{}, err
	}

	log.Printf("user %d spent %d tokens on %s, new balance: %d", user.ID, cost, action, newBalance)

	return SpendResult{
		Success:    true,
		TokensUsed: cost,
		Balance:    newBalance,
		Plan:       models.PlanFree,
	}, nil
}

func (s *TokenService) insufficient(balance, cost int) SpendResult {
	return SpendResult{
		Error:      ErrInsufficientTokens,
		Balance:    balance,
		Plan:       models.PlanFree,
		Required:   cost,
		Message:    fmt.Sprintf("This action requires %d tokens but you only have %d", cost, balance),
		UpgradeURL: s.cfg.BillingURL(),
	}
}

type CreditResult struct {
	TokensAdded int
	Balance     int
}

// Credit unconditionally adds amount to the user's balance and records a
// positive ledger entry. No access check; used for signup bonuses and
// purchases.
func (s *TokenService) Credit(ctx context.Context, user models.User, amount int, action models.TokenAction, description string) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	if description == "" {
		description = fmt.Sprintf("Credited %d tokens", amount)
	}

	newBalance, err := s.store.Credit(ctx, user.ID, amount, action, description)
	if err != nil {
		return CreditResult{}, err
	}

	log.Printf("credited %d tokens to user %d, new balance: %d", amount, user.ID, newBalance)

	return CreditResult{TokensAdded: amount, Balance: newBalance}, nil
}

// historyLimit caps the ledger slice returned in balance reports.
const historyLimit = 20

type BalanceReport struct {
	Access  AccessDecision
	History []models.LedgerEntry // newest first
}

// GetBalance combines the access decision with the most recent ledger
// entries. Read-only.
func (s *TokenService) GetBalance(ctx context.Context, user models.User) (BalanceReport, error) {
	access, err := s.CheckAccess(ctx, user)
	if err != nil {
		return BalanceReport{}, err
	}
	history, err := s.store.RecentLedger(ctx, user.ID, historyLimit)
	if err != nil {
		return BalanceReport{}, err
	}
	return BalanceReport{Access: access, History: history}, nil
}
