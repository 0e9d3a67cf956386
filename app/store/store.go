// Package store defines the persistence interface the portal services are
// written against. Navigation is query-driven: entities reference each other
// by id only, never by in-memory back-pointers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example/aegis-portal/app/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrInsufficientBalance is returned by Deduct when the balance re-checked
// at write time does not cover the cost. The balance is left untouched and
// no ledger entry is written.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store captures all persistence the portal needs.
//
// Deduct and Credit must be atomic: the balance write and the ledger insert
// succeed or fail together. Deduct must additionally re-check the balance
// under a per-user write boundary (row lock or equivalent), so that two
// concurrent deductions cannot both observe a sufficient balance and drive
// it negative.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, startingBalance int) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error
	SetLifetimeLicense(ctx context.Context, userID int64) error

	SubscriptionByUserID(ctx context.Context, userID int64) (models.Subscription, error)
	SubscriptionByStripeID(ctx context.Context, stripeSubID string) (models.Subscription, error)
	// UpsertSubscription creates or replaces the user's single subscription
	// row, keyed on UserID.
	UpsertSubscription(ctx context.Context, sub models.Subscription) error

	Deduct(ctx context.Context, userID int64, cost int, action models.TokenAction, description, projectID string) (newBalance int, err error)
	Credit(ctx context.Context, userID int64, amount int, action models.TokenAction, description string) (newBalance int, err error)
	// RecentLedger returns up to limit entries, newest first.
	RecentLedger(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)

	CreateAPIKey(ctx context.Context, key models.APIKey) error
	// APIKeyByHash returns the key regardless of revocation; callers decide
	// how to treat revoked keys.
	APIKeyByHash(ctx context.Context, keyHash string) (models.APIKey, error)
	APIKeysByUser(ctx context.Context, userID int64) ([]models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID int64) error
	TouchAPIKey(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}
