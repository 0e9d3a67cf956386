// Package memory implements store.Store in process memory. It backs the
// service and handler tests and is usable for local development without a
// database. A single mutex provides the per-user write boundary the
// interface requires.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	users         map[int64]models.User
	subscriptions map[int64]models.Subscription // keyed by user id
	ledger        []models.LedgerEntry
	apiKeys       map[uuid.UUID]models.APIKey

	nextUserID   int64
	nextSubID    int64
	nextLedgerID int64
}

func New() *Store {
	return &Store{
		users:         make(map[int64]models.User),
		subscriptions: make(map[int64]models.Subscription),
		apiKeys:       make(map[uuid.UUID]models.APIKey),
	}
}

func (s *Store) CreateUser(_ context.Context, email, passwordHash string, startingBalance int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return models.User{}, store.ErrAlreadyExists
		}
	}
	s.nextUserID++
	user := models.User{
		ID:           s.nextUserID,
		Email:        email,
		PasswordHash: passwordHash,
		TokenBalance: startingBalance,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) UserByID(_ context.Context, id int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, store.ErrNotFound
}

func (s *Store) SetStripeCustomerID(_ context.Context, userID int64, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.StripeCustomerID = customerID
	s.users[userID] = user
	return nil
}

func (s *Store) SetLifetimeLicense(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.LifetimeLicense = true
	s.users[userID] = user
	return nil
}

func (s *Store) SubscriptionByUserID(_ context.Context, userID int64) (models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return models.Subscription{}, store.ErrNotFound
	}
	return sub, nil
}

func (s *Store) SubscriptionByStripeID(_ context.Context, stripeSubID string) (models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stripeSubID != "" {
		for _, sub := range s.subscriptions {
			if sub.StripeSubscriptionID == stripeSubID {
				return sub, nil
			}
		}
	}
	return models.Subscription{}, store.ErrNotFound
}

func (s *Store) UpsertSubscription(_ context.Context, sub models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subscriptions[sub.UserID]; ok {
		sub.ID = existing.ID
	} else {
		s.nextSubID++
		sub.ID = s.nextSubID
	}
	s.subscriptions[sub.UserID] = sub
	return nil
}

func (s *Store) Deduct(_ context.Context, userID int64, cost int, action models.TokenAction, description, projectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if cost > user.TokenBalance {
		return user.TokenBalance, store.ErrInsufficientBalance
	}

	user.TokenBalance -= cost
	s.users[userID] = user
	s.appendEntry(userID, action, -cost, user.TokenBalance, description, projectID)
	return user.TokenBalance, nil
}

func (s *Store) Credit(_ context.Context, userID int64, amount int, action models.TokenAction, description string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}

	user.TokenBalance += amount
	s.users[userID] = user
	s.appendEntry(userID, action, amount, user.TokenBalance, description, "")
	return user.TokenBalance, nil
}

// appendEntry must be called with the mutex held.
func (s *Store) appendEntry(userID int64, action models.TokenAction, amount, balanceAfter int, description, projectID string) {
	s.nextLedgerID++
	s.ledger = append(s.ledger, models.LedgerEntry{
		ID:           s.nextLedgerID,
		UserID:       userID,
		Action:       action,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		ProjectID:    projectID,
		CreatedAt:    time.Now().UTC(),
	})
}

func (s *Store) RecentLedger(_ context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
		}
	}
	return out, nil
}

func (s *Store) CreateAPIKey(_ context.Context, key models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.apiKeys {
		if k.KeyHash == key.KeyHash {
			return store.ErrAlreadyExists
		}
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) APIKeyByHash(_ context.Context, keyHash string) (models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.apiKeys {
		if k.KeyHash == keyHash {
			return k, nil
		}
	}
	return models.APIKey{}, store.ErrNotFound
}

func (s *Store) APIKeysByUser(_ context.Context, userID int64) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.APIKey
	for _, k := range s.apiKeys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id uuid.UUID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok || key.UserID != userID {
		return store.ErrNotFound
	}
	key.Revoked = true
	s.apiKeys[id] = key
	return nil
}

func (s *Store) TouchAPIKey(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return store.ErrNotFound
	}
	key.LastUsedAt = &usedAt
	s.apiKeys[id] = key
	return nil
}
