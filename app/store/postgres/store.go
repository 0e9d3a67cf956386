// Package postgres implements store.Store on Postgres via database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"example/aegis-portal/app/models"
	"example/aegis-portal/app/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open connects, pings, and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			token_balance INT NOT NULL DEFAULT 0,
			lifetime_license BOOLEAN NOT NULL DEFAULT FALSE,
			stripe_customer_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_stripe_customer_idx
			ON users (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT UNIQUE NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plan TEXT NOT NULL DEFAULT 'free',
			status TEXT NOT NULL DEFAULT 'trialing',
			stripe_subscription_id TEXT UNIQUE,
			current_period_start TIMESTAMPTZ,
			current_period_end TIMESTAMPTZ,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS token_ledger (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			action TEXT NOT NULL,
			amount INT NOT NULL,
			balance_after INT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS token_ledger_user_idx ON token_ledger (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT 'Default Key',
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, startingBalance int) (models.User, error) {
	const q = `
		INSERT INTO users (email, password_hash, token_balance)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, token_balance, lifetime_license, stripe_customer_id, created_at;
	`
	user, err := scanUser(s.db.QueryRowContext(ctx, q, email, passwordHash, startingBalance))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.User{}, store.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (models.User, error) {
	const q = `
		SELECT id, email, password_hash, token_balance, lifetime_license, stripe_customer_id, created_at
		FROM users WHERE id = $1;
	`
	return userOrNotFound(scanUser(s.db.QueryRowContext(ctx, q, id)))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	const q = `
		SELECT id, email, password_hash, token_balance, lifetime_license, stripe_customer_id, created_at
		FROM users WHERE email = $1;
	`
	return userOrNotFound(scanUser(s.db.QueryRowContext(ctx, q, email)))
}

func (s *Store) SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	return s.execOne(ctx, `UPDATE users SET stripe_customer_id = $1 WHERE id = $2;`, customerID, userID)
}

func (s *Store) SetLifetimeLicense(ctx context.Context, userID int64) error {
	return s.execOne(ctx, `UPDATE users SET lifetime_license = TRUE WHERE id = $1;`, userID)
}

func (s *Store) SubscriptionByUserID(ctx context.Context, userID int64) (models.Subscription, error) {
	const q = subscriptionColumns + ` WHERE user_id = $1;`
	return subOrNotFound(scanSubscription(s.db.QueryRowContext(ctx, q, userID)))
}

func (s *Store) SubscriptionByStripeID(ctx context.Context, stripeSubID string) (models.Subscription, error) {
	const q = subscriptionColumns + ` WHERE stripe_subscription_id = $1;`
	return subOrNotFound(scanSubscription(s.db.QueryRowContext(ctx, q, stripeSubID)))
}

func (s *Store) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	const q = `
		INSERT INTO subscriptions (
			user_id, plan, status, stripe_subscription_id,
			current_period_start, current_period_end, cancel_at_period_end
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end;
	`
	_, err := s.db.ExecContext(ctx, q,
		sub.UserID,
		string(sub.Plan),
		string(sub.Status),
		nullIfEmpty(sub.StripeSubscriptionID),
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
	)
	return err
}

// Deduct performs the check-then-deduct sequence inside one serializable
// transaction with the user row locked, so concurrent spends for the same
// user serialize instead of both passing the balance check.
func (s *Store) Deduct(ctx context.Context, userID int64, cost int, action models.TokenAction, description, projectID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `SELECT token_balance FROM users WHERE id = $1 FOR UPDATE;`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	if cost > balance {
		return balance, store.ErrInsufficientBalance
	}

	newBalance := balance - cost
	if _, err := tx.ExecContext(ctx, `UPDATE users SET token_balance = $1 WHERE id = $2;`, newBalance, userID); err != nil {
		return 0, err
	}
	if err := insertLedgerEntry(ctx, tx, userID, action, -cost, newBalance, description, projectID); err != nil {
		return 0, err
	}
	return newBalance, tx.Commit()
}

// Credit adds amount unconditionally; the write and the ledger insert share
// one transaction.
func (s *Store) Credit(ctx context.Context, userID int64, amount int, action models.TokenAction, description string) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `SELECT token_balance FROM users WHERE id = $1 FOR UPDATE;`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}

	newBalance := balance + amount
	if _, err := tx.ExecContext(ctx, `UPDATE users SET token_balance = $1 WHERE id = $2;`, newBalance, userID); err != nil {
		return 0, err
	}
	if err := insertLedgerEntry(ctx, tx, userID, action, amount, newBalance, description, ""); err != nil {
		return 0, err
	}
	return newBalance, tx.Commit()
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, userID int64, action models.TokenAction, amount, balanceAfter int, description, projectID string) error {
	const q = `
		INSERT INTO token_ledger (user_id, action, amount, balance_after, description, project_id)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := tx.ExecContext(ctx, q, userID, string(action), amount, balanceAfter, description, projectID)
	return err
}

func (s *Store) RecentLedger(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	const q = `
		SELECT id, user_id, action, amount, balance_after, description, project_id, created_at
		FROM token_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2;
	`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var action string
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Amount, &e.BalanceAfter, &e.Description, &e.ProjectID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = models.TokenAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateAPIKey(ctx context.Context, key models.APIKey) error {
	const q = `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := s.db.ExecContext(ctx, q, key.ID, key.UserID, key.KeyHash, key.KeyPrefix, key.Name, key.Revoked, key.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return store.ErrAlreadyExists
		}
	}
	return err
}

func (s *Store) APIKeyByHash(ctx context.Context, keyHash string) (models.APIKey, error) {
	const q = apiKeyColumns + ` WHERE key_hash = $1;`
	return keyOrNotFound(scanAPIKey(s.db.QueryRowContext(ctx, q, keyHash)))
}

func (s *Store) APIKeysByUser(ctx context.Context, userID int64) ([]models.APIKey, error) {
	const q = apiKeyColumns + ` WHERE user_id = $1 ORDER BY created_at DESC;`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID int64) error {
	return s.execOne(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1 AND user_id = $2;`, id, userID)
}

func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2;`, usedAt, id)
	return err
}

const subscriptionColumns = `
	SELECT id, user_id, plan, status, stripe_subscription_id,
		current_period_start, current_period_end, cancel_at_period_end
	FROM subscriptions`

const apiKeyColumns = `
	SELECT id, user_id, key_hash, key_prefix, name, revoked, last_used_at, created_at
	FROM api_keys`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var customerID sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TokenBalance, &u.LifetimeLicense, &customerID, &u.CreatedAt); err != nil {
		return models.User{}, err
	}
	u.StripeCustomerID = customerID.String
	return u, nil
}

func scanSubscription(row rowScanner) (models.Subscription, error) {
	var sub models.Subscription
	var plan, status string
	var stripeID sql.NullString
	var periodStart, periodEnd sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserID, &plan, &status, &stripeID, &periodStart, &periodEnd, &sub.CancelAtPeriodEnd); err != nil {
		return models.Subscription{}, err
	}
	sub.Plan = models.Plan(plan)
	sub.Status = models.SubscriptionStatus(status)
	sub.StripeSubscriptionID = stripeID.String
	if periodStart.Valid {
		t := periodStart.Time
		sub.CurrentPeriodStart = &t
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		sub.CurrentPeriodEnd = &t
	}
	return sub, nil
}

func scanAPIKey(row rowScanner) (models.APIKey, error) {
	var k models.APIKey
	var lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Revoked, &lastUsed, &k.CreatedAt); err != nil {
		return models.APIKey{}, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return k, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func userOrNotFound(u models.User, err error) (models.User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, store.ErrNotFound
	}
	return u, err
}

func subOrNotFound(sub models.Subscription, err error) (models.Subscription, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, store.ErrNotFound
	}
	return sub, err
}

func keyOrNotFound(k models.APIKey, err error) (models.APIKey, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return models.APIKey{}, store.ErrNotFound
	}
	return k, err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
