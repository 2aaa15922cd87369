package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	defaultQueryTimeout   = 5 * time.Second
	advisoryLockNamespace = 0x6372 // "cr", keeps our locks apart from other apps on the same DB
)

// PostgresStore implements Store on top of a pgx connection pool. Per-user
// serialization relies on a transaction-scoped advisory lock keyed by
// userID, so two operations on the same user queue up even before the
// subscription row exists.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	log          *logger.Logger
}

// NewPostgresStore creates the store and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string, queryTimeout time.Duration, log *logger.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	log.Infow("Connected to PostgreSQL")
	return &PostgresStore{pool: pool, queryTimeout: queryTimeout, log: log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// WithSubscription runs fn inside a transaction holding the per-user
// advisory lock. Serialization failures and lock races surface as
// domain.ErrConcurrentConflict; deadline errors as ErrStoreUnavailable.
func (s *PostgresStore) WithSubscription(ctx context.Context, userID string, fn func(tx SubscriptionTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapStoreError(err)
	}
	defer tx.Rollback(ctx)

	// pg_advisory_xact_lock releases with the transaction, commit or abort.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, advisoryLockNamespace, userID); err != nil {
		return mapStoreError(err)
	}

	if err := fn(&pgSubscriptionTx{ctx: ctx, tx: tx, userID: userID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapStoreError(err)
	}
	return nil
}

type pgSubscriptionTx struct {
	ctx    context.Context
	tx     pgx.Tx
	userID string
}

func (t *pgSubscriptionTx) Get() (*domain.Subscription, error) {
	row := t.tx.QueryRow(t.ctx, `
        SELECT user_id, plan_name, reports_left, plan_credits, start_date, end_date,
               auto_renew, stripe_customer_id, stripe_subscription_id, last_event_id, updated_at
        FROM subscriptions
        WHERE user_id = $1
        FOR UPDATE`, t.userID)

	var sub domain.Subscription
	err := row.Scan(&sub.UserID, &sub.PlanName, &sub.ReportsLeft, &sub.PlanCredits,
		&sub.StartDate, &sub.EndDate, &sub.AutoRenew, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.LastEventID, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapStoreError(err)
	}
	return &sub, nil
}

func (t *pgSubscriptionTx) Put(sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now()
	_, err := t.tx.Exec(t.ctx, `
        INSERT INTO subscriptions (
            user_id, plan_name, reports_left, plan_credits, start_date, end_date,
            auto_renew, stripe_customer_id, stripe_subscription_id, last_event_id, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (user_id) DO UPDATE SET
            plan_name = EXCLUDED.plan_name,
            reports_left = EXCLUDED.reports_left,
            plan_credits = EXCLUDED.plan_credits,
            start_date = EXCLUDED.start_date,
            end_date = EXCLUDED.end_date,
            auto_renew = EXCLUDED.auto_renew,
            stripe_customer_id = EXCLUDED.stripe_customer_id,
            stripe_subscription_id = EXCLUDED.stripe_subscription_id,
            last_event_id = EXCLUDED.last_event_id,
            updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.PlanName, sub.ReportsLeft, sub.PlanCredits, sub.StartDate,
		sub.EndDate, sub.AutoRenew, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.LastEventID, sub.UpdatedAt)
	return mapStoreError(err)
}

func (t *pgSubscriptionTx) InsertPayment(rec *domain.PaymentRecord) error {
	_, err := t.tx.Exec(t.ctx, `
        INSERT INTO payments (
            payment_id, user_id, plan_name, amount_cents, payment_method,
            status, kind, stripe_payment_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.PaymentID, rec.UserID, rec.PlanName, rec.AmountCents, rec.PaymentMethod,
		rec.Status, rec.Kind, rec.StripePaymentID, rec.CreatedAt)
	return mapStoreError(err)
}

func (t *pgSubscriptionTx) CompletePayment(stripePaymentID string) error {
	tag, err := t.tx.Exec(t.ctx, `
        UPDATE payments SET status = 'completed'
        WHERE stripe_payment_id = $1 AND status = 'pending'`, stripePaymentID)
	if err != nil {
		return mapStoreError(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = t.tx.QueryRow(t.ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE stripe_payment_id = $1)`, stripePaymentID,
	).Scan(&exists)
	if err != nil {
		return mapStoreError(err)
	}
	if exists {
		return domain.ErrDuplicate
	}
	return domain.ErrNotFound
}

func (t *pgSubscriptionTx) EventApplied(eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, mapStoreError(err)
	}
	return exists, nil
}

func (t *pgSubscriptionTx) MarkEventApplied(eventID string) error {
	_, err := t.tx.Exec(t.ctx, `
        INSERT INTO processed_events (event_id, user_id, applied_at)
        VALUES ($1, $2, $3)`, eventID, t.userID, time.Now())
	return mapStoreError(err)
}

// GetSubscription reads a subscription outside of any transaction.
func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
        SELECT user_id, plan_name, reports_left, plan_credits, start_date, end_date,
               auto_renew, stripe_customer_id, stripe_subscription_id, last_event_id, updated_at
        FROM subscriptions
        WHERE user_id = $1`, userID)

	var sub domain.Subscription
	err := row.Scan(&sub.UserID, &sub.PlanName, &sub.ReportsLeft, &sub.PlanCredits,
		&sub.StartDate, &sub.EndDate, &sub.AutoRenew, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.LastEventID, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapStoreError(err)
	}
	return &sub, nil
}

// FindUserByCustomer resolves a Stripe customer id to the owning user.
func (s *PostgresStore) FindUserByCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM subscriptions WHERE stripe_customer_id = $1`, stripeCustomerID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", mapStoreError(err)
	}
	return userID, nil
}

// ListPayments returns the user's payment records, newest first.
func (s *PostgresStore) ListPayments(ctx context.Context, userID string, limit, offset int) ([]domain.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
        SELECT payment_id, user_id, plan_name, amount_cents, payment_method,
               status, kind, stripe_payment_id, created_at
        FROM payments
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, mapStoreError(err)
	}
	defer rows.Close()

	payments := make([]domain.PaymentRecord, 0)
	for rows.Next() {
		var rec domain.PaymentRecord
		if err := rows.Scan(&rec.PaymentID, &rec.UserID, &rec.PlanName, &rec.AmountCents,
			&rec.PaymentMethod, &rec.Status, &rec.Kind, &rec.StripePaymentID, &rec.CreatedAt); err != nil {
			return nil, mapStoreError(err)
		}
		payments = append(payments, rec)
	}
	return payments, mapStoreError(rows.Err())
}

// ListCards returns the user's saved cards, default first.
func (s *PostgresStore) ListCards(ctx context.Context, userID string) ([]domain.CardReference, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
        SELECT card_id, user_id, last_four, brand, expiry, is_default, stripe_payment_method_id
        FROM cards
        WHERE user_id = $1
        ORDER BY is_default DESC, card_id`, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	defer rows.Close()

	cards := make([]domain.CardReference, 0)
	for rows.Next() {
		var card domain.CardReference
		if err := rows.Scan(&card.CardID, &card.UserID, &card.LastFourDigits, &card.Brand,
			&card.ExpiryDate, &card.IsDefault, &card.StripePaymentMethodID); err != nil {
			return nil, mapStoreError(err)
		}
		cards = append(cards, card)
	}
	return cards, mapStoreError(rows.Err())
}

// SaveCard stores a card reference. When the card is marked default, any
// previous default for the user is cleared in the same transaction.
func (s *PostgresStore) SaveCard(ctx context.Context, card *domain.CardReference) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapStoreError(err)
	}
	defer tx.Rollback(ctx)

	if card.IsDefault {
		if _, err := tx.Exec(ctx,
			`UPDATE cards SET is_default = FALSE WHERE user_id = $1 AND is_default`, card.UserID); err != nil {
			return mapStoreError(err)
		}
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO cards (card_id, user_id, last_four, brand, expiry, is_default, stripe_payment_method_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		card.CardID, card.UserID, card.LastFourDigits, card.Brand,
		card.ExpiryDate, card.IsDefault, card.StripePaymentMethodID); err != nil {
		return mapStoreError(err)
	}

	return mapStoreError(tx.Commit(ctx))
}

// DeleteCard removes a card reference.
func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM cards WHERE card_id = $1`, cardID)
	if err != nil {
		return mapStoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetDefaultCard makes cardID the single default card for the user.
func (s *PostgresStore) SetDefaultCard(ctx context.Context, userID, cardID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapStoreError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE cards SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID); err != nil {
		return mapStoreError(err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE cards SET is_default = TRUE WHERE card_id = $1 AND user_id = $2`, cardID, userID)
	if err != nil {
		return mapStoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return mapStoreError(tx.Commit(ctx))
}

// mapStoreError folds driver errors into the domain taxonomy.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrDuplicate, pgErr.ConstraintName)
		case pgSerializationFail, pgDeadlockDetected:
			return domain.ErrConcurrentConflict
		}
	}

	// Timeouts, connection failures and anything else unexpected all mean
	// the caller should answer "store unavailable", not hang.
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
