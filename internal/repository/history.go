package repository

import (
	"context"
	"fmt"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// HistoryRepository serves the paginated payment-history read path. It runs
// over sqlx on the same database as PostgresStore; history reads never
// contend with ledger transactions.
type HistoryRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewHistoryRepository opens a secondary read connection for history
// queries.
func NewHistoryRepository(dsn string, log *logger.Logger) (*HistoryRepository, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect history repository: %w", err)
	}
	db.SetMaxOpenConns(5)
	return &HistoryRepository{db: db, log: log}, nil
}

// Close closes the read connection.
func (r *HistoryRepository) Close() error {
	return r.db.Close()
}

// Page is one page of payment history.
type Page struct {
	Payments []domain.PaymentRecord `json:"payments"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// ListByUser returns one page of the user's payments ordered by timestamp
// descending, plus the total count for pagination.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) (*Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM payments WHERE user_id = $1`, userID); err != nil {
		r.log.Errorw("Failed to count payments", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	payments := make([]domain.PaymentRecord, 0, limit)
	err := r.db.SelectContext(ctx, &payments, `
        SELECT payment_id, user_id, plan_name, amount_cents, payment_method,
               status, kind, stripe_payment_id, created_at
        FROM payments
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		r.log.Errorw("Failed to list payments", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return &Page{Payments: payments, Total: total, Limit: limit, Offset: offset}, nil
}
