// Package purchase provides the Postgres-backed purchase ledger.
package purchase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Name of the partial unique index enforcing at most one completed
// purchase per (user, lesson). The migration creates it; Insert maps
// violations to ErrDuplicateCompleted.
const completedUniqueConstraint = "purchases_one_completed_per_user_lesson"

const purchaseColumns = `id, lesson_id, user_id, creator_id, amount_cents, platform_fee_cents,
	creator_earnings_cents, fee_percent, status, stripe_session_id, payment_intent_id,
	note, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Insert adds a new purchase row.
func (r *PostgresRepository) Insert(ctx context.Context, p *Purchase) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	now := time.Now()
	if p.CreatedAt == nil {
		p.CreatedAt = &now
	}
	if p.UpdatedAt == nil {
		p.UpdatedAt = &now
	}

	query := `
		INSERT INTO purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.LessonID, p.UserID, p.CreatorID,
		p.AmountCents, p.PlatformFeeCents, p.CreatorEarningsCents, p.FeePercent,
		p.Status, p.StripeSessionID, p.PaymentIntentID, p.Note,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == completedUniqueConstraint {
			return ErrDuplicateCompleted
		}
		r.logger.Error("failed to insert purchase",
			slog.String("purchase_id", p.ID),
			slog.String("lesson_id", p.LessonID),
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	return nil
}

// LatestByUserAndLesson returns the most recent purchase for the pair.
func (r *PostgresRepository) LatestByUserAndLesson(ctx context.Context, userID, lessonID string) (*Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = $1 AND lesson_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, lessonID))
}

// GetBySessionID returns the purchase with the given session ID.
func (r *PostgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE stripe_session_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sessionID))
}

// GetByPaymentIntentID returns the purchase with the given payment intent ID.
func (r *PostgresRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE payment_intent_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, paymentIntentID))
}

// PendingByUserAndLesson returns pending purchases for the pair, most recent first.
func (r *PostgresRepository) PendingByUserAndLesson(ctx context.Context, userID, lessonID string) ([]*Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = $1 AND lesson_id = $2 AND status = $3
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, lessonID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending purchases: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var pending []*Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending purchases: %w", err)
	}
	return pending, nil
}

// UpdateStatus sets the status and refreshes updated_at.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE purchases
		SET status = $2, updated_at = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		r.logger.Error("failed to update purchase status",
			slog.String("purchase_id", id),
			slog.String("status", status),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update purchase status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*Purchase, error) {
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPurchase(row rowScanner) (*Purchase, error) {
	var p Purchase
	var createdAt, updatedAt time.Time
	err := row.Scan(
		&p.ID, &p.LessonID, &p.UserID, &p.CreatorID,
		&p.AmountCents, &p.PlatformFeeCents, &p.CreatorEarningsCents, &p.FeePercent,
		&p.Status, &p.StripeSessionID, &p.PaymentIntentID, &p.Note,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan purchase: %w", err)
	}
	p.CreatedAt = &createdAt
	p.UpdatedAt = &updatedAt
	return &p, nil
}
