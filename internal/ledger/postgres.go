package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wpshiftstudio/payin3/internal/database"
	"github.com/wpshiftstudio/payin3/internal/models"
)

// PostgresStore is the durable Store backed by PostgreSQL
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const installmentColumns = `id, subscription_id, order_id, amount, due_date, status,
	COALESCE(transaction_id, ''), failed_at, retries`

const subscriptionColumns = `id, order_id, customer_id, status, payment_gateway_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstallment(row rowScanner) (models.Installment, error) {
	var inst models.Installment
	var failedAt sql.NullTime
	err := row.Scan(
		&inst.ID, &inst.SubscriptionID, &inst.OrderID, &inst.Amount, &inst.DueDate, &inst.Status,
		&inst.TransactionID, &failedAt, &inst.Retries,
	)
	if err != nil {
		return inst, err
	}
	if failedAt.Valid {
		t := failedAt.Time
		inst.FailedAt = &t
	}
	return inst, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.OrderID, &s.CustomerID, &s.Status, &s.PaymentGatewayID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreatePlan inserts the subscription and its installments in one transaction
func (s *PostgresStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		sub := plan.Subscription
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+SubscriptionsTable+` (id, order_id, customer_id, status, payment_gateway_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sub.ID, sub.OrderID, sub.CustomerID, sub.Status, sub.PaymentGatewayID, sub.CreatedAt, sub.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert subscription: %w", err)
		}

		for _, inst := range plan.Installments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO `+InstallmentsTable+` (id, subscription_id, order_id, amount, due_date, status, retries)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				inst.ID, inst.SubscriptionID, inst.OrderID, inst.Amount, inst.DueDate, inst.Status, inst.Retries,
			)
			if err != nil {
				return fmt.Errorf("failed to insert installment: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.Conn.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM `+SubscriptionsTable+` WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscriptionByOrderID(ctx context.Context, orderID string) (*models.Subscription, error) {
	row := s.db.Conn.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM `+SubscriptionsTable+` WHERE order_id = $1`, orderID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription by order: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListInstallments(ctx context.Context, subscriptionID string) ([]models.Installment, error) {
	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM `+InstallmentsTable+`
		WHERE subscription_id = $1
		ORDER BY due_date ASC, id ASC`, subscriptionID)
}

// DueInstallments retrieves installments eligible for a charge attempt
func (s *PostgresStore) DueInstallments(ctx context.Context, now time.Time, limit int) ([]models.Installment, error) {
	skip := make([]string, len(models.ExcludedFromDue))
	for i, st := range models.ExcludedFromDue {
		skip[i] = string(st)
	}

	query := `
		SELECT ` + installmentColumns + ` FROM ` + InstallmentsTable + `
		WHERE due_date <= $1
		  AND NOT (status = ANY($2))
		ORDER BY due_date ASC, id ASC`
	args := []interface{}{now, pq.Array(skip)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryInstallments(ctx, query, args...)
}

func (s *PostgresStore) ClaimInstallment(ctx context.Context, id string, from models.InstallmentStatus) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE `+InstallmentsTable+` i SET status = $1, updated_at = NOW()
		WHERE i.id = $2 AND i.status = $3
		  AND EXISTS (SELECT 1 FROM `+SubscriptionsTable+` s WHERE s.id = i.subscription_id AND s.status = $4)`,
		models.InstallmentStatusProcessing, id, from, models.SubscriptionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to claim installment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var instStatus, subStatus string
	err = s.db.Conn.QueryRowContext(ctx, `
		SELECT i.status, COALESCE(s.status, '')
		FROM `+InstallmentsTable+` i
		LEFT JOIN `+SubscriptionsTable+` s ON s.id = i.subscription_id
		WHERE i.id = $1`, id).Scan(&instStatus, &subStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInstallmentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check installment: %w", err)
	}
	if instStatus != string(from) {
		return ErrClaimConflict
	}
	return ErrSubscriptionClosed
}

func (s *PostgresStore) MarkInstallmentPaid(ctx context.Context, id, transactionID string) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE `+InstallmentsTable+` SET status = $1, transaction_id = $2, updated_at = NOW()
		WHERE id = $3`,
		models.InstallmentStatusPaid, transactionID, id)
	if err != nil {
		return fmt.Errorf("failed to mark installment paid: %w", err)
	}
	return s.expectOne(ctx, res, id, ErrInstallmentNotFound)
}

func (s *PostgresStore) MarkInstallmentFailed(ctx context.Context, id string, retries int, failedAt time.Time) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE `+InstallmentsTable+` SET status = $1, retries = $2, failed_at = $3, updated_at = NOW()
		WHERE id = $4`,
		models.InstallmentStatusFailed, retries, failedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark installment failed: %w", err)
	}
	return s.expectOne(ctx, res, id, ErrInstallmentNotFound)
}

func (s *PostgresStore) CountUnpaid(ctx context.Context, subscriptionID string) (int, error) {
	var n int
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM `+InstallmentsTable+`
		WHERE subscription_id = $1 AND status <> $2`,
		subscriptionID, models.InstallmentStatusPaid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpaid installments: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) TransitionSubscription(ctx context.Context, id string, from, to models.SubscriptionStatus) (bool, error) {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE `+SubscriptionsTable+` SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSubscription(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) CancelPlan(ctx context.Context, subscriptionID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE `+SubscriptionsTable+` SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.SubscriptionStatusFailed, subscriptionID)
		if err != nil {
			return fmt.Errorf("failed to fail subscription: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSubscriptionNotFound
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE `+InstallmentsTable+` SET status = $1, updated_at = NOW()
			WHERE subscription_id = $2 AND status <> $3`,
			models.InstallmentStatusCancelled, subscriptionID, models.InstallmentStatusPaid)
		if err != nil {
			return fmt.Errorf("failed to cancel installments: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListProcessing(ctx context.Context, before time.Time) ([]models.Installment, error) {
	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM `+InstallmentsTable+`
		WHERE status = $1 AND updated_at < $2
		ORDER BY due_date ASC, id ASC`,
		models.InstallmentStatusProcessing, before)
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO `+LogsTable+` (subscription_id, order_id, context, log_level, message, created_at)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $6)`,
		entry.SubscriptionID, entry.OrderID, entry.Context, entry.Level, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, subscriptionID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT id, COALESCE(subscription_id, ''), COALESCE(order_id, ''), context, log_level, message, created_at
		FROM `+LogsTable+`
		WHERE subscription_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.OrderID, &e.Context, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) queryInstallments(ctx context.Context, query string, args ...interface{}) ([]models.Installment, error) {
	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var installments []models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

// expectOne maps a zero-row update to ErrInstallmentNotFound when the row is
// gone, or to onMiss when it exists in another state.
func (s *PostgresStore) expectOne(ctx context.Context, res sql.Result, id string, onMiss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	err = s.db.Conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+InstallmentsTable+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check installment: %w", err)
	}
	if !exists {
		return ErrInstallmentNotFound
	}
	return onMiss
}
