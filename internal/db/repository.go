package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxConns, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Report operations

func (r *Repository) CreateReport(ctx context.Context, report *Report) error {
	query := `
        INSERT INTO reports (
            instance_guid, installation_id, app_guid, subdomain,
            admin_email, api_token, plan, stripe_subscription_id,
            version, raw_response, is_unlocked, stripe_payment_id,
            created_at, updated_at
        ) VALUES (
            :instance_guid, :installation_id, :app_guid, :subdomain,
            :admin_email, :api_token, :plan, :stripe_subscription_id,
            :version, :raw_response, :is_unlocked, :stripe_payment_id,
            :created_at, :updated_at
        ) RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, report)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&report.ID); err != nil {
			return fmt.Errorf("failed to scan report id: %w", err)
		}
	}
	return rows.Err()
}

func (r *Repository) GetReport(ctx context.Context, id int64) (*Report, error) {
	var report Report
	query := `SELECT * FROM reports WHERE id = $1`
	err := r.db.GetContext(ctx, &report, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *Repository) GetLatestReport(ctx context.Context, installationID int64) (*Report, error) {
	var report Report
	query := `
        SELECT * FROM reports
        WHERE installation_id = $1
        ORDER BY created_at DESC
        LIMIT 1`
	err := r.db.GetContext(ctx, &report, query, installationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *Repository) GetHistoricalReports(ctx context.Context, installationID int64, limit int) ([]*Report, error) {
	reports := []*Report{}
	query := `
        SELECT * FROM reports
        WHERE installation_id = $1
        ORDER BY created_at DESC
        LIMIT $2`
	err := r.db.SelectContext(ctx, &reports, query, installationID, limit)
	return reports, err
}

// UnlockReport flips is_unlocked for a one-off payment. The WHERE clause
// makes duplicate webhook deliveries a no-op: the second apply matches no
// rows, and concurrent applies serialize on the row lock.
func (r *Repository) UnlockReport(ctx context.Context, reportID int64, subdomain, paymentID string) (bool, error) {
	query := `
        UPDATE reports
        SET is_unlocked = TRUE, stripe_payment_id = $3, updated_at = NOW()
        WHERE id = $1 AND subdomain = $2 AND NOT is_unlocked`

	result, err := r.db.ExecContext(ctx, query, reportID, subdomain, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to unlock report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UnlockReportsForSubdomain bulk-unlocks every report that has not already
// been unlocked, stamping the subscription plan. Individually-unlocked
// reports are untouched. Affected ids are returned so callers can
// invalidate per-report cache entries.
func (r *Repository) UnlockReportsForSubdomain(ctx context.Context, subdomain, plan string) ([]int64, error) {
	query := `
        UPDATE reports
        SET is_unlocked = TRUE, plan = $2, updated_at = NOW()
        WHERE subdomain = $1 AND NOT is_unlocked
        RETURNING id`

	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids, query, subdomain, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk unlock reports: %w", err)
	}
	return ids, nil
}

func (r *Repository) ReportExists(ctx context.Context, reportID int64, subdomain string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM reports WHERE id = $1 AND subdomain = $2)`
	err := r.db.GetContext(ctx, &exists, query, reportID, subdomain)
	return exists, err
}

// Subscription operations

func (r *Repository) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	query := `
        INSERT INTO subscriptions (
            stripe_subscription_id, subdomain, installation_id, user_id,
            status, plan, current_period_end, created_at, updated_at
        ) VALUES (
            :stripe_subscription_id, :subdomain, :installation_id, :user_id,
            :status, :plan, :current_period_end, NOW(), NOW()
        )
        ON CONFLICT (stripe_subscription_id) DO UPDATE SET
            status = EXCLUDED.status,
            plan = EXCLUDED.plan,
            current_period_end = EXCLUDED.current_period_end,
            updated_at = NOW()`

	_, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// GetActiveSubscription returns the most recently created subscription in
// an active or trialing state for the subdomain.
func (r *Repository) GetActiveSubscription(ctx context.Context, subdomain string) (*Subscription, error) {
	var sub Subscription
	query := `
        SELECT * FROM subscriptions
        WHERE subdomain = $1 AND status IN ('active', 'trialing')
        ORDER BY created_at DESC
        LIMIT 1`
	err := r.db.GetContext(ctx, &sub, query, subdomain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Webhook event operations

// RecordWebhookEvent inserts a processed-event marker. It returns false
// when the event id was already recorded, which is how duplicate webhook
// deliveries are detected.
func (r *Repository) RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
        INSERT INTO webhook_events (event_id, event_type, processed_at, created_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (event_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
