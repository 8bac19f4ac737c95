package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (r *Repository) GetMonitoringSetting(ctx context.Context, installationID int64) (*MonitoringSetting, error) {
	var setting MonitoringSetting
	query := `SELECT * FROM monitoring_settings WHERE installation_id = $1`
	err := r.db.GetContext(ctx, &setting, query, installationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *Repository) SaveMonitoringSetting(ctx context.Context, setting *MonitoringSetting) error {
	if setting.NextCheck == nil {
		setting.ScheduleNextCheck(time.Now().UTC())
	}

	query := `
        INSERT INTO monitoring_settings (
            installation_id, instance_guid, subdomain, is_active,
            frequency, notification_emails, last_check, next_check,
            created_at, updated_at
        ) VALUES (
            :installation_id, :instance_guid, :subdomain, :is_active,
            :frequency, :notification_emails, :last_check, :next_check,
            NOW(), NOW()
        )
        ON CONFLICT (installation_id) DO UPDATE SET
            is_active = EXCLUDED.is_active,
            frequency = EXCLUDED.frequency,
            notification_emails = EXCLUDED.notification_emails,
            last_check = EXCLUDED.last_check,
            next_check = EXCLUDED.next_check,
            updated_at = NOW()`

	_, err := r.db.NamedExecContext(ctx, query, setting)
	if err != nil {
		return fmt.Errorf("failed to save monitoring setting: %w", err)
	}
	return nil
}

// GetDueMonitoringSettings returns active settings whose next check is due.
func (r *Repository) GetDueMonitoringSettings(ctx context.Context, now time.Time) ([]*MonitoringSetting, error) {
	settings := []*MonitoringSetting{}
	query := `
        SELECT * FROM monitoring_settings
        WHERE is_active = TRUE AND next_check <= $1
        ORDER BY next_check ASC`
	err := r.db.SelectContext(ctx, &settings, query, now)
	return settings, err
}

// DeactivateMonitoring turns monitoring off for an installation. Monitoring
// is subscription-gated; this only ever moves active -> inactive.
func (r *Repository) DeactivateMonitoring(ctx context.Context, installationID int64) error {
	query := `
        UPDATE monitoring_settings
        SET is_active = FALSE, updated_at = NOW()
        WHERE installation_id = $1 AND is_active = TRUE`

	_, err := r.db.ExecContext(ctx, query, installationID)
	if err != nil {
		return fmt.Errorf("failed to deactivate monitoring: %w", err)
	}
	return nil
}
