package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type Report struct {
	ID                   int64      `json:"id" db:"id"`
	InstanceGUID         string     `json:"instance_guid" db:"instance_guid"`
	InstallationID       int64      `json:"installation_id" db:"installation_id"`
	AppGUID              string     `json:"app_guid" db:"app_guid"`
	Subdomain            string     `json:"subdomain" db:"subdomain"`
	AdminEmail           string     `json:"-" db:"admin_email"`
	APIToken             string     `json:"-" db:"api_token"`
	Plan                 string     `json:"plan" db:"plan"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
	Version              string     `json:"version" db:"version"`
	RawResponse          JSONB      `json:"raw_response" db:"raw_response"`
	IsUnlocked           bool       `json:"is_unlocked" db:"is_unlocked"`
	StripePaymentID      *string    `json:"stripe_payment_id,omitempty" db:"stripe_payment_id"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

type Subscription struct {
	ID                   int64      `json:"id" db:"id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" db:"stripe_subscription_id"`
	Subdomain            string     `json:"subdomain" db:"subdomain"`
	InstallationID       int64      `json:"installation_id" db:"installation_id"`
	UserID               string     `json:"user_id" db:"user_id"`
	Status               string     `json:"status" db:"status"`
	Plan                 string     `json:"plan" db:"plan"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

type MonitoringSetting struct {
	ID                 int64          `json:"id" db:"id"`
	InstallationID     int64          `json:"installation_id" db:"installation_id"`
	InstanceGUID       string         `json:"instance_guid" db:"instance_guid"`
	Subdomain          string         `json:"subdomain" db:"subdomain"`
	IsActive           bool           `json:"is_active" db:"is_active"`
	Frequency          Frequency      `json:"frequency" db:"frequency"`
	NotificationEmails pq.StringArray `json:"notification_emails" db:"notification_emails"`
	LastCheck          *time.Time     `json:"last_check,omitempty" db:"last_check"`
	NextCheck          *time.Time     `json:"next_check,omitempty" db:"next_check"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// ScheduleNextCheck derives next_check from last_check plus the frequency
// interval. A missing last_check is initialized to now.
func (m *MonitoringSetting) ScheduleNextCheck(now time.Time) {
	if m.LastCheck == nil {
		last := now
		m.LastCheck = &last
	}

	var next time.Time
	switch m.Frequency {
	case FrequencyDaily:
		next = m.LastCheck.Add(24 * time.Hour)
	case FrequencyWeekly:
		next = m.LastCheck.Add(7 * 24 * time.Hour)
	default: // monthly
		next = m.LastCheck.AddDate(0, 1, 0)
	}
	m.NextCheck = &next
}

// MergeSchedule carries an existing row's schedule into an updated
// setting. Re-saving notification preferences must not move a due check:
// the schedule is recomputed only when the row never had a next_check or
// the frequency changed.
func (m *MonitoringSetting) MergeSchedule(existing *MonitoringSetting) {
	if existing == nil {
		return
	}
	m.LastCheck = existing.LastCheck
	if existing.NextCheck != nil && existing.Frequency == m.Frequency {
		m.NextCheck = existing.NextCheck
	}
}

// WebhookEvent records processed billing events for duplicate delivery
// detection. The unique event_id makes replays insert-conflict.
type WebhookEvent struct {
	ID          int64      `json:"id" db:"id"`
	EventID     string     `json:"event_id" db:"event_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	Error       *string    `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// JSONB stores the raw scan payload as-is.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unexpected jsonb type %T", value)
	}
	return json.Unmarshal(b, j)
}
