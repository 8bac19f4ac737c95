package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cache entry lifetimes per domain. Values are short enough that a missed
// invalidation self-heals; correctness still depends on the invalidation
// groups below, not on expiry.
const (
	TTLSubscription  = 5 * time.Minute
	TTLLatestReport  = 5 * time.Minute
	TTLHistorical    = 5 * time.Minute
	TTLReportResults = 5 * time.Minute
	TTLReportCSV     = time.Hour
	TTLUnlockStatus  = 30 * time.Second
	TTLMonitoring    = 5 * time.Minute
)

// MetricsRecorder receives hit/miss outcomes per cache domain.
type MetricsRecorder interface {
	RecordCacheLookup(domain string, hit bool)
}

// Cache memoizes derived values behind domain-scoped keys. Every store
// failure degrades to a miss so an unavailable cache tier never blocks or
// serves stale data; writers recompute from Postgres.
type Cache struct {
	store   Store
	logger  *zap.Logger
	metrics MetricsRecorder
}

func New(store Store, logger *zap.Logger, metrics MetricsRecorder) *Cache {
	return &Cache{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Key builds a namespaced cache key. Identifiers embed tenant and entity
// context so entries for two tenants can never alias.
func Key(keyType string, parts ...string) string {
	return "healthcheck:" + keyType + ":" + strings.Join(parts, ":")
}

func SubscriptionKey(subdomain string) string {
	return Key("subscription", subdomain)
}

func LatestReportKey(installationID int64) string {
	return Key("latest_report", fmt.Sprintf("%d", installationID))
}

func HistoricalReportsKey(installationID int64) string {
	return Key("historical_reports", fmt.Sprintf("%d", installationID))
}

// ReportResultsKey is keyed by report id AND access context: the same
// report renders two different ways.
func ReportResultsKey(reportID int64, hasFullAccess bool) string {
	return Key("report_results", fmt.Sprintf("%d", reportID), fmt.Sprintf("%t", hasFullAccess))
}

func ReportCSVKey(reportID int64, hasFullAccess bool) string {
	return Key("report_csv", fmt.Sprintf("%d", reportID), fmt.Sprintf("%t", hasFullAccess))
}

func UnlockStatusKey(reportID int64) string {
	return Key("unlock_status", fmt.Sprintf("%d", reportID))
}

func MonitoringKey(installationID int64) string {
	return Key("monitoring", fmt.Sprintf("%d", installationID))
}

func domainOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}

// GetJSON loads a cached value into dest. It reports whether the entry was
// found; any store or decode failure counts as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		c.record(key, false)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss",
			zap.String("key", key), zap.Error(err))
		c.record(key, false)
		return false
	}
	c.record(key, true)
	return true
}

// SetJSON stores a value; failures are logged and ignored since the next
// read will recompute.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		c.record(key, false)
		return nil, false
	}
	c.record(key, true)
	return data, true
}

func (c *Cache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) record(key string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(domainOf(key), hit)
	}
}

// Invalidation groups. Entries are always deleted, never updated in place;
// the next read recomputes from authoritative storage. Deleting a key that
// is already absent is harmless, so every mutation path calls its group
// unconditionally.

// InvalidateReport drops every entry derived from one report: rendered
// results and CSV for both access contexts, plus the unlock flag.
func (c *Cache) InvalidateReport(ctx context.Context, reportID int64) {
	c.delete(ctx,
		ReportResultsKey(reportID, true),
		ReportResultsKey(reportID, false),
		ReportCSVKey(reportID, true),
		ReportCSVKey(reportID, false),
		UnlockStatusKey(reportID),
	)
}

// InvalidateInstallation drops the per-installation listings.
func (c *Cache) InvalidateInstallation(ctx context.Context, installationID int64) {
	c.delete(ctx,
		LatestReportKey(installationID),
		HistoricalReportsKey(installationID),
		MonitoringKey(installationID),
	)
}

func (c *Cache) InvalidateSubscription(ctx context.Context, subdomain string) {
	c.delete(ctx, SubscriptionKey(subdomain))
}

func (c *Cache) InvalidateMonitoring(ctx context.Context, installationID int64) {
	c.delete(ctx, MonitoringKey(installationID))
}

func (c *Cache) delete(ctx context.Context, keys ...string) {
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation failed",
			zap.Strings("keys", keys), zap.Error(err))
	}
}
