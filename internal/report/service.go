package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/billing"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

type Store interface {
	CreateReport(ctx context.Context, report *db.Report) error
	GetReport(ctx context.Context, id int64) (*db.Report, error)
	GetLatestReport(ctx context.Context, installationID int64) (*db.Report, error)
	GetHistoricalReports(ctx context.Context, installationID int64, limit int) ([]*db.Report, error)
}

type SubscriptionResolver interface {
	Resolve(ctx context.Context, subdomain string) billing.Status
}

// Service owns report persistence and the cached read paths. Every read
// renders through FormatReport with the viewer's access context; there is
// no unfiltered side path.
type Service struct {
	store    Store
	resolver SubscriptionResolver
	cache    *cache.Cache
	logger   *zap.Logger
}

func NewService(store Store, resolver SubscriptionResolver, c *cache.Cache, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		cache:    c,
		logger:   logger,
	}
}

type CreateParams struct {
	InstanceGUID         string
	InstallationID       int64
	AppGUID              string
	Subdomain            string
	AdminEmail           string
	APIToken             string
	Plan                 string
	StripeSubscriptionID string
	Version              string
	Payload              *Payload
}

// Create stores a new report. If the tenant's subscription is active at
// this instant the report starts unlocked; no webhook round-trip needed.
// Cache entries derived from the installation's listings are dropped so
// the next read sees the new report.
func (s *Service) Create(ctx context.Context, params CreateParams) (*db.Report, error) {
	raw, err := params.Payload.ToMap()
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan payload: %w", err)
	}

	status := s.resolver.Resolve(ctx, params.Subdomain)

	plan := params.Plan
	if status.Active {
		plan = status.Plan
	}
	if plan == "" {
		plan = "Free"
	}

	now := time.Now().UTC()
	rep := &db.Report{
		InstanceGUID:   params.InstanceGUID,
		InstallationID: params.InstallationID,
		AppGUID:        params.AppGUID,
		Subdomain:      params.Subdomain,
		AdminEmail:     params.AdminEmail,
		APIToken:       params.APIToken,
		Plan:           plan,
		Version:        params.Version,
		RawResponse:    raw,
		IsUnlocked:     status.Active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if params.StripeSubscriptionID != "" {
		rep.StripeSubscriptionID = &params.StripeSubscriptionID
	}

	if err := s.store.CreateReport(ctx, rep); err != nil {
		return nil, err
	}

	s.cache.InvalidateInstallation(ctx, params.InstallationID)
	s.cache.InvalidateReport(ctx, rep.ID)

	s.logger.Info("report created",
		zap.Int64("report_id", rep.ID),
		zap.Int64("installation_id", params.InstallationID),
		zap.String("subdomain", params.Subdomain),
		zap.Bool("is_unlocked", rep.IsUnlocked),
	)
	return rep, nil
}

// Formatted renders a report for the current viewer context, memoized per
// (report, access) pair.
func (s *Service) Formatted(ctx context.Context, reportID int64) (*FormattedReport, error) {
	rep, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, rep)
}

// FormattedLatest renders the newest report for an installation.
func (s *Service) FormattedLatest(ctx context.Context, installationID int64) (*FormattedReport, error) {
	rep, err := s.latest(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, rep)
}

func (s *Service) latest(ctx context.Context, installationID int64) (*db.Report, error) {
	key := cache.LatestReportKey(installationID)

	var cached db.Report
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	rep, err := s.store.GetLatestReport(ctx, installationID)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, rep, cache.TTLLatestReport)
	return rep, nil
}

func (s *Service) render(ctx context.Context, rep *db.Report) (*FormattedReport, error) {
	status := s.resolver.Resolve(ctx, rep.Subdomain)
	hasFullAccess := status.Active || rep.IsUnlocked

	key := cache.ReportResultsKey(rep.ID, hasFullAccess)
	var cached FormattedReport
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	payload, err := ParsePayload(rep.RawResponse)
	if err != nil {
		return nil, err
	}

	lastCheck := rep.CreatedAt
	formatted := FormatReport(payload, FormatOptions{
		HasFullAccess: hasFullAccess,
		ReportID:      rep.ID,
		LastCheck:     &lastCheck,
	})

	s.cache.SetJSON(ctx, key, formatted, cache.TTLReportResults)
	return formatted, nil
}

// Historical returns the summarized report history for an installation.
func (s *Service) Historical(ctx context.Context, installationID int64, limit int) ([]HistoricalEntry, error) {
	key := cache.HistoricalReportsKey(installationID)

	var cached []HistoricalEntry
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	reports, err := s.store.GetHistoricalReports(ctx, installationID, limit)
	if err != nil {
		return nil, err
	}

	entries := FormatHistorical(reports)
	s.cache.SetJSON(ctx, key, entries, cache.TTLHistorical)
	return entries, nil
}

// CSVExport renders the filtered CSV for a report, memoized per access
// context.
func (s *Service) CSVExport(ctx context.Context, reportID int64) ([]byte, error) {
	rep, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	status := s.resolver.Resolve(ctx, rep.Subdomain)
	hasFullAccess := status.Active || rep.IsUnlocked

	key := cache.ReportCSVKey(reportID, hasFullAccess)
	if data, found := s.cache.GetBytes(ctx, key); found {
		return data, nil
	}

	payload, err := ParsePayload(rep.RawResponse)
	if err != nil {
		return nil, err
	}

	data, err := WriteCSV(payload, hasFullAccess)
	if err != nil {
		return nil, err
	}
	s.cache.SetBytes(ctx, key, data, cache.TTLReportCSV)
	return data, nil
}

type UnlockStatus struct {
	ReportID   int64 `json:"report_id"`
	IsUnlocked bool  `json:"is_unlocked"`
}

// GetUnlockStatus answers the polling endpoint behind a very short TTL.
func (s *Service) GetUnlockStatus(ctx context.Context, reportID int64) (*UnlockStatus, error) {
	key := cache.UnlockStatusKey(reportID)

	var cached UnlockStatus
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	rep, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	status := &UnlockStatus{ReportID: reportID, IsUnlocked: rep.IsUnlocked}
	s.cache.SetJSON(ctx, key, status, cache.TTLUnlockStatus)
	return status, nil
}
