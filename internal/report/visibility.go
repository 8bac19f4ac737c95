package report

import (
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Categories that stay visible without full access. Matching is normalized
// so "TicketForms" and "ticket_forms" compare equal; the scan API has used
// both spellings.
var visibleCategories = map[string]bool{
	"ticketforms":  true,
	"ticketfields": true,
}

func normalizeCategory(category string) string {
	replacer := strings.NewReplacer("_", "", "-", "", " ", "")
	return replacer.Replace(strings.ToLower(category))
}

// FormatOptions is the viewer context for rendering a report. HasFullAccess
// is computed upstream as subscription-active OR report individually
// unlocked; the engine never looks up billing state itself.
type FormatOptions struct {
	HasFullAccess bool
	ReportID      int64
	LastCheck     *time.Time
}

type InstanceInfo struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	AdminEmail string `json:"admin_email"`
	CreatedAt  string `json:"created_at"`
}

type DisplayIssue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Active      bool   `json:"active"`
	Description string `json:"description"`
	ZendeskURL  string `json:"zendesk_url"`
}

type TotalSummary struct {
	Total        int `json:"total"`
	Draft        int `json:"draft"`
	Published    int `json:"published"`
	Changed      int `json:"changed"`
	Deletion     int `json:"deletion"`
	TotalChanges int `json:"total_changes"`
}

type FormattedReport struct {
	HasStatusValues   bool                      `json:"has_status_values"`
	Instance          InstanceInfo              `json:"instance"`
	ReportCreatedAt   string                    `json:"report_created_at,omitempty"`
	LastCheck         string                    `json:"last_check,omitempty"`
	TimeSinceCheck    string                    `json:"time_since_check"`
	TotalIssues       int                       `json:"total_issues"`
	CriticalIssues    int                       `json:"critical_issues"`
	WarningIssues     int                       `json:"warning_issues"`
	Counts            map[string]map[string]int `json:"counts"`
	Totals            TotalSummary              `json:"totals"`
	Categories        []string                  `json:"categories"`
	HiddenIssuesCount int                       `json:"hidden_issues_count"`
	HiddenCategories  map[string]int            `json:"hidden_categories"`
	IsUnlocked        bool                      `json:"is_unlocked"`
	ReportID          int64                     `json:"report_id,omitempty"`
	Issues            []DisplayIssue            `json:"issues"`
}

// partitionIssues splits raw issues into the displayed subset and hidden
// counts. With full access everything is displayed and nothing is counted
// as hidden.
func partitionIssues(issues []Issue, hasFullAccess bool) ([]Issue, int, map[string]int) {
	hiddenCategories := make(map[string]int)
	if hasFullAccess {
		return issues, 0, hiddenCategories
	}

	displayed := make([]Issue, 0, len(issues))
	hidden := 0
	for _, issue := range issues {
		if visibleCategories[normalizeCategory(issue.ItemType)] {
			displayed = append(displayed, issue)
			continue
		}
		hiddenCategories[issue.ItemType]++
		hidden++
	}
	return displayed, hidden, hiddenCategories
}

// FormatReport produces the display view of a scan payload for a viewer
// context. It is a pure function: identical inputs yield identical output.
func FormatReport(p *Payload, opts FormatOptions) *FormattedReport {
	hasStatusValues := false
	for _, issue := range p.Issues {
		if issue.Active != nil {
			hasStatusValues = true
			break
		}
	}

	displayed, hiddenCount, hiddenCategories := partitionIssues(p.Issues, opts.HasFullAccess)

	critical, warning := 0, 0
	categorySet := make(map[string]bool)
	issues := make([]DisplayIssue, 0, len(displayed))
	for _, issue := range displayed {
		switch issue.Type {
		case "error":
			critical++
		case "warning":
			warning++
		}

		category := issue.ItemType
		if category == "" {
			category = "Unknown"
		}
		categorySet[category] = true

		severity := issue.Type
		if severity == "" {
			severity = "warning"
		}
		zendeskURL := issue.ZendeskURL
		if zendeskURL == "" {
			zendeskURL = "#"
		}
		active := false
		if issue.Active != nil {
			active = *issue.Active
		}

		issues = append(issues, DisplayIssue{
			Category:    category,
			Severity:    severity,
			Active:      active,
			Description: issue.Message,
			ZendeskURL:  zendeskURL,
		})
	}

	categories := make([]string, 0, len(categorySet))
	for category := range categorySet {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	formatted := &FormattedReport{
		HasStatusValues: hasStatusValues,
		Instance: InstanceInfo{
			Name:       orUnknown(p.Name),
			URL:        orUnknown(p.InstanceURL),
			AdminEmail: orUnknown(p.AdminEmail),
			CreatedAt:  orUnknown(p.CreatedAt),
		},
		TimeSinceCheck:    "Never",
		TotalIssues:       len(displayed),
		CriticalIssues:    critical,
		WarningIssues:     warning,
		Counts:            p.Counts,
		Totals:            totalsFrom(p.SumTotals),
		Categories:        categories,
		HiddenIssuesCount: hiddenCount,
		HiddenCategories:  hiddenCategories,
		IsUnlocked:        opts.HasFullAccess,
		ReportID:          opts.ReportID,
		Issues:            issues,
	}

	if opts.LastCheck != nil {
		formatted.ReportCreatedAt = opts.LastCheck.Format("02 Jan 2006")
		formatted.LastCheck = opts.LastCheck.Format("2006-01-02 15:04:05")
		formatted.TimeSinceCheck = humanize.Time(*opts.LastCheck)
	}

	return formatted
}

func totalsFrom(t SumTotals) TotalSummary {
	return TotalSummary{
		Total:        t.SumTotal,
		Draft:        t.SumDraft,
		Published:    t.SumPublished,
		Changed:      t.SumChanged,
		Deletion:     t.SumDeletion,
		TotalChanges: t.SumTotalChanges,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
