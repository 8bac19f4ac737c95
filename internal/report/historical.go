package report

import (
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

type HistoricalEntry struct {
	ID          int64  `json:"id"`
	CreatedAt   string `json:"created_at"`
	IsUnlocked  bool   `json:"is_unlocked"`
	TotalIssues int    `json:"total_issues"`
}

// FormatHistorical summarizes stored reports for the history list. Issue
// counts here are raw totals; the list never exposes issue content.
func FormatHistorical(reports []*db.Report) []HistoricalEntry {
	entries := make([]HistoricalEntry, 0, len(reports))
	for _, r := range reports {
		total := 0
		if issues, ok := r.RawResponse["issues"].([]interface{}); ok {
			total = len(issues)
		}
		entries = append(entries, HistoricalEntry{
			ID:          r.ID,
			CreatedAt:   r.CreatedAt.Format("02 Jan 2006"),
			IsUnlocked:  r.IsUnlocked,
			TotalIssues: total,
		})
	}
	return entries
}
