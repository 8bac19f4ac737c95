package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func samplePayload() *Payload {
	return &Payload{
		Name:        "Acme Support",
		InstanceURL: "https://acme.zendesk.com",
		AdminEmail:  "admin@acme.com",
		CreatedAt:   "2020-01-15",
		Issues: []Issue{
			{ItemType: "TicketForms", Type: "error", Message: "Form has no active fields", ZendeskURL: "https://acme.zendesk.com/forms/1"},
			{ItemType: "Macros", Type: "warning", Message: "Macro references deleted group", ZendeskURL: "https://acme.zendesk.com/macros/2"},
			{ItemType: "Triggers", Type: "error", Message: "Trigger targets missing field", ZendeskURL: "https://acme.zendesk.com/triggers/3"},
			{ItemType: "TicketFields", Type: "warning", Message: "Field unused in any form", ZendeskURL: "https://acme.zendesk.com/fields/4", Active: boolPtr(true)},
		},
		SumTotals: SumTotals{SumTotal: 42, SumDraft: 3},
	}
}

func TestFormatReportFullAccess(t *testing.T) {
	p := samplePayload()
	got := FormatReport(p, FormatOptions{HasFullAccess: true, ReportID: 7})

	assert.Len(t, got.Issues, len(p.Issues))
	assert.Equal(t, 0, got.HiddenIssuesCount)
	assert.Empty(t, got.HiddenCategories)
	assert.Equal(t, 4, got.TotalIssues)
	assert.Equal(t, 2, got.CriticalIssues)
	assert.Equal(t, 2, got.WarningIssues)
	assert.True(t, got.IsUnlocked)
	assert.Equal(t, []string{"Macros", "TicketFields", "TicketForms", "Triggers"}, got.Categories)
}

func TestFormatReportRedacted(t *testing.T) {
	p := samplePayload()
	got := FormatReport(p, FormatOptions{HasFullAccess: false, ReportID: 7})

	// Only the allow-listed categories survive.
	for _, issue := range got.Issues {
		assert.Contains(t, []string{"TicketForms", "TicketFields"}, issue.Category)
	}
	assert.Equal(t, 2, got.HiddenIssuesCount)
	assert.Equal(t, map[string]int{"Macros": 1, "Triggers": 1}, got.HiddenCategories)
	assert.Equal(t, len(p.Issues), got.HiddenIssuesCount+len(got.Issues))

	// Counts cover the visible subset only.
	assert.Equal(t, 2, got.TotalIssues)
	assert.Equal(t, 1, got.CriticalIssues)
	assert.Equal(t, 1, got.WarningIssues)
	assert.Equal(t, []string{"TicketFields", "TicketForms"}, got.Categories)
	assert.False(t, got.IsUnlocked)
}

func TestFormatReportRedactionIsCategoryBased(t *testing.T) {
	// A critical error outside the allow-list is hidden exactly like a
	// warning would be.
	p := &Payload{Issues: []Issue{
		{ItemType: "Automations", Type: "error", Message: "broken"},
		{ItemType: "TicketForms", Type: "warning", Message: "minor"},
	}}
	got := FormatReport(p, FormatOptions{HasFullAccess: false})

	require.Len(t, got.Issues, 1)
	assert.Equal(t, "TicketForms", got.Issues[0].Category)
	assert.Equal(t, 0, got.CriticalIssues)
	assert.Equal(t, 1, got.WarningIssues)
	assert.Equal(t, map[string]int{"Automations": 1}, got.HiddenCategories)
}

func TestFormatReportNormalizesCategorySpelling(t *testing.T) {
	// The scan API has emitted both "TicketForms" and "ticket_forms"
	// across versions; either must stay visible.
	p := &Payload{Issues: []Issue{
		{ItemType: "ticket_forms", Type: "error"},
		{ItemType: "ticket_fields", Type: "warning"},
		{ItemType: "macros", Type: "error"},
	}}
	got := FormatReport(p, FormatOptions{HasFullAccess: false})

	assert.Len(t, got.Issues, 2)
	assert.Equal(t, 1, got.HiddenIssuesCount)
	assert.Equal(t, map[string]int{"macros": 1}, got.HiddenCategories)
}

func TestFormatReportDeterministic(t *testing.T) {
	p := samplePayload()
	last := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	opts := FormatOptions{HasFullAccess: false, ReportID: 3, LastCheck: &last}

	first, err := json.Marshal(FormatReport(p, opts))
	require.NoError(t, err)
	second, err := json.Marshal(FormatReport(p, opts))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFormatReportLastCheck(t *testing.T) {
	last := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	got := FormatReport(samplePayload(), FormatOptions{HasFullAccess: true, LastCheck: &last})

	assert.Equal(t, "01 Mar 2025", got.ReportCreatedAt)
	assert.Equal(t, "2025-03-01 10:30:00", got.LastCheck)
	assert.NotEqual(t, "Never", got.TimeSinceCheck)

	never := FormatReport(samplePayload(), FormatOptions{HasFullAccess: true})
	assert.Equal(t, "Never", never.TimeSinceCheck)
	assert.Empty(t, never.LastCheck)
}

func TestFormatReportInstanceDefaults(t *testing.T) {
	got := FormatReport(&Payload{}, FormatOptions{HasFullAccess: true})

	assert.Equal(t, "Unknown", got.Instance.Name)
	assert.Equal(t, "Unknown", got.Instance.URL)
	assert.Equal(t, "Unknown", got.Instance.AdminEmail)
	assert.Equal(t, "Unknown", got.Instance.CreatedAt)
	assert.Equal(t, TotalSummary{}, got.Totals)
}

func TestFormatReportStatusValues(t *testing.T) {
	withStatus := samplePayload()
	assert.True(t, FormatReport(withStatus, FormatOptions{HasFullAccess: true}).HasStatusValues)

	without := &Payload{Issues: []Issue{{ItemType: "Macros", Type: "error"}}}
	assert.False(t, FormatReport(without, FormatOptions{HasFullAccess: true}).HasStatusValues)
}

func TestFormatReportIssueShape(t *testing.T) {
	p := &Payload{Issues: []Issue{{ItemType: "", Type: "", Message: "m", ZendeskURL: ""}}}
	got := FormatReport(p, FormatOptions{HasFullAccess: true})

	require.Len(t, got.Issues, 1)
	assert.Equal(t, "Unknown", got.Issues[0].Category)
	assert.Equal(t, "warning", got.Issues[0].Severity)
	assert.Equal(t, "#", got.Issues[0].ZendeskURL)
	assert.False(t, got.Issues[0].Active)
}

func TestParsePayloadRoundTrip(t *testing.T) {
	raw := map[string]interface{}{
		"name":         "Acme",
		"instance_url": "https://acme.zendesk.com",
		"issues": []interface{}{
			map[string]interface{}{
				"item_type":   "Macros",
				"type":        "warning",
				"message":     "stale macro",
				"zendesk_url": "https://acme.zendesk.com/macros/9",
			},
		},
		"sum_totals": map[string]interface{}{"sum_total": float64(5)},
	}

	p, err := ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "Acme", p.Name)
	require.Len(t, p.Issues, 1)
	assert.Equal(t, "Macros", p.Issues[0].ItemType)
	assert.Equal(t, 5, p.SumTotals.SumTotal)
}
