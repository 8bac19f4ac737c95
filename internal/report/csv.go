package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

var csvHeader = []string{"Type", "Severity", "Object Type", "Description", "Zendesk URL"}

// CSVRows renders the export rows for a payload, header included. The rows
// go through the same partition as interactive rendering, so an
// unauthorized export only ever contains the visible subset.
func CSVRows(p *Payload, hasFullAccess bool) [][]string {
	displayed, _, _ := partitionIssues(p.Issues, hasFullAccess)

	rows := make([][]string, 0, len(displayed)+1)
	rows = append(rows, csvHeader)
	for _, issue := range displayed {
		rows = append(rows, []string{
			issue.ItemType,
			issue.Type,
			issue.ItemType,
			issue.Message,
			issue.ZendeskURL,
		})
	}
	return rows
}

// WriteCSV encodes the export rows for a payload.
func WriteCSV(p *Payload, hasFullAccess bool) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(CSVRows(p, hasFullAccess)); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}
