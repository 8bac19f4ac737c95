package report

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed shape of a scan API response. The raw body is
// parsed into this at the HTTP boundary so nothing downstream handles
// untyped maps.
type Payload struct {
	Name        string                    `json:"name"`
	InstanceURL string                    `json:"instance_url"`
	AdminEmail  string                    `json:"admin_email"`
	CreatedAt   string                    `json:"created_at"`
	Issues      []Issue                   `json:"issues"`
	Counts      map[string]map[string]int `json:"counts"`
	SumTotals   SumTotals                 `json:"sum_totals"`
}

type Issue struct {
	ItemType   string `json:"item_type"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	ZendeskURL string `json:"zendesk_url"`
	Active     *bool  `json:"active,omitempty"`
}

type SumTotals struct {
	SumTotal        int `json:"sum_total"`
	SumDraft        int `json:"sum_draft"`
	SumPublished    int `json:"sum_published"`
	SumChanged      int `json:"sum_changed"`
	SumDeletion     int `json:"sum_deletion"`
	SumTotalChanges int `json:"sum_total_changes"`
}

// ParsePayload decodes a stored raw_response back into the typed payload.
func ParsePayload(raw map[string]interface{}) (*Payload, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw response: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse scan payload: %w", err)
	}
	return &p, nil
}

// ToMap converts the payload to the map form stored in raw_response.
func (p *Payload) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
