package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexFloat accepts a JSON number or a numeric string. Extraction output is
// model-generated and frequently quotes money fields.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	*f = FlexFloat(v)
	return nil
}

// PayloadItem is one extracted line item
type PayloadItem struct {
	MaterialCode string    `json:"material_code"`
	Description  string    `json:"description,omitempty"`
	Quantity     FlexFloat `json:"quantity"`
	UnitPrice    FlexFloat `json:"unit_price"`
	TotalPrice   FlexFloat `json:"total_price"`
	WorkOrder    string    `json:"work_order,omitempty"`
}

// InvoicePayload is the structured extraction result for one document
type InvoicePayload struct {
	Provider struct {
		TaxID string `json:"tax_id"`
		Name  string `json:"name"`
	} `json:"provider"`
	Invoice struct {
		Code        string    `json:"code"`
		IssueDate   string    `json:"issue_date"`
		TotalAmount FlexFloat `json:"total_amount"`
	} `json:"invoice"`
	Items []PayloadItem `json:"items"`
}

// issueDateFormats are tried in order when parsing the extracted issue date
var issueDateFormats = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05Z07:00"}

// ParseIssueDate parses the extracted issue date, falling back to now for
// unparseable values so a bad date never blocks ingestion.
func (p *InvoicePayload) ParseIssueDate() time.Time {
	s := strings.TrimSpace(p.Invoice.IssueDate)
	for _, layout := range issueDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}

// stripFences removes markdown code fences the extraction model sometimes
// wraps around its JSON output.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// ParsePayload parses the free-text extraction payload into its structured
// form, validating the fields ingestion cannot proceed without.
func ParsePayload(text string) (*InvoicePayload, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil, fmt.Errorf("empty extraction payload")
	}

	var payload InvoicePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("invalid extraction payload: %w", err)
	}

	if payload.Provider.TaxID == "" {
		return nil, fmt.Errorf("extraction payload missing provider tax id")
	}
	if payload.Invoice.Code == "" {
		return nil, fmt.Errorf("extraction payload missing invoice code")
	}

	return &payload, nil
}
