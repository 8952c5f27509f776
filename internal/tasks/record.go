// Package tasks holds the task record model and the session's task store.
package tasks

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Criticality is the urgency of a task.
type Criticality int

const (
	Low Criticality = iota
	Normal
	High
	VeryHigh
)

func (c Criticality) String() string {
	switch c {
	case Low:
		return "low"
	case High:
		return "high"
	case VeryHigh:
		return "very high"
	default:
		return "normal"
	}
}

// Dutch returns the Dutch label for c.
func (c Criticality) Dutch() string {
	switch c {
	case Low:
		return "laag"
	case High:
		return "hoog"
	case VeryHigh:
		return "zeer hoog"
	default:
		return "normaal"
	}
}

var criticalityLabels = map[string]Criticality{
	"low":       Low,
	"laag":      Low,
	"normal":    Normal,
	"normaal":   Normal,
	"medium":    Normal,
	"high":      High,
	"hoog":      High,
	"very high": VeryHigh,
	"very_high": VeryHigh,
	"zeer hoog": VeryHigh,
}

// ParseCriticality maps an English or Dutch label onto a Criticality,
// ignoring case and surrounding space.
func ParseCriticality(label string) (Criticality, bool) {
	c, ok := criticalityLabels[strings.ToLower(strings.TrimSpace(label))]
	return c, ok
}

// Record is one extracted action item.
type Record struct {
	Description string
	Criticality Criticality
	// CriticalityLabel is the lowercased label as spoken by the model, empty
	// when the criticality was missing or coerced.
	CriticalityLabel string
	DueDate          *Date
	Category         string
	CreatedAt        time.Time
}

// NewRecord builds a record from raw extraction fields, coercing an unknown
// or empty criticality to Normal.
func NewRecord(description, criticality string, due *Date, category string) Record {
	r := Record{
		Description: strings.TrimSpace(description),
		Criticality: Normal,
		DueDate:     due,
		Category:    strings.TrimSpace(category),
	}
	if c, ok := ParseCriticality(criticality); ok {
		r.Criticality = c
		r.CriticalityLabel = strings.ToLower(strings.TrimSpace(criticality))
	}
	return r
}

// CriticalityText returns the label in the record's own language.
func (r Record) CriticalityText() string {
	if r.CriticalityLabel != "" {
		return r.CriticalityLabel
	}
	return r.Criticality.String()
}

// CategoryText returns the free-text category.
func (r Record) CategoryText() string { return r.Category }

func (r Record) clone() Record {
	if r.DueDate != nil {
		d := *r.DueDate
		r.DueDate = &d
	}
	return r
}

type wireRecord struct {
	Task        string          `json:"task"`
	Criticality json.RawMessage `json:"criticality,omitempty"`
	DueDate     json.RawMessage `json:"due_date"`
	Category    json.RawMessage `json:"category,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
}

// MarshalJSON writes the persisted snapshot shape.
func (r Record) MarshalJSON() ([]byte, error) {
	crit, _ := json.Marshal(r.CriticalityText())
	cat, _ := json.Marshal(r.Category)
	due := []byte("null")
	if r.DueDate != nil {
		due, _ = json.Marshal(r.DueDate)
	}
	w := wireRecord{Task: r.Description, Criticality: crit, DueDate: due, Category: cat}
	if !r.CreatedAt.IsZero() {
		ts := r.CreatedAt
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON is lenient: a non-string criticality or category is treated as
// missing and an unparsable due date becomes nil.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = NewRecord(w.Task, rawString(w.Criticality), parseRawDate(w.DueDate), rawString(w.Category))
	if w.Timestamp != nil {
		r.CreatedAt = *w.Timestamp
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func parseRawDate(raw json.RawMessage) *Date {
	s := rawString(raw)
	if s == "" {
		return nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &d
}
