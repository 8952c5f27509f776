// Package render formats task records for display, in each record's own
// language.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/GriffinCanCode/voicetask/internal/language"
	"github.com/GriffinCanCode/voicetask/internal/tasks"
)

// labels are the per-language metadata captions and sentinels.
type labels struct {
	priority, due, category, noDue, uncategorized, dateLayout string
}

var (
	dutchLabels   = labels{"Prioriteit: ", "Deadline: ", "Categorie: ", "Geen einddatum", "Overig", "2-1-2006"}
	defaultLabels = labels{"Priority: ", "Due: ", "Category: ", "No due date", "Uncategorized", "1/2/2006"}
)

func labelsFor(l language.Language) labels {
	if l == language.Dutch {
		return dutchLabels
	}
	return defaultLabels
}

// TaskView is one record prepared for display. Index is the position to pass
// to a delete.
type TaskView struct {
	Index         int    `json:"index"`
	Description   string `json:"task"`
	Criticality   string `json:"criticality"`
	Due           string `json:"due"`
	DueDate       string `json:"due_date,omitempty"`
	Category      string `json:"category"`
	HighPriority  bool   `json:"high_priority"`
	CategoryClass string `json:"category_class,omitempty"`
	Language      string `json:"language"`

	lbl labels
}

// View renders every record.
func View(records []tasks.Record) []TaskView {
	out := make([]TaskView, len(records))
	for i, r := range records {
		out[i] = viewOf(i, r)
	}
	return out
}

func viewOf(i int, r tasks.Record) TaskView {
	lang := language.ClassifyRecord(r)
	lbl := labelsFor(lang)

	v := TaskView{
		Index:         i,
		Description:   r.Description,
		Criticality:   criticalityText(r, lang),
		Due:           lbl.noDue,
		Category:      r.Category,
		HighPriority:  r.Criticality >= tasks.High,
		CategoryClass: categoryClass(r.Category),
		Language:      lang.String(),
		lbl:           lbl,
	}
	if r.DueDate != nil {
		v.DueDate = r.DueDate.String()
		v.Due = r.DueDate.Time().Format(lbl.dateLayout)
	}
	if v.Category == "" {
		v.Category = lbl.uncategorized
	}
	return v
}

func criticalityText(r tasks.Record, lang language.Language) string {
	if r.CriticalityLabel != "" {
		return r.CriticalityLabel
	}
	if lang == language.Dutch {
		return r.Criticality.Dutch()
	}
	return r.Criticality.String()
}

var categoryClasses = []struct{ class, nl, en string }{
	{"werk", "werk", "work"},
	{"familie", "familie", "family"},
	{"huishouden", "huishouden", "household"},
	{"persoonlijk", "persoonlijk", "personal"},
}

func categoryClass(category string) string {
	c := strings.ToLower(category)
	for _, cc := range categoryClasses {
		if strings.Contains(c, cc.nl) || strings.Contains(c, cc.en) {
			return cc.class
		}
	}
	return ""
}

// Meta returns the metadata lines of a view.
func (v TaskView) Meta() []string {
	lbl := v.lbl
	if lbl.priority == "" {
		lbl = defaultLabels
	}
	return []string{
		lbl.priority + v.Criticality,
		lbl.due + v.Due,
		lbl.category + v.Category,
	}
}

// Empty returns the message shown for an empty collection.
func Empty(l language.Language) string {
	if l == language.Dutch {
		return "Er zijn nog geen taken opgeslagen."
	}
	return "No tasks have been saved yet."
}

// Text writes a numbered list for the terminal.
func Text(w io.Writer, records []tasks.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, Empty(language.MajorityLanguage(records)))
		return err
	}
	for _, v := range View(records) {
		mark := " "
		if v.HighPriority {
			mark = "!"
		}
		if _, err := fmt.Fprintf(w, "%s%3d. %s\n      %s\n", mark, v.Index, v.Description, strings.Join(v.Meta(), "  ")); err != nil {
			return err
		}
	}
	return nil
}

// Clipboard is the copy-all text: each task as "- title" followed by its
// indented metadata lines and a blank line.
func Clipboard(records []tasks.Record) string {
	var b strings.Builder
	for _, v := range View(records) {
		b.WriteString("- " + v.Description + "\n")
		for _, m := range v.Meta() {
			b.WriteString("  " + m + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ConfirmClear returns the question asked before deleting every task.
func ConfirmClear(l language.Language) string {
	if l == language.Dutch {
		return "Weet je zeker dat je alle taken wilt wissen?"
	}
	return "Are you sure you want to delete all tasks?"
}
