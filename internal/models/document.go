package models

import "fmt"

// MergeWarning records an input skipped while merging.
type MergeWarning struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (w MergeWarning) String() string {
	return fmt.Sprintf("document %d skipped: %s", w.Index, w.Reason)
}

// MergedDocument combines the successful renders of one batch run.
type MergedDocument struct {
	PageCount int            `json:"page_count"`
	Bytes     []byte         `json:"-"`
	Warnings  []MergeWarning `json:"warnings,omitempty"`
}

// NamedDocument is a single rendered document with its file name.
type NamedDocument struct {
	Name  string `json:"name"`
	Bytes []byte `json:"-"`
	URL   string `json:"url,omitempty"`
}

// Priority of a print job.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps a string onto a Priority, defaulting to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// PrintJob is submitted to the print collaborator. Either Merged or
// Documents is set.
type PrintJob struct {
	Name              string          `json:"name"`
	Merged            *NamedDocument  `json:"merged,omitempty"`
	Documents         []NamedDocument `json:"documents,omitempty"`
	Copies            int             `json:"copies"`
	Priority          Priority        `json:"priority"`
	PrinterPreference string          `json:"printer_preference,omitempty"`
}

// Parts returns the documents referenced by the job, merged first.
func (j PrintJob) Parts() []NamedDocument {
	if j.Merged != nil {
		return []NamedDocument{*j.Merged}
	}
	return j.Documents
}
