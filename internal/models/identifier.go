// Package models defines data structures shared by the label pipeline.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScopeLayout is the day-scope prefix of pallet numbers (ddMMyy).
const ScopeLayout = "020106"

// Identifier is an allocated pallet number: a sequence within a day scope,
// optionally attached to a parent order.
type Identifier struct {
	ScopeDate time.Time `json:"scope_date"`
	Sequence  int       `json:"sequence"`
	ParentRef string    `json:"parent_ref,omitempty"`
}

// ScopeKey returns the scope key for a calendar day.
func ScopeKey(day time.Time) string {
	return day.Format(ScopeLayout)
}

// Scope returns the identifier's scope key.
func (id Identifier) Scope() string {
	return ScopeKey(id.ScopeDate)
}

// String renders the pallet number, e.g. "090525/14".
func (id Identifier) String() string {
	return fmt.Sprintf("%s/%d", id.Scope(), id.Sequence)
}

// FileName renders the document file name, e.g. "090525_14.pdf".
func (id Identifier) FileName() string {
	return strings.ReplaceAll(id.String(), "/", "_") + ".pdf"
}

// IsZero reports whether the identifier was never allocated.
func (id Identifier) IsZero() bool {
	return id.Sequence == 0
}

// ParseIdentifier parses a rendered pallet number in the given location.
func ParseIdentifier(s string, loc *time.Location) (Identifier, error) {
	scope, seq, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Identifier{}, fmt.Errorf("invalid pallet number %q: missing '/'", s)
	}
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(ScopeLayout, scope, loc)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid pallet number %q: %w", s, err)
	}
	n, err := strconv.Atoi(seq)
	if err != nil || n <= 0 {
		return Identifier{}, fmt.Errorf("invalid pallet number %q: bad sequence", s)
	}
	return Identifier{ScopeDate: day, Sequence: n}, nil
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseScopeDate parses a scope date given as ddMMyy or YYYY-MM-DD.
func ParseScopeDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if len(s) == len(ScopeLayout) {
		return time.ParseInLocation(ScopeLayout, s, loc)
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}
