// Package merge concatenates rendered label documents into one PDF.
package merge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/raphaelgruber/labelflow/internal/models"
)

func init() {
	// No pdfcpu config directory under $HOME.
	api.DisableConfigDir()
}

// MergeWarning records an input skipped while merging.
type MergeWarning = models.MergeWarning

// NoContentError is returned when no input contributed a page.
type NoContentError struct {
	Inputs   int
	Warnings []MergeWarning
}

func (e *NoContentError) Error() string {
	return fmt.Sprintf("merge: no pages in %d input document(s)", e.Inputs)
}

// ErrNoContent matches any *NoContentError with errors.Is.
var ErrNoContent = errors.New("merge: no content")

func (e *NoContentError) Is(target error) bool {
	return target == ErrNoContent
}

// Merger merges PDF documents.
type Merger struct {
	conf   *model.Configuration
	logger *slog.Logger
}

// New creates a Merger with relaxed validation.
func New(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Merger{conf: conf, logger: logger}
}

// Merge appends the pages of docs in order. Empty or unreadable inputs are
// skipped with a warning; if nothing is left a *NoContentError is returned.
func (m *Merger) Merge(docs [][]byte) (*models.MergedDocument, error) {
	var (
		warnings []MergeWarning
		valid    [][]byte
		counts   []int
		indexes  []int
		pages    int
	)

	for i, doc := range docs {
		if len(doc) == 0 {
			warnings = append(warnings, MergeWarning{Index: i, Reason: "empty document"})
			continue
		}
		n, err := api.PageCount(bytes.NewReader(doc), m.conf)
		if err != nil {
			warnings = append(warnings, MergeWarning{Index: i, Reason: fmt.Sprintf("unreadable: %v", err)})
			continue
		}
		if n == 0 {
			warnings = append(warnings, MergeWarning{Index: i, Reason: "no pages"})
			continue
		}
		if err := m.verify(doc); err != nil {
			warnings = append(warnings, MergeWarning{Index: i, Reason: fmt.Sprintf("unreadable content: %v", err)})
			continue
		}
		valid = append(valid, doc)
		counts = append(counts, n)
		indexes = append(indexes, i)
		pages += n
	}

	var out []byte
	switch len(valid) {
	case 0:
		m.logWarnings(warnings)
		return nil, &NoContentError{Inputs: len(docs), Warnings: warnings}
	case 1:
		out = valid[0]
	default:
		merged, err := m.mergeRaw(valid...)
		if err == nil {
			out = merged
			break
		}
		m.logger.Warn("bulk merge failed, appending one by one", "inputs", len(valid), "error", err)
		var skipped []MergeWarning
		out, pages, skipped = m.appendEach(valid, counts, indexes)
		warnings = append(warnings, skipped...)
	}

	m.logWarnings(warnings)
	m.logger.Debug("documents merged", "inputs", len(docs), "pages", pages)
	return &models.MergedDocument{PageCount: pages, Bytes: out, Warnings: warnings}, nil
}

// appendEach merges docs one at a time, skipping any document that cannot
// be appended. docs are known to merge with themselves, so the first
// document always survives.
func (m *Merger) appendEach(docs [][]byte, counts, indexes []int) ([]byte, int, []MergeWarning) {
	var warnings []MergeWarning
	acc, pages := docs[0], counts[0]
	for i := 1; i < len(docs); i++ {
		merged, err := m.mergeRaw(acc, docs[i])
		if err != nil {
			warnings = append(warnings, MergeWarning{Index: indexes[i], Reason: fmt.Sprintf("append failed: %v", err)})
			continue
		}
		acc = merged
		pages += counts[i]
	}
	return acc, pages, warnings
}

// verify runs doc through a full merge with itself, which decodes every
// stream the merge touches. api.PageCount alone only parses the structure.
func (m *Merger) verify(doc []byte) error {
	_, err := m.mergeRaw(doc, doc)
	return err
}

func (m *Merger) mergeRaw(docs ...[]byte) ([]byte, error) {
	rsc := make([]io.ReadSeeker, len(docs))
	for i, doc := range docs {
		rsc[i] = bytes.NewReader(doc)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(rsc, &out, false, m.conf); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(docs), err)
	}
	return out.Bytes(), nil
}

func (m *Merger) logWarnings(warnings []MergeWarning) {
	for _, w := range warnings {
		m.logger.Warn("merge input skipped", "index", w.Index, "reason", w.Reason)
	}
}

// PageCount returns the number of pages in doc.
func (m *Merger) PageCount(doc []byte) (int, error) {
	return api.PageCount(bytes.NewReader(doc), m.conf)
}
