// Package printer submits print jobs to a print collaborator: an HTTP print
// server, a Kafka print-job topic or an in-process recorder.
package printer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// RejectedError is a structured refusal from the print collaborator. It is
// permanent: retrying the same job will not succeed.
type RejectedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("print job rejected: %s: %s", e.Code, e.Message)
}

// IsRejected reports whether err carries a *RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// jobDocument is one document reference in a submitted job. Data is only sent
// when no URL is available.
type jobDocument struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// jobMessage is the wire form of a print job.
type jobMessage struct {
	JobID     string          `json:"job_id,omitempty"`
	Name      string          `json:"name"`
	Copies    int             `json:"copies"`
	Priority  models.Priority `json:"priority"`
	Printer   string          `json:"printer,omitempty"`
	Merged    bool            `json:"merged"`
	Documents []jobDocument   `json:"documents"`
}

func toMessage(job models.PrintJob) jobMessage {
	parts := job.Parts()
	docs := make([]jobDocument, len(parts))
	for i, p := range parts {
		d := jobDocument{Name: p.Name, URL: p.URL}
		if p.URL == "" {
			d.Data = p.Bytes
		}
		docs[i] = d
	}
	copies := job.Copies
	if copies < 1 {
		copies = 1
	}
	priority := job.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	return jobMessage{
		Name:      job.Name,
		Copies:    copies,
		Priority:  priority,
		Printer:   job.PrinterPreference,
		Merged:    job.Merged != nil,
		Documents: docs,
	}
}

// Memory records submitted jobs.
type Memory struct {
	mu   sync.Mutex
	jobs []models.PrintJob
	// Errs are returned, in order, by the next Submit calls.
	Errs []error
}

// NewMemory creates an empty recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Jobs returns the accepted jobs.
func (m *Memory) Jobs() []models.PrintJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PrintJob(nil), m.jobs...)
}
