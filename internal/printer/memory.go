package printer

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// Submit implements the print collaborator.
func (m *Memory) Submit(ctx context.Context, job models.PrintJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		if err != nil {
			return "", err
		}
	}
	m.jobs = append(m.jobs, job)
	return fmt.Sprintf("mem-%d", len(m.jobs)), nil
}
