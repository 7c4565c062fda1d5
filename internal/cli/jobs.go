package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/client"
	"github.com/raphaelgruber/labelflow/internal/service"
)

var (
	jobsFollow bool
	jobsCancel bool
	jobsJSON   bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect print jobs on a labelflow server",
	Long: `List all print jobs on a labelflow server or inspect a specific job by ID.

Examples:
  labelflow jobs --server http://labels:8080          # List all jobs
  labelflow jobs abc123                               # Show details for job abc123
  labelflow jobs abc123 --follow                      # Stream progress until it finishes
  labelflow jobs abc123 --cancel                      # Cancel remaining labels`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVarP(&jobsFollow, "follow", "f", false, "stream progress until the job finishes")
	jobsCmd.Flags().BoolVar(&jobsCancel, "cancel", false, "cancel the job")
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "print JSON")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := remote()
	if c == nil {
		c = client.New("")
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		return listJobs(ctx, out, c)
	}

	id := args[0]
	switch {
	case jobsCancel:
		if err := c.CancelJob(ctx, id); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Fprintf(out, "Cancelling job %s\n", id)
		return nil
	case jobsFollow:
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return followRemote(ctx, out, cmd.ErrOrStderr(), c, job, jobsJSON)
	default:
		return showJob(ctx, out, c, id)
	}
}

// followRemote streams a submitted job to errOut and prints its report to w.
func followRemote(ctx context.Context, w, errOut io.Writer, c *client.Client, job *service.Job, asJSON bool) error {
	if job.Status.Done() {
		return printJobResult(w, job, asJSON)
	}
	final, err := followJob(ctx, errOut, job, func(ctx context.Context, onEvent func(batch.Event)) (*service.Job, error) {
		return c.StreamJob(ctx, job.ID, onEvent)
	})
	if err != nil {
		return err
	}
	if final == nil {
		// Detached; the job keeps running on the server.
		return nil
	}
	return printJobResult(w, final, asJSON)
}

func printJobResult(w io.Writer, job *service.Job, asJSON bool) error {
	if job.Report != nil {
		if err := writeReport(w, job.Report, asJSON); err != nil {
			return err
		}
	} else if asJSON {
		if err := writeJSON(w, job); err != nil {
			return err
		}
	}
	if job.Status != service.JobStatusCompleted {
		if job.Error != "" {
			return fmt.Errorf("job %s %s: %s", job.ID, job.Status, job.Error)
		}
		return fmt.Errorf("job %s %s", job.ID, job.Status)
	}
	return nil
}

func listJobs(ctx context.Context, w io.Writer, c *client.Client) error {
	jobs, err := c.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if jobsJSON {
		return writeJSON(w, jobs)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-5s %-10s %-10s %s\n", "ID", "KIND", "STATUS", "PROGRESS", "STARTED")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------")
	for _, job := range jobs {
		progress := ""
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.Total)
		}
		fmt.Fprintf(w, "%-36s %-5s %-10s %-10s %s\n", job.ID, job.Kind, job.Status, progress, job.StartedAt.Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, w io.Writer, c *client.Client, id string) error {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if jobsJSON {
		return writeJSON(w, job)
	}

	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Kind: %s\n", job.Kind)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	if job.Total > 0 {
		fmt.Fprintf(w, "  Progress: %d/%d\n", job.Progress, job.Total)
	}
	fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	if job.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", job.Error)
	}
	if job.Report != nil {
		fmt.Fprintln(w)
		return writeReport(w, job.Report, false)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
