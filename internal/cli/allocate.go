package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/labelflow/internal/models"
)

var (
	allocCount  int
	allocDate   string
	allocPeek   bool
	allocSeries bool
	allocParent string
	allocJSON   bool
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Reserve pallet numbers, or show the next one with --peek",
	Long: `Reserve consecutive pallet numbers in a day scope without printing labels.
Reserved numbers are never reissued, even if no label is printed for them.

Examples:
  labelflow allocate --peek                 # Show the next pallet number for today
  labelflow allocate --peek --date 090525
  labelflow allocate --count 5 --series     # Reserve 5 numbers and series codes`,
	Args: cobra.NoArgs,
	RunE: runAllocate,
}

func init() {
	allocateCmd.Flags().IntVarP(&allocCount, "count", "n", 1, "numbers to reserve")
	allocateCmd.Flags().StringVar(&allocDate, "date", "", "scope date as ddMMyy or YYYY-MM-DD (default: today)")
	allocateCmd.Flags().BoolVar(&allocPeek, "peek", false, "show the current sequence without reserving")
	allocateCmd.Flags().BoolVar(&allocSeries, "series", false, "also reserve series codes")
	allocateCmd.Flags().StringVar(&allocParent, "parent", "", "parent order reference for the reserved numbers")
	allocateCmd.Flags().BoolVar(&allocJSON, "json", false, "print JSON")
}

type allocation struct {
	Pallet string `json:"pallet"`
	Series string `json:"series,omitempty"`
}

func runAllocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var day time.Time
	if allocDate != "" {
		var err error
		if day, err = models.ParseScopeDate(allocDate, cfg.Location); err != nil {
			return fmt.Errorf("invalid --date %q: use ddMMyy or YYYY-MM-DD", allocDate)
		}
	}

	if allocPeek {
		if c := remote(); c != nil {
			date := allocDate
			if date == "" {
				date = models.ScopeKey(models.Day(time.Now().In(cfg.Location)))
			}
			seq, err := c.GetSequence(ctx, date)
			if err != nil {
				return fmt.Errorf("get sequence: %w", err)
			}
			if allocJSON {
				return writeJSON(out, seq)
			}
			fmt.Fprintf(out, "Scope %s: %d issued, next %s\n", seq.Scope, seq.MaxSequence, seq.NextPallet)
			return nil
		}
	}

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	alloc := a.Allocator
	day = alloc.Day(day)

	if allocPeek {
		n, err := alloc.MaxSequenceForScope(ctx, day)
		if err != nil {
			return err
		}
		next := models.Identifier{ScopeDate: day, Sequence: n + 1}
		if allocJSON {
			return writeJSON(out, map[string]any{
				"scope":        models.ScopeKey(day),
				"max_sequence": n,
				"next_pallet":  next.String(),
			})
		}
		fmt.Fprintf(out, "Scope %s: %d issued, next %s\n", models.ScopeKey(day), n, next)
		return nil
	}

	ids, err := alloc.AllocateIdentifiers(ctx, day, allocCount, allocParent)
	if err != nil {
		return err
	}
	var series []string
	if allocSeries {
		if series, err = alloc.AllocateSeries(ctx, day, allocCount); err != nil {
			return err
		}
	}

	result := make([]allocation, len(ids))
	for i, id := range ids {
		result[i].Pallet = id.String()
		if series != nil {
			result[i].Series = series[i]
		}
	}
	if allocJSON {
		return writeJSON(out, result)
	}
	for _, r := range result {
		if r.Series != "" {
			fmt.Fprintf(out, "%s\t%s\n", r.Pallet, r.Series)
			continue
		}
		fmt.Fprintln(out, r.Pallet)
	}
	return nil
}
