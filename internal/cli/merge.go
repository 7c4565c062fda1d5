package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/labelflow/internal/merge"
)

var mergeOutput string

var mergeCmd = &cobra.Command{
	Use:   "merge <in.pdf>... -o <out.pdf>",
	Short: "Merge PDF documents into one",
	Long: `Append the pages of the input PDFs in order. Unreadable inputs are
skipped with a warning; the command fails only if nothing could be merged.

Example:
  labelflow merge 090525_14.pdf 090525_15.pdf -o pallets.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "output file (required)")
	_ = mergeCmd.MarkFlagRequired("output")
}

func runMerge(cmd *cobra.Command, args []string) error {
	docs := make([][]byte, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs[i] = data
	}

	merged, err := merge.New(logger).Merge(docs)
	if err != nil {
		var noContent *merge.NoContentError
		if errors.As(err, &noContent) {
			for _, w := range noContent.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "  • %s: %s\n", args[w.Index], w.Reason)
			}
		}
		return err
	}

	if err := os.WriteFile(mergeOutput, merged.Bytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mergeOutput, err)
	}
	for _, w := range merged.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "  • skipped %s: %s\n", args[w.Index], w.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d pages)\n", mergeOutput, merged.PageCount)
	return nil
}
