package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/service"
)

var (
	reprintFlags printFlags
	reprintInput labels.ReprintInput
)

var reprintCmd = &cobra.Command{
	Use:   "reprint <original-pallet>",
	Short: "Replace a damaged pallet with a freshly numbered one",
	Long: `Allocate a new pallet number and series for a damaged pallet, record the
replacement in the original pallet's location and print its QC label.

Examples:
  labelflow reprint 080525/7 --product-code MEP123150 --description "Cable tray" \
    --quantity 60 --operator 5997 --location "Fold Mill"`,
	Args: cobra.ExactArgs(1),
	RunE: runReprint,
}

func init() {
	fs := reprintCmd.Flags()
	fs.StringVar(&reprintInput.ProductCode, "product-code", "", "product code (required)")
	fs.StringVar(&reprintInput.Description, "description", "", "product description (required)")
	fs.Float64Var(&reprintInput.Quantity, "quantity", 0, "quantity on the replacement pallet (required)")
	fs.StringVar(&reprintInput.OperatorID, "operator", "", "operator clock number (required)")
	fs.StringVar(&reprintInput.OriginalLocation, "location", "", "location of the original pallet (default: AWAITING AREA)")
	reprintFlags.bind(reprintCmd)
}

func runReprint(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	in := reprintInput
	in.OriginalPallet = args[0]

	if c := remote(); c != nil {
		if reprintFlags.output != "" {
			return errors.New("--output is not available with --server")
		}
		opts, err := reprintFlags.options(service.PrintOptions{})
		if err != nil {
			return err
		}
		report, err := c.Reprint(ctx, service.ReprintRequest{Input: in, PrintOptions: opts})
		if report == nil && err != nil {
			return fmt.Errorf("reprint %s: %w", in.OriginalPallet, err)
		}
		return finishPrint(cmd.OutOrStdout(), report, err, &reprintFlags)
	}

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	opts, err := reprintFlags.options(a.PrintOptions())
	if err != nil {
		return err
	}
	report, err := a.Labels.Reprint(ctx, service.ReprintRequest{Input: in, PrintOptions: opts})
	return finishPrint(cmd.OutOrStdout(), report, err, &reprintFlags)
}
