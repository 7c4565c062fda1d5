package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/render"
)

var (
	renderPallet string
	renderSeries string
	renderOutput string

	renderQCInput  labels.QCInput
	renderGRNInput labels.GRNInput
	renderGRNMode  string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a single label to a file",
	Long: `Render one label for an already allocated pallet number. Nothing is
reserved or recorded; use this to preview a label or print a copy of an
existing one. To replace a damaged pallet, use "labelflow reprint".

Examples:
  labelflow render qc --pallet 090525/14 --product-code MEP123150 \
    --description "Cable tray" --quantity 120 --checker 5997
  labelflow render grn --pallet 090525/15 --grn 4021 --supplier Acme \
    --product-code RM-77 --description "Steel coil" --received-by 5997 --weight 812.5`,
}

var renderQCCmd = &cobra.Command{
	Use:   "qc",
	Short: "Render a QC label",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRender(cmd, renderQCInput)
	},
}

var renderGRNCmd = &cobra.Command{
	Use:   "grn",
	Short: "Render a GRN label",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := renderGRNInput
		in.Mode = models.LabelMode(renderGRNMode)
		return runRender(cmd, in)
	},
}

func init() {
	renderCmd.PersistentFlags().StringVar(&renderPallet, "pallet", "", "pallet number, e.g. 090525/14 (required)")
	renderCmd.PersistentFlags().StringVar(&renderSeries, "series", "", "series code for the QR payload (default: product code)")
	renderCmd.PersistentFlags().StringVarP(&renderOutput, "output", "o", "", "output file (default: <pallet>.pdf)")
	_ = renderCmd.MarkPersistentFlagRequired("pallet")

	bindQCInput(renderQCCmd.Flags(), &renderQCInput)
	bindGRNInput(renderGRNCmd.Flags(), &renderGRNInput, &renderGRNMode)
	renderGRNCmd.Flags().Float64Var(&renderGRNInput.NetWeight, "weight", 0, "net weight (required)")

	renderCmd.AddCommand(renderQCCmd)
	renderCmd.AddCommand(renderGRNCmd)
}

func runRender(cmd *cobra.Command, in labels.Input) error {
	id, err := models.ParseIdentifier(renderPallet, cfg.Location)
	if err != nil {
		return err
	}
	if qc, ok := in.(labels.QCInput); ok && qc.IsACO() {
		id.ParentRef = qc.ACORef
	}

	m, err := labels.NewPreparer(cfg.Location, nil).Prepare(in, id, renderSeries)
	if err != nil {
		return err
	}
	doc, err := renderLabel(cmd.Context(), m)
	if err != nil {
		return err
	}

	out := renderOutput
	if out == "" {
		out = id.FileName()
	}
	if err := os.WriteFile(out, doc, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	return nil
}

func renderLabel(ctx context.Context, m models.LabelModel) ([]byte, error) {
	r := render.New(render.WithTemplates(cfg.Templates), render.WithLogger(logger))
	return r.Render(ctx, m)
}
