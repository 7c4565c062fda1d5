package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/service"
)

// printFlags are shared by qc and grn.
type printFlags struct {
	date       string
	copies     int
	priority   string
	printer    string
	noMerge    bool
	noUpload   bool
	noPrint    bool
	output     string
	jsonOutput bool
}

func (f *printFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.date, "date", "", "scope date as ddMMyy or YYYY-MM-DD (default: today)")
	fs.IntVar(&f.copies, "copies", 0, "print copies (default: configured)")
	fs.StringVar(&f.priority, "priority", "", "print priority: low, normal, high, urgent")
	fs.StringVar(&f.printer, "printer", "", "preferred printer")
	fs.BoolVar(&f.noMerge, "no-merge", false, "dispatch individual documents instead of one merged PDF")
	fs.BoolVar(&f.noUpload, "no-upload", false, "skip blob storage upload")
	fs.BoolVar(&f.noPrint, "no-print", false, "skip the print service")
	fs.StringVarP(&f.output, "output", "o", "", "write the merged PDF to this file, or documents into this directory with --no-merge")
	fs.BoolVar(&f.jsonOutput, "json", false, "print the report as JSON")
}

// options overlays the flags onto the configured defaults.
func (f *printFlags) options(base service.PrintOptions) (service.PrintOptions, error) {
	opts := base
	if f.date != "" {
		day, err := models.ParseScopeDate(f.date, cfg.Location)
		if err != nil {
			return opts, fmt.Errorf("invalid --date %q: use ddMMyy or YYYY-MM-DD", f.date)
		}
		opts.ScopeDate = day
	}
	if f.copies > 0 {
		opts.Copies = f.copies
	}
	if f.priority != "" {
		p, err := models.ParsePriority(f.priority)
		if err != nil {
			return opts, err
		}
		opts.Priority = p
	}
	if f.printer != "" {
		opts.PrinterPreference = f.printer
	}
	opts.SkipMerge = opts.SkipMerge || f.noMerge
	opts.SkipUpload = opts.SkipUpload || f.noUpload
	opts.SkipPrint = opts.SkipPrint || f.noPrint
	return opts, nil
}

var (
	qcFlags printFlags
	qcInput labels.QCInput
	qcCount int
)

var qcCmd = &cobra.Command{
	Use:   "qc",
	Short: "Print QC labels for finished pallets",
	Long: `Allocate pallet numbers and print QC labels for one or more identical
production pallets.

Examples:
  labelflow qc --product-code MEP123150 --description "Cable tray" \
    --quantity 120 --checker 5997 --count 3
  labelflow qc --product-code ACO1 --description "Drain" --quantity 10 \
    --checker 5997 --product-type ACO --aco-ref 123456
  labelflow qc ... --no-print -o labels.pdf`,
	Args: cobra.NoArgs,
	RunE: runQC,
}

func init() {
	bindQCInput(qcCmd.Flags(), &qcInput)
	qcCmd.Flags().IntVarP(&qcCount, "count", "n", 1, "number of pallets")
	qcFlags.bind(qcCmd)
}

func bindQCInput(fs *pflag.FlagSet, in *labels.QCInput) {
	fs.StringVar(&in.ProductCode, "product-code", "", "product code (required)")
	fs.StringVar(&in.Description, "description", "", "product description (required)")
	fs.Float64Var(&in.Quantity, "quantity", 0, "quantity per pallet (required)")
	fs.StringVar(&in.OperatorID, "operator", "", "operator clock number")
	fs.StringVar(&in.CheckerID, "checker", "", "QC clock number (required)")
	fs.StringVar(&in.ProductType, "product-type", "", "product type, e.g. ACO or Slate")
	fs.StringVar(&in.WorkOrderNumber, "work-order", "", "work order number")
	fs.StringVar(&in.WorkOrderName, "work-order-name", "", "work order name")
	fs.StringVar(&in.ACORef, "aco-ref", "", "ACO order reference")
	fs.IntVar(&in.ACOOrdinal, "aco-ordinal", 0, "position of the first pallet in the ACO order (default: next)")
	fs.StringVar(&in.Batch, "batch", "", "batch number for Slate pallets")
}

func runQC(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if c := remote(); c != nil {
		if qcFlags.output != "" {
			return errors.New("--output is not available with --server")
		}
		opts, err := qcFlags.options(service.PrintOptions{})
		if err != nil {
			return err
		}
		job, err := c.PrintQCAsync(ctx, service.QCRequest{Input: qcInput, Count: qcCount, PrintOptions: opts})
		if err != nil {
			return fmt.Errorf("submit QC job: %w", err)
		}
		return followRemote(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), c, job, qcFlags.jsonOutput)
	}

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	opts, err := qcFlags.options(a.PrintOptions())
	if err != nil {
		return err
	}

	report, err := runWithProgress(ctx, cmd.ErrOrStderr(), "qc", qcCount,
		func(ctx context.Context, progress func(batch.Event)) (*service.Report, error) {
			o := opts
			o.Progress = progress
			return a.Labels.PrintQC(ctx, service.QCRequest{Input: qcInput, Count: qcCount, PrintOptions: o})
		})
	return finishPrint(cmd.OutOrStdout(), report, err, &qcFlags)
}

var (
	grnFlags   printFlags
	grnInput   labels.GRNInput
	grnWeights []float64
	grnMode    string
)

var grnCmd = &cobra.Command{
	Use:   "grn",
	Short: "Print GRN labels for received material",
	Long: `Allocate pallet numbers and print GRN labels, one pallet per --weight.

Examples:
  labelflow grn --grn 4021 --supplier Acme --product-code RM-77 \
    --description "Steel coil" --received-by 5997 --weight 812.5 --weight 799`,
	Args: cobra.NoArgs,
	RunE: runGRN,
}

func init() {
	bindGRNInput(grnCmd.Flags(), &grnInput, &grnMode)
	grnCmd.Flags().Float64SliceVar(&grnWeights, "weight", nil, "net weight of a pallet (repeatable, required)")
	grnFlags.bind(grnCmd)
}

func bindGRNInput(fs *pflag.FlagSet, in *labels.GRNInput, mode *string) {
	fs.StringVar(&in.GRNNumber, "grn", "", "goods received note number (required)")
	fs.StringVar(&in.Supplier, "supplier", "", "material supplier (required)")
	fs.StringVar(&in.ProductCode, "product-code", "", "material code (required)")
	fs.StringVar(&in.Description, "description", "", "material description (required)")
	fs.StringVar(&in.ReceivedBy, "received-by", "", "receiver clock number (required)")
	fs.StringVar(&in.ProductType, "product-type", "", "product type")
	fs.StringVar(mode, "mode", "", "label mode: qty or weight (default: weight)")
}

func grnItems() ([]labels.GRNInput, error) {
	if len(grnWeights) == 0 {
		return nil, errors.New("at least one --weight is required")
	}
	items := make([]labels.GRNInput, len(grnWeights))
	for i, w := range grnWeights {
		items[i] = grnInput
		items[i].NetWeight = w
		items[i].Mode = models.LabelMode(grnMode)
	}
	return items, nil
}

func runGRN(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	items, err := grnItems()
	if err != nil {
		return err
	}

	if c := remote(); c != nil {
		if grnFlags.output != "" {
			return errors.New("--output is not available with --server")
		}
		opts, err := grnFlags.options(service.PrintOptions{})
		if err != nil {
			return err
		}
		job, err := c.PrintGRNAsync(ctx, service.GRNRequest{Items: items, PrintOptions: opts})
		if err != nil {
			return fmt.Errorf("submit GRN job: %w", err)
		}
		return followRemote(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), c, job, grnFlags.jsonOutput)
	}

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	opts, err := grnFlags.options(a.PrintOptions())
	if err != nil {
		return err
	}

	report, err := runWithProgress(ctx, cmd.ErrOrStderr(), "grn", len(items),
		func(ctx context.Context, progress func(batch.Event)) (*service.Report, error) {
			o := opts
			o.Progress = progress
			return a.Labels.PrintGRN(ctx, service.GRNRequest{Items: items, PrintOptions: o})
		})
	return finishPrint(cmd.OutOrStdout(), report, err, &grnFlags)
}

// finishPrint writes requested files and the report, then returns the batch error.
func finishPrint(w io.Writer, report *service.Report, runErr error, f *printFlags) error {
	if report != nil && f.output != "" {
		if err := writeOutput(report, f.output); err != nil {
			return err
		}
	}
	if report != nil {
		if err := writeReport(w, report, f.jsonOutput); err != nil {
			return err
		}
	}
	return runErr
}

// writeOutput stores the merged PDF, or each document under dir with --no-merge.
func writeOutput(report *service.Report, path string) error {
	if len(report.Merged) > 0 {
		if err := os.WriteFile(path, report.Merged, 0o644); err != nil {
			return fmt.Errorf("write merged document: %w", err)
		}
		return nil
	}
	if len(report.Documents) == 0 {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, doc := range report.Documents {
		name := doc.Identifier.FileName()
		if err := os.WriteFile(filepath.Join(path, name), doc.Bytes, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func writeReport(w io.Writer, r *service.Report, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}

	fmt.Fprintf(w, "%s labels: %d/%d rendered", strings.ToUpper(string(r.Kind)), r.Successful, r.Total)
	if r.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", r.Failed)
	}
	if r.Cancelled > 0 {
		fmt.Fprintf(w, ", %d cancelled", r.Cancelled)
	}
	fmt.Fprintln(w)
	if len(r.Pallets) > 0 {
		fmt.Fprintf(w, "  Pallets: %s\n", strings.Join(r.Pallets, ", "))
	}
	if r.PageCount > 0 {
		fmt.Fprintf(w, "  Pages: %d\n", r.PageCount)
	}
	if r.JobID != "" {
		fmt.Fprintf(w, "  Print job: %s\n", r.JobID)
	}
	if r.MergedURL != "" {
		fmt.Fprintf(w, "  Merged: %s\n", r.MergedURL)
	}
	for pallet, url := range r.UploadedURLs {
		fmt.Fprintf(w, "  %s: %s\n", pallet, url)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  • error: %s\n", e)
	}
	for _, mw := range r.MergeWarnings {
		fmt.Fprintf(w, "  • merge: %s\n", mw)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  • warning: %s\n", warn)
	}
	if r.DispatchError != "" {
		fmt.Fprintf(w, "  Dispatch failed: %s\n", r.DispatchError)
	}
	return nil
}
