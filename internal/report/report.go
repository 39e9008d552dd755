// Package report renders cashflow and category-flow views in a terminal.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"cashflow/internal/aggregate"
	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/flowcache"
	"cashflow/internal/services"
)

// Dashboard is the part of the dashboard service the report commands read from.
type Dashboard interface {
	Cashflow(ctx context.Context, p descriptor.Params, search string, opts flowcache.Options) (services.CashflowResult, error)
	CategoryFlow(ctx context.Context, p descriptor.Params, opts flowcache.Options) (services.CategoryFlowResult, error)
}

// Opener builds the dashboard for one command run. The returned cleanup is
// called when the command finishes.
type Opener func(ctx context.Context) (Dashboard, func(), error)

type rootCmd struct {
	open    Opener
	timeout time.Duration
	target  string
	width   int
	height  int
}

// NewRootCmd returns the cashflow-report command tree.
func NewRootCmd(open Opener) *cobra.Command {
	rc := &rootCmd{open: open}
	cmd := &cobra.Command{
		Use:           "cashflow-report",
		Short:         "Print cashflow charts and category breakdowns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&rc.timeout, "timeout", 60*time.Second, "Overall timeout for backend calls")
	cmd.PersistentFlags().StringVar(&rc.target, "target", "", "Read another user's shared data")
	cmd.PersistentFlags().IntVar(&rc.width, "width", 60, "Chart width in columns")
	cmd.PersistentFlags().IntVar(&rc.height, "height", 10, "Chart height in rows")

	cmd.AddCommand(rc.newCashflowCmd(), rc.newCategoryFlowCmd())
	return cmd
}

func (rc *rootCmd) withDashboard(fn func(ctx context.Context, d Dashboard) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
	defer cancel()

	d, cleanup, err := rc.open(ctx)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	return fn(ctx, d)
}

type cashflowCmd struct {
	*rootCmd
	rangeName string
	offset    int
	flow      string
	search    string
}

func (rc *rootCmd) newCashflowCmd() *cobra.Command {
	cc := &cashflowCmd{rootCmd: rc}
	cmd := &cobra.Command{
		Use:   "cashflow",
		Short: "Chart money in and out over a week, month or year",
		RunE:  cc.run,
	}
	cmd.Flags().StringVar(&cc.rangeName, "range", string(core.Month), "Period: week, month or year")
	cmd.Flags().IntVar(&cc.offset, "offset", 0, "Periods relative to the current one, e.g. -1 for the previous")
	cmd.Flags().StringVar(&cc.flow, "flow", string(core.FlowAll), "Flow: all, inflow or outflow")
	cmd.Flags().StringVar(&cc.search, "search", "", "Only include expenses matching this text")
	return cmd
}

func (cc *cashflowCmd) params() (descriptor.Params, error) {
	r, err := core.ParseRange(cc.rangeName)
	if err != nil {
		return nil, err
	}
	flow, err := core.ParseFlowTab(cc.flow)
	if err != nil {
		return nil, err
	}
	p := descriptor.Params{
		descriptor.ParamRange:  string(r),
		descriptor.ParamOffset: cc.offset,
	}
	if flow != core.FlowAll {
		p[descriptor.ParamFlowType] = string(flow)
	}
	if cc.target != "" {
		p[descriptor.ParamTargetID] = cc.target
	}
	return p, nil
}

func (cc *cashflowCmd) run(cmd *cobra.Command, _ []string) error {
	p, err := cc.params()
	if err != nil {
		return err
	}
	return cc.withDashboard(func(ctx context.Context, d Dashboard) error {
		res, err := d.Cashflow(ctx, p, cc.search, flowcache.Options{})
		if err != nil {
			return fmt.Errorf("read cashflow: %w", err)
		}
		RenderCashflow(cmd.OutOrStdout(), res, cc.width, cc.height)
		return nil
	})
}

type categoryFlowCmd struct {
	*rootCmd
	rangeName string
	offset    int
	byPayment bool
	startDate string
	endDate   string
}

func (rc *rootCmd) newCategoryFlowCmd() *cobra.Command {
	cf := &categoryFlowCmd{rootCmd: rc}
	cmd := &cobra.Command{
		Use:   "category-flow",
		Short: "Show daily spending per category or payment method",
		RunE:  cf.run,
	}
	cmd.Flags().StringVar(&cf.rangeName, "range", string(core.Month), "Period: week, month or year")
	cmd.Flags().IntVar(&cf.offset, "offset", 0, "Periods relative to the current one")
	cmd.Flags().BoolVar(&cf.byPayment, "by-payment-method", false, "Group by payment method instead of category")
	cmd.Flags().StringVar(&cf.startDate, "start", "", "Explicit start date (YYYY-MM-DD), overrides the range")
	cmd.Flags().StringVar(&cf.endDate, "end", "", "Explicit end date (YYYY-MM-DD), inclusive")
	return cmd
}

func (cf *categoryFlowCmd) params() (descriptor.Params, error) {
	r, err := core.ParseRange(cf.rangeName)
	if err != nil {
		return nil, err
	}
	p := descriptor.Params{
		descriptor.ParamRangeType: string(r),
		descriptor.ParamOffset:    cf.offset,
		descriptor.ParamGroupBy:   cf.byPayment,
	}
	if cf.target != "" {
		p[descriptor.ParamTargetID] = cf.target
	}
	for _, d := range []struct{ name, value string }{
		{descriptor.ParamStartDate, cf.startDate},
		{descriptor.ParamEndDate, cf.endDate},
	} {
		if d.value == "" {
			continue
		}
		if _, ok := core.ParseDate(d.value, time.Local); !ok {
			return nil, fmt.Errorf("%w: %s %q", core.ErrInvalidDate, d.name, d.value)
		}
		p[d.name] = d.value
	}
	return p, nil
}

func (cf *categoryFlowCmd) run(cmd *cobra.Command, _ []string) error {
	p, err := cf.params()
	if err != nil {
		return err
	}
	return cf.withDashboard(func(ctx context.Context, d Dashboard) error {
		res, err := d.CategoryFlow(ctx, p, flowcache.Options{})
		if err != nil {
			return fmt.Errorf("read category flow: %w", err)
		}
		return RenderCategoryFlow(cmd.OutOrStdout(), res)
	})
}

// RenderCashflow writes a line chart of the per-slot amounts followed by the
// period totals.
func RenderCashflow(w io.Writer, res services.CashflowResult, width, height int) {
	if width < 10 {
		width = 10
	}
	if height < 3 {
		height = 3
	}

	data := make([]float64, len(res.ChartData))
	labels := make([]string, len(res.ChartData))
	for i, row := range res.ChartData {
		data[i] = row.Amount
		labels[i] = row.Label
	}

	caption := fmt.Sprintf("%s by %s", rangeTitle(res.Descriptor.RangeOrDefault(), res.Descriptor.Offset), res.XKey)
	if len(data) == 0 {
		fmt.Fprintf(w, "%s: no data\n", caption)
	} else {
		fmt.Fprintln(w, asciigraph.Plot(data,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.Caption(caption),
		))
		if len(labels) > 0 {
			fmt.Fprintf(w, "\n%s .. %s\n", labels[0], labels[len(labels)-1])
		}
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Inflow\t%s\n", formatAmount(res.Totals.Inflow))
	fmt.Fprintf(tw, "Outflow\t%s\n", formatAmount(res.Totals.Outflow))
	fmt.Fprintf(tw, "Total\t%s\n", formatAmount(res.Totals.Total))
	fmt.Fprintf(tw, "Expenses\t%d\n", len(res.Expenses))
	_ = tw.Flush()
}

// RenderCategoryFlow writes one line per day and type with the spending split
// across buckets.
func RenderCategoryFlow(w io.Writer, res services.CategoryFlowResult) error {
	if len(res.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No spending in this period")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTYPE\tSPENDING\tBREAKDOWN")
	for _, row := range res.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.ISODate, row.Type, formatAmount(row.Spending), breakdown(row.BudgetTotals))
	}
	return tw.Flush()
}

func breakdown(totals []aggregate.BucketTotal) string {
	sorted := append([]aggregate.BucketTotal(nil), totals...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Total > sorted[j].Total })
	parts := make([]string, 0, len(sorted))
	for _, t := range sorted {
		parts = append(parts, fmt.Sprintf("%s %s", t.Name, formatAmount(t.Total)))
	}
	return strings.Join(parts, ", ")
}

func rangeTitle(r core.Range, offset int) string {
	switch {
	case offset == 0:
		return "This " + string(r)
	case offset == -1:
		return "Last " + string(r)
	case offset < 0:
		return fmt.Sprintf("%d %ss ago", -offset, r)
	default:
		return fmt.Sprintf("%d %ss ahead", offset, r)
	}
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", core.Round2(v))
}
