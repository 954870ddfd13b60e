package cli

import (
	"fmt"
	"io"
	"strings"

	"commerce-pipeline/internal/app"
	"commerce-pipeline/internal/core"
)

func printDocument(w io.Writer, result *app.DocumentResult) {
	d := result.Document
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "  %s %s  [%s]\n", d.Side, d.Stage, d.DocumentNumber)
	fmt.Fprintf(w, "  Company      : %s\n", result.CompanyCode)
	fmt.Fprintf(w, "  ID           : %d\n", d.ID)
	fmt.Fprintf(w, "  Status       : %s\n", d.Status)
	fmt.Fprintf(w, "  Counterparty : %d\n", d.CounterpartyID)
	if d.PredecessorID != nil {
		fmt.Fprintf(w, "  From         : document %d\n", *d.PredecessorID)
	}
	if d.RequestedDeliveryDate != nil {
		fmt.Fprintf(w, "  Delivery     : %s\n", d.RequestedDeliveryDate.Format("2006-01-02"))
	}
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "  %-4s %-8s %8s %12s %12s %14s\n", "#", "PRODUCT", "QTY", "UNIT PRICE", "DISCOUNT", "RECEIVED")
	for _, l := range d.Lines {
		received := ""
		if l.ReceivedQuantity != nil {
			received = fmt.Sprintf("%d", *l.ReceivedQuantity)
		}
		fmt.Fprintf(w, "  %-4d %-8d %8d %12s %12s %14s\n",
			l.LineNumber, l.ProductID, l.Quantity, l.UnitPrice.StringFixed(2), l.LineDiscount.StringFixed(2), received)
	}
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "  %-20s %15s %s\n", "Subtotal", d.Subtotal.StringFixed(2), d.Currency)
	fmt.Fprintf(w, "  %-20s %15s %s\n", "Discount", d.Discount.StringFixed(2), d.Currency)
	fmt.Fprintf(w, "  %-20s %15s %s\n", "Tax", d.Tax.StringFixed(2), d.Currency)
	fmt.Fprintf(w, "  %-20s %15s %s\n", "Total", d.Total.StringFixed(2), d.Currency)
	if len(result.NextStatuses) > 0 {
		next := make([]string, len(result.NextStatuses))
		for i, s := range result.NextStatuses {
			next[i] = string(s)
		}
		fmt.Fprintf(w, "  Next: %s\n", strings.Join(next, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func printDocuments(w io.Writer, result *app.DocumentListResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "  DOCUMENTS  Company %s\n", result.CompanyCode)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	if len(result.Documents) == 0 {
		fmt.Fprintln(w, "  No documents found.")
		fmt.Fprintln(w, strings.Repeat("=", 80))
		return
	}
	fmt.Fprintf(w, "  %-6s %-16s %-9s %-10s %-12s %14s  %s\n", "ID", "NUMBER", "SIDE", "STAGE", "STATUS", "TOTAL", "CREATED")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, d := range result.Documents {
		fmt.Fprintf(w, "  %-6d %-16s %-9s %-10s %-12s %14s  %s\n",
			d.ID, d.DocumentNumber, d.Side, d.Stage, d.Status, d.Total.StringFixed(2), d.CreatedAt.Format("2006-01-02"))
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func printRun(w io.Writer, run *core.PipelineRun) {
	fmt.Fprintln(w)
	for _, s := range run.Steps {
		mark := "ok"
		switch {
		case s.Error != "":
			mark = "FAILED: " + s.Error
		case s.Skipped:
			mark = "skipped"
		}
		fmt.Fprintf(w, "  %-20s %s\n", s.Name, mark)
	}
	if run.Order != nil {
		fmt.Fprintf(w, "  %-9s: %s (%s)\n", core.StageOrder, run.Order.DocumentNumber, run.Order.Status)
	}
	if run.Terminal != nil {
		fmt.Fprintf(w, "  %-9s: %s\n", run.Terminal.Stage, run.Terminal.DocumentNumber)
	}
	if run.SyncError != "" {
		fmt.Fprintf(w, "  WARNING: inventory was not updated: %s\n", run.SyncError)
	}
	if run.Partial {
		fmt.Fprintln(w, "  Pipeline stopped early; completed steps were kept.")
	}
}

func printStats(w io.Writer, s *app.StatsResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 62))
	fmt.Fprintf(w, "  PIPELINE STATS  Company %s  %s\n", s.CompanyCode, s.Side)
	if !s.From.IsZero() {
		fmt.Fprintf(w, "  Window   : %s to %s\n", s.From.Format("2006-01-02"), s.To.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w, strings.Repeat("=", 62))
	for _, stage := range core.PipelineStages(s.Side) {
		fmt.Fprintf(w, "  %-30s %10d\n", stage, s.CountsByStage[stage])
	}
	fmt.Fprintln(w, strings.Repeat("-", 62))
	fmt.Fprintf(w, "  %-30s %9s%%\n", "Quotation to order", s.QuotationToOrderRate.StringFixed(2))
	fmt.Fprintf(w, "  %-30s %9s%%\n", "Order to "+strings.ToLower(string(core.TerminalStage(s.Side))), s.OrderToTerminalRate.StringFixed(2))
	for _, key := range cycleKeys(s.Side) {
		if h, ok := s.AvgCycleTimeHours[key]; ok {
			fmt.Fprintf(w, "  %-30s %10s h\n", key, h.StringFixed(2))
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 62))
}

func cycleKeys(side core.Side) []string {
	stages := core.PipelineStages(side)
	keys := make([]string, 0, len(stages)-1)
	for i := 1; i < len(stages); i++ {
		keys = append(keys, core.CycleKey(stages[i-1], stages[i]))
	}
	return keys
}

func printFunnel(w io.Writer, f *app.FunnelResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 62))
	fmt.Fprintf(w, "  FUNNEL  Company %s  %s\n", f.CompanyCode, f.Side)
	fmt.Fprintln(w, strings.Repeat("=", 62))
	fmt.Fprintf(w, "  %-12s %8s %18s %12s\n", "STAGE", "COUNT", "VALUE", "DROP-OFF")
	fmt.Fprintln(w, strings.Repeat("-", 62))
	for _, row := range f.Stages {
		fmt.Fprintf(w, "  %-12s %8d %18s %11s%%\n",
			row.Stage, row.Count, row.MonetaryTotal.StringFixed(2), row.DropOffPercentage.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("=", 62))
}

func printBottlenecks(w io.Writer, b *app.BottlenecksResult) {
	if len(b.Findings) == 0 {
		fmt.Fprintf(w, "No bottlenecks found for company %s.\n", b.CompanyCode)
		return
	}
	fmt.Fprintf(w, "Bottlenecks for company %s:\n", b.CompanyCode)
	for _, f := range b.Findings {
		fmt.Fprintf(w, "  - %s\n", f)
	}
}
