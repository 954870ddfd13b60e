// Package cli is the command-line adapter over app.ApplicationService.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"commerce-pipeline/internal/app"
	"commerce-pipeline/internal/core"
)

type runner struct {
	svc app.ApplicationService
	out io.Writer
}

// NewApp builds the pipeline command tree. Flags precede positional
// arguments: `pipeline run-pipeline --issue-terminal 42`.
func NewApp(svc app.ApplicationService, defaultCompany string, out io.Writer) *cli.App {
	r := &runner{svc: svc, out: out}

	windowFlags := []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "first day of the window (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "to", Usage: "last day of the window (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "side", Usage: "SALES or PURCHASE", Value: "SALES"},
	}

	return &cli.App{
		Name:      "pipeline",
		Usage:     "quotation, order, invoice and receipt pipeline",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "company", Aliases: []string{"c"}, Usage: "company code", Value: defaultCompany},
			&cli.IntFlag{Name: "actor", Usage: "acting user id, checked on conversions"},
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
		},
		Commands: []*cli.Command{
			{
				Name:  "create-quotation",
				Usage: "create a PENDING quotation",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "side", Value: "SALES"},
					&cli.IntFlag{Name: "counterparty", Required: true},
					&cli.StringSliceFlag{Name: "line", Required: true, Usage: "product:quantity:unit_price[:discount], repeatable"},
					&cli.StringFlag{Name: "currency"},
					&cli.StringFlag{Name: "notes"},
					&cli.StringFlag{Name: "delivery", Usage: "requested delivery date (YYYY-MM-DD)"},
				},
				Action: r.createQuotation,
			},
			{
				Name:  "list",
				Usage: "list documents, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "side"},
					&cli.StringFlag{Name: "stage"},
					&cli.StringFlag{Name: "status"},
					&cli.IntFlag{Name: "limit"},
				},
				Action: r.list,
			},
			{
				Name:      "show",
				Usage:     "show one document",
				ArgsUsage: "<document-id>",
				Action:    r.show,
			},
			{
				Name:      "transition",
				Usage:     "apply a manual status change",
				ArgsUsage: "<document-id> <status>",
				Action:    r.transition,
			},
			{
				Name:      "convert-quotation",
				Usage:     "convert an ACCEPTED quotation into an order",
				ArgsUsage: "<quotation-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "notes"},
					&cli.StringFlag{Name: "delivery", Usage: "requested delivery date (YYYY-MM-DD)"},
				},
				Action: r.convertQuotation,
			},
			{
				Name:      "invoice-order",
				Usage:     "issue the invoice of a SHIPPED sales order",
				ArgsUsage: "<order-id>",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "notes"}},
				Action:    r.invoiceOrder,
			},
			{
				Name:      "receive-order",
				Usage:     "record the goods receipt of a SHIPPED purchase order",
				ArgsUsage: "<order-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "notes"},
					&cli.StringSliceFlag{Name: "received", Usage: "line=quantity for partially received lines, repeatable"},
				},
				Action: r.receiveOrder,
			},
			{
				Name:      "run-pipeline",
				Usage:     "convert a quotation and carry it through the pipeline",
				ArgsUsage: "<quotation-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "issue-terminal", Usage: "advance the order and issue the invoice or receipt"},
					&cli.StringFlag{Name: "notes"},
					&cli.StringFlag{Name: "delivery", Usage: "requested delivery date (YYYY-MM-DD)"},
				},
				Action: r.runPipeline,
			},
			{
				Name:   "stats",
				Usage:  "pipeline counts, conversion rates and cycle times",
				Flags:  windowFlags,
				Action: r.stats,
			},
			{
				Name:   "funnel",
				Usage:  "pipeline funnel with drop-off per stage",
				Flags:  windowFlags,
				Action: r.funnel,
			},
			{
				Name:   "bottlenecks",
				Usage:  "threshold violations of both pipelines",
				Action: r.bottlenecks,
			},
		},
	}
}

// ── Documents ────────────────────────────────────────────────────────────────

func (r *runner) createQuotation(c *cli.Context) error {
	lines := make([]core.LineItem, 0, len(c.StringSlice("line")))
	for _, raw := range c.StringSlice("line") {
		line, err := parseLine(raw)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	result, err := r.svc.CreateQuotation(actorContext(c), app.CreateQuotationRequest{
		CompanyCode:           c.String("company"),
		Side:                  c.String("side"),
		CounterpartyID:        c.Int("counterparty"),
		Currency:              c.String("currency"),
		Notes:                 c.String("notes"),
		RequestedDeliveryDate: c.String("delivery"),
		Lines:                 lines,
	})
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printDocument(r.out, result) })
}

func (r *runner) list(c *cli.Context) error {
	result, err := r.svc.ListDocuments(actorContext(c), app.ListDocumentsRequest{
		CompanyCode: c.String("company"),
		Side:        c.String("side"),
		Stage:       c.String("stage"),
		Status:      c.String("status"),
		Limit:       c.Int("limit"),
	})
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printDocuments(r.out, result) })
}

func (r *runner) show(c *cli.Context) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	result, err := r.svc.GetDocument(actorContext(c), c.String("company"), id)
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printDocument(r.out, result) })
}

func (r *runner) transition(c *cli.Context) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return fmt.Errorf("usage: transition <document-id> <status>")
	}
	result, err := r.svc.TransitionDocument(actorContext(c), c.String("company"), id, c.Args().Get(1))
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printDocument(r.out, result) })
}

// ── Conversions ──────────────────────────────────────────────────────────────

func (r *runner) convertQuotation(c *cli.Context) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	result, err := r.svc.ConvertQuotationToOrder(actorContext(c), app.ConvertRequest{
		CompanyCode:           c.String("company"),
		DocumentID:            id,
		Notes:                 c.String("notes"),
		RequestedDeliveryDate: c.String("delivery"),
	})
	if err != nil {
		return err
	}
	return r.render(c, result, func() {
		fmt.Fprintf(r.out, "Quotation %s converted. Order: %s (%s)\n",
			result.Quotation.DocumentNumber, result.Order.DocumentNumber, result.Order.Status)
	})
}

func (r *runner) invoiceOrder(c *cli.Context) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	result, err := r.svc.ConvertOrderToInvoice(actorContext(c), app.ConvertRequest{
		CompanyCode: c.String("company"),
		DocumentID:  id,
		Notes:       c.String("notes"),
	})
	if err != nil {
		return err
	}
	return r.render(c, result, func() {
		fmt.Fprintf(r.out, "Order %s invoiced. Invoice: %s, total %s %s\n",
			result.Order.DocumentNumber, result.Invoice.DocumentNumber,
			result.Invoice.Total.StringFixed(2), result.Invoice.Currency)
	})
}

func (r *runner) receiveOrder(c *cli.Context) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	received, err := parseReceived(c.StringSlice("received"))
	if err != nil {
		return err
	}
	result, err := r.svc.ConvertOrderToReceipt(actorContext(c), app.ReceiptRequest{
		CompanyCode:        c.String("company"),
		DocumentID:         id,
		Notes:              c.String("notes"),
		ReceivedQuantities: received,
	})
	if err != nil {
		return err
	}
	return r.render(c, result, func() {
		fmt.Fprintf(r.out, "Order %s received. Goods receipt: %s\n",
			result.Order.DocumentNumber, result.Receipt.DocumentNumber)
		if !result.InventorySynced {
			fmt.Fprintf(r.out, "WARNING: inventory was not updated: %s\n", result.SyncError)
		}
	})
}

func (r *runner) runPipeline(c *cli.Context) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	run, err := r.svc.RunFullPipeline(actorContext(c), app.PipelineRequest{
		CompanyCode:           c.String("company"),
		QuotationID:           id,
		AutoIssueTerminal:     c.Bool("issue-terminal"),
		Notes:                 c.String("notes"),
		RequestedDeliveryDate: c.String("delivery"),
	})
	if err != nil {
		return err
	}
	return r.render(c, run, func() { printRun(r.out, run) })
}

// ── Analytics ────────────────────────────────────────────────────────────────

func analyticsRequest(c *cli.Context) app.AnalyticsRequest {
	return app.AnalyticsRequest{
		CompanyCode: c.String("company"),
		Side:        c.String("side"),
		From:        c.String("from"),
		To:          c.String("to"),
	}
}

func (r *runner) stats(c *cli.Context) error {
	result, err := r.svc.GetPipelineStats(actorContext(c), analyticsRequest(c))
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printStats(r.out, result) })
}

func (r *runner) funnel(c *cli.Context) error {
	result, err := r.svc.GetFunnel(actorContext(c), analyticsRequest(c))
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printFunnel(r.out, result) })
}

func (r *runner) bottlenecks(c *cli.Context) error {
	result, err := r.svc.GetBottlenecks(actorContext(c), c.String("company"))
	if err != nil {
		return err
	}
	return r.render(c, result, func() { printBottlenecks(r.out, result) })
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (r *runner) render(c *cli.Context, v any, table func()) error {
	if !c.Bool("json") {
		table()
		return nil
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func actorContext(c *cli.Context) context.Context {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if c.IsSet("actor") {
		ctx = core.WithActor(ctx, c.Int("actor"))
	}
	return ctx
}

func idArg(c *cli.Context) (int, error) {
	if c.NArg() < 1 {
		return 0, fmt.Errorf("usage: %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	id, err := strconv.Atoi(c.Args().First())
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", c.Args().First())
	}
	return id, nil
}

// parseLine reads product:quantity:unit_price[:discount].
func parseLine(raw string) (core.LineItem, error) {
	var line core.LineItem
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return line, fmt.Errorf("line %q: want product:quantity:unit_price[:discount]", raw)
	}
	product, err := strconv.Atoi(parts[0])
	if err != nil {
		return line, fmt.Errorf("line %q: invalid product id", raw)
	}
	qty, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return line, fmt.Errorf("line %q: invalid quantity", raw)
	}
	price, err := decimal.NewFromString(parts[2])
	if err != nil {
		return line, fmt.Errorf("line %q: invalid unit price", raw)
	}
	line.ProductID, line.Quantity, line.UnitPrice = product, qty, price
	if len(parts) == 4 {
		if line.LineDiscount, err = decimal.NewFromString(parts[3]); err != nil {
			return line, fmt.Errorf("line %q: invalid discount", raw)
		}
	}
	return line, nil
}

// parseReceived reads line=quantity pairs.
func parseReceived(raws []string) (map[int]int64, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	out := make(map[int]int64, len(raws))
	for _, raw := range raws {
		lineStr, qtyStr, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("received %q: want line=quantity", raw)
		}
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			return nil, fmt.Errorf("received %q: invalid line number", raw)
		}
		qty, err := strconv.ParseInt(qtyStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("received %q: invalid quantity", raw)
		}
		out[line] = qty
	}
	return out, nil
}
