package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erplite/backend/internal/client"
	"erplite/backend/internal/domain"
)

const usage = `Usage: erpctl [flags] <command> [command flags]

Commands:
  products                         list active products
  stock <sku>                      show on-hand quantity
  movements <sku>                  show recent stock movements
  sale -sku S -qty N -customer C   record a sale
  purchase -sku S -qty N -supplier V -price P
                                   record a purchase
  cancel-sale <id> -pin PIN        cancel a sale
  pay -related ID -type sale|purchase -amount A -method M
                                   record a payment
  report <type>                    print a report (stock-levels, cost-price,
                                   profitability, customer-balances)
  export -o FILE                   download the stock levels workbook

Flags:
`

type options struct {
	baseURL  string
	token    string
	email    string
	password string
	timeout  time.Duration
	debug    bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	_ = godotenv.Load()

	opts := options{
		baseURL:  envOr("ERPLITE_URL", "http://127.0.0.1:8080"),
		token:    os.Getenv("ERPLITE_TOKEN"),
		email:    os.Getenv("ERPLITE_EMAIL"),
		password: os.Getenv("ERPLITE_PASSWORD"),
	}

	fs := flag.NewFlagSet("erpctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.baseURL, "url", opts.baseURL, "API base URL (ERPLITE_URL)")
	fs.StringVar(&opts.token, "token", opts.token, "Bearer token (ERPLITE_TOKEN)")
	fs.StringVar(&opts.email, "email", opts.email, "Login email when no token is set (ERPLITE_EMAIL)")
	fs.StringVar(&opts.password, "password", opts.password, "Login password (ERPLITE_PASSWORD)")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Second, "Request timeout")
	fs.BoolVar(&opts.debug, "debug", false, "Log API calls")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("command is required")
	}

	logger := zap.NewNop()
	if opts.debug {
		devLogger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = devLogger
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(client.Config{BaseURL: opts.baseURL, Token: opts.token, Timeout: opts.timeout}, logger)
	if opts.token == "" {
		if opts.email == "" || opts.password == "" {
			return errors.New("set -token or both -email and -password")
		}
		if _, err := c.Login(ctx, opts.email, opts.password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "products":
		products, err := c.ListProducts(ctx, false)
		if err != nil {
			return err
		}
		return printJSON(out, products)
	case "stock":
		return runStock(ctx, c, cmdArgs, out)
	case "movements":
		return runMovements(ctx, c, cmdArgs, out)
	case "sale":
		return runSale(ctx, c, cmdArgs, out)
	case "purchase":
		return runPurchase(ctx, c, cmdArgs, out)
	case "cancel-sale":
		return runCancelSale(ctx, c, cmdArgs, out)
	case "pay":
		return runPay(ctx, c, cmdArgs, out)
	case "report":
		return runReport(ctx, c, cmdArgs, out)
	case "export":
		return runExport(ctx, c, cmdArgs, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runStock(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: stock <sku>")
	}
	product, err := c.ProductBySKU(ctx, args[0])
	if err != nil {
		return err
	}
	entry, err := c.Stock(ctx, product.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t%s\t%d\n", product.SKU, product.Name, entry.Quantity)
	return nil
}

func runMovements(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("movements", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "Number of movements")
	sku, err := parseWithPositional(fs, args)
	if err != nil {
		return err
	}
	if sku == "" {
		return errors.New("usage: movements <sku> [-limit N]")
	}
	product, err := c.ProductBySKU(ctx, sku)
	if err != nil {
		return err
	}
	movements, err := c.StockMovements(ctx, product.ID, *limit)
	if err != nil {
		return err
	}
	for _, m := range movements {
		fmt.Fprintf(out, "%s\t%+d\t%d\t%s\t%s\n", m.CreatedAt.Format(time.RFC3339), m.Delta, m.QtyAfter, m.Reason, m.ReferenceID)
	}
	return nil
}

func runSale(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sale", flag.ContinueOnError)
	sku := fs.String("sku", "", "Product SKU")
	qty := fs.Int("qty", 0, "Quantity")
	customer := fs.String("customer", "", "Customer ID")
	discount := fs.String("discount", "0", "Discount percent")
	price := fs.String("price", "", "Unit price (defaults to the selling price)")
	key := fs.String("key", "", "Idempotency key")
	notes := fs.String("notes", "", "Notes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	product, err := c.ProductBySKU(ctx, *sku)
	if err != nil {
		return err
	}
	disc, err := decimal.NewFromString(*discount)
	if err != nil {
		return fmt.Errorf("invalid -discount: %w", err)
	}
	req := domain.SaleRequest{
		CustomerID:     *customer,
		ProductID:      product.ID,
		Quantity:       *qty,
		Discount:       disc,
		Notes:          *notes,
		IdempotencyKey: *key,
	}
	if *price != "" {
		unitPrice, err := decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("invalid -price: %w", err)
		}
		req.UnitPrice = &unitPrice
	}

	sale, replay, err := c.RecordSale(ctx, req)
	if err != nil {
		return err
	}
	if replay {
		fmt.Fprintln(os.Stderr, "idempotency key already used; showing the stored sale")
	}
	return printJSON(out, sale)
}

func runPurchase(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("purchase", flag.ContinueOnError)
	sku := fs.String("sku", "", "Product SKU")
	qty := fs.Int("qty", 0, "Quantity")
	supplier := fs.String("supplier", "", "Supplier ID")
	price := fs.String("price", "", "Unit cost")
	location := fs.String("location", "", "Receiving location")
	key := fs.String("key", "", "Idempotency key")
	notes := fs.String("notes", "", "Notes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	product, err := c.ProductBySKU(ctx, *sku)
	if err != nil {
		return err
	}
	unitPrice, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("invalid -price: %w", err)
	}
	purchase, replay, err := c.RecordPurchase(ctx, domain.PurchaseRequest{
		SupplierID:     *supplier,
		ProductID:      product.ID,
		Quantity:       *qty,
		UnitPrice:      unitPrice,
		Location:       *location,
		Notes:          *notes,
		IdempotencyKey: *key,
	})
	if err != nil {
		return err
	}
	if replay {
		fmt.Fprintln(os.Stderr, "idempotency key already used; showing the stored purchase")
	}
	return printJSON(out, purchase)
}

func runCancelSale(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cancel-sale", flag.ContinueOnError)
	pin := fs.String("pin", os.Getenv("ERPLITE_MANAGER_PIN"), "Manager PIN (ERPLITE_MANAGER_PIN)")
	reason := fs.String("reason", "", "Cancellation reason")
	id, err := parseWithPositional(fs, args)
	if err != nil {
		return err
	}
	if id == "" {
		return errors.New("usage: cancel-sale <id> -pin PIN [-reason R]")
	}
	sale, err := c.CancelSale(ctx, id, domain.CancelRequest{Reason: *reason, ManagerPIN: *pin})
	if err != nil {
		return err
	}
	return printJSON(out, sale)
}

func runPay(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pay", flag.ContinueOnError)
	related := fs.String("related", "", "Sale or purchase ID")
	kind := fs.String("type", domain.PaymentTypeSale, "sale or purchase")
	amount := fs.String("amount", "", "Amount")
	method := fs.String("method", "cash", "Payment method")
	status := fs.String("status", domain.PaymentCompleted, "Payment status")
	party := fs.String("party", "", "Payer or payee when not linked to a transaction")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount: %w", err)
	}
	payment, err := c.RecordPayment(ctx, domain.PaymentRequest{
		Amount:    value,
		Method:    *method,
		Type:      *kind,
		RelatedID: *related,
		Party:     *party,
		Status:    *status,
	})
	if err != nil {
		return err
	}
	return printJSON(out, payment)
}

func runReport(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	from := fs.String("from", "", "Start date (YYYY-MM-DD)")
	to := fs.String("to", "", "End date (YYYY-MM-DD)")
	location := fs.String("location", "", "Location filter")
	customer := fs.String("customer", "", "Customer filter")
	reportType, err := parseWithPositional(fs, args)
	if err != nil {
		return err
	}
	if reportType == "" {
		return errors.New("usage: report <type> [-from D] [-to D] [-location L] [-customer C]")
	}
	query := map[string]string{}
	for k, v := range map[string]string{"from": *from, "to": *to, "location": *location, "customer": *customer} {
		if strings.TrimSpace(v) != "" {
			query[k] = v
		}
	}
	raw, err := c.Report(ctx, reportType, query)
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func runExport(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	path := fs.String("o", "stock-levels.xlsx", "Output file")
	location := fs.String("location", "", "Location filter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	workbook, err := c.ExportStock(ctx, *location)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*path, workbook, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d bytes)\n", *path, len(workbook))
	return nil
}

// parseWithPositional accepts one positional argument before or after the
// flags.
func parseWithPositional(fs *flag.FlagSet, args []string) (string, error) {
	positional := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if positional == "" && fs.NArg() > 0 {
		positional = fs.Arg(0)
	}
	return strings.TrimSpace(positional), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
