package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	qrcode "github.com/skip2/go-qrcode"

	"unified_portfolio/internal/app"
	"unified_portfolio/internal/config"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/portfolio"
	"unified_portfolio/internal/secrets"
)

// commands returns every subcommand, writing their output to out.
func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&secretCmd{out: out},
		&fetchCmd{out: out},
		&summaryCmd{out: out},
		&historyCmd{out: out},
		&authURLCmd{out: out},
		&authExchangeCmd{out: out},
	}
}

// openApp loads the configuration and builds the application. Logs go to
// stderr so command output stays parseable.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(*envFile, *configPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	log.SetOutput(os.Stderr)
	logger.SetLogger(log)
	return app.New(ctx, cfg, log)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type secretCmd struct {
	out io.Writer
}

func (*secretCmd) Name() string     { return "secret" }
func (*secretCmd) Synopsis() string { return "store or list encrypted secrets" }
func (*secretCmd) Usage() string {
	return `portfolio secret set <NAME> <VALUE>
portfolio secret list

  Stores a secret encrypted in the database, or lists the stored names.
  Known names: ` + strings.Join(secrets.Names, ", ") + `
`
}

func (*secretCmd) SetFlags(*flag.FlagSet) {}

func (c *secretCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}

	switch {
	case args[0] == "set" && len(args) == 3:
		name := strings.ToUpper(args[1])
		if !secrets.IsKnown(name) {
			return fail(fmt.Errorf("unknown secret %q", args[1]))
		}
		a, err := openApp(ctx)
		if err != nil {
			return fail(err)
		}
		defer a.Close()
		if err := a.DBSecrets.Set(ctx, name, args[2]); err != nil {
			return fail(err)
		}
		fmt.Fprintf(c.out, "%s stored\n", name)
		return subcommands.ExitSuccess

	case args[0] == "list" && len(args) == 1:
		a, err := openApp(ctx)
		if err != nil {
			return fail(err)
		}
		defer a.Close()
		names, err := a.DBSecrets.Names()
		if err != nil {
			return fail(err)
		}
		for _, name := range names {
			fmt.Fprintln(c.out, name)
		}
		return subcommands.ExitSuccess
	}

	fmt.Fprint(os.Stderr, c.Usage())
	return subcommands.ExitUsageError
}

type fetchCmd struct {
	out      io.Writer
	provider string
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "run fetch cycles and print the aggregate" }
func (*fetchCmd) Usage() string {
	return `portfolio fetch [-provider <name>]

  Runs a fetch cycle for every provider, or only the given one, and prints
  the resulting portfolio as JSON. Failed providers are reported on stderr.
`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.provider, "provider", "", "only fetch this provider (coinbase, schwab)")
}

func (c *fetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	status := subcommands.ExitSuccess
	if c.provider != "" {
		if _, err := a.SyncService.RefreshProvider(ctx, strings.ToLower(c.provider), models.TriggerManual); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", c.provider, err)
			status = subcommands.ExitFailure
		}
	} else {
		for _, res := range a.SyncService.RefreshAll(ctx, models.TriggerManual) {
			if res.Error != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", res.Provider, res.Error)
				status = subcommands.ExitFailure
			}
		}
	}

	agg := a.Projector.Latest()
	if agg == nil {
		agg = portfolio.Empty(a.Config.BaseCurrency)
	}
	if err := printJSON(c.out, agg); err != nil {
		return fail(err)
	}
	return status
}

type summaryCmd struct {
	out     io.Writer
	refresh bool
	asJSON  bool
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "print the portfolio summary" }
func (*summaryCmd) Usage() string {
	return `portfolio summary [-refresh] [-json]

  Prints the totals and one row per position. Uses the last stored
  snapshot unless -refresh is given.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.refresh, "refresh", false, "fetch from the providers first")
	f.BoolVar(&c.asJSON, "json", false, "print JSON instead of a table")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if c.refresh {
		for _, res := range a.SyncService.RefreshAll(ctx, models.TriggerManual) {
			if res.Error != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", res.Provider, res.Error)
			}
		}
	} else if _, err := a.SyncService.WarmStart(); err != nil {
		return fail(err)
	}

	agg := a.Projector.Latest()
	if agg == nil {
		agg = portfolio.Empty(a.Config.BaseCurrency)
	}

	initial, err := readInitial(ctx, a.Secrets)
	if err != nil {
		return fail(err)
	}
	summary := portfolio.BuildSummary(agg, initial)

	if c.asJSON {
		if err := printJSON(c.out, summary); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}
	writeSummary(c.out, summary)
	return subcommands.ExitSuccess
}

func readInitial(ctx context.Context, store secrets.Store) (float64, error) {
	raw, err := store.Get(ctx, secrets.TotalInitial)
	if errors.Is(err, secrets.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number", secrets.TotalInitial)
	}
	return v, nil
}

func writeSummary(out io.Writer, s portfolio.Summary) {
	d := s.PortfolioData
	fmt.Fprintf(out, "Initial investment: %s\n", portfolio.FormatMoney(d.InitialInvestment, s.Currency))
	fmt.Fprintf(out, "Total cost basis:   %s\n", portfolio.FormatMoney(d.TotalCostBasis, s.Currency))
	fmt.Fprintf(out, "Total balance:      %s\n", portfolio.FormatMoney(d.TotalBalance, s.Currency))
	fmt.Fprintf(out, "Unrealized return:  %s\n\n",
		portfolio.FormatReturn(d.TotalUnrealizedReturn, d.TotalCostBasis, s.Currency))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tCRYPTO\tSHARES\tVALUE\tCOST BASIS\tRETURN")
	for _, row := range s.Assets {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

type historyCmd struct {
	out      io.Writer
	provider string
	limit    int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list recent fetch cycles" }
func (*historyCmd) Usage() string {
	return `portfolio history [-provider <name>] [-n <limit>]
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.provider, "provider", "", "only show this provider")
	f.IntVar(&c.limit, "n", 20, "number of cycles to show")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	var rows []*models.SyncHistory
	if c.provider != "" {
		rows, err = a.SyncHistory.GetByProvider(strings.ToLower(c.provider), c.limit)
	} else {
		rows, err = a.SyncHistory.GetRecent(c.limit)
	}
	if err != nil {
		return fail(err)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tPROVIDER\tTRIGGER\tSTATUS\tPOSITIONS\tERROR")
	for _, h := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			h.StartedAt.Format("2006-01-02 15:04:05"), h.Provider, h.Trigger, h.Status, h.PositionsSynced, h.ErrorMessage)
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

type authURLCmd struct {
	out    io.Writer
	qrFile string
}

func (*authURLCmd) Name() string     { return "auth-url" }
func (*authURLCmd) Synopsis() string { return "print the Schwab authorization URL" }
func (*authURLCmd) Usage() string {
	return `portfolio auth-url [-qr <file.png>]

  Prints the URL to open in a browser. After approving, pass the URL the
  browser was redirected to to auth-exchange.
`
}

func (c *authURLCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.qrFile, "qr", "", "also write the URL as a QR code PNG to this file")
}

func (c *authURLCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if err := a.SchwabProvider.Configure(ctx); err != nil {
		return fail(err)
	}
	authURL, err := a.SchwabManager.AuthorizationURL()
	if err != nil {
		return fail(err)
	}

	if c.qrFile != "" {
		if err := qrcode.WriteFile(authURL, qrcode.Medium, 256, c.qrFile); err != nil {
			return fail(err)
		}
	}
	fmt.Fprintln(c.out, authURL)
	return subcommands.ExitSuccess
}

type authExchangeCmd struct {
	out io.Writer
}

func (*authExchangeCmd) Name() string     { return "auth-exchange" }
func (*authExchangeCmd) Synopsis() string { return "exchange a redirected URL for a Schwab session" }
func (*authExchangeCmd) Usage() string {
	return `portfolio auth-exchange <redirected-url>

  Extracts the authorization code, exchanges it and stores the refresh
  token for the server.
`
}

func (*authExchangeCmd) SetFlags(*flag.FlagSet) {}

func (c *authExchangeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}

	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if err := a.SchwabProvider.Configure(ctx); err != nil {
		return fail(err)
	}
	if _, err := a.SchwabManager.ExchangeCode(ctx, f.Arg(0)); err != nil {
		return fail(err)
	}
	fmt.Fprintf(c.out, "schwab %s\n", a.SchwabManager.State())
	return subcommands.ExitSuccess
}
