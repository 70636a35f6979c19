package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/finkargo/tip-analytics/internal/core"
	"github.com/finkargo/tip-analytics/pkg/client"
)

type cli struct {
	URL           string `default:"http://localhost:8080" env:"TIP_API_URL" help:"Base URL of the TIP analytics API."`
	Token         string `env:"TIP_API_TOKEN" help:"Bearer token; the tenant is taken from its claims."`
	Organization  string `name:"org" env:"TIP_ORGANIZATION_ID" help:"Tenant id for servers running without auth."`
	OperatorToken string `env:"TIP_OPERATOR_TOKEN" help:"Operator token for provider removal on servers running without auth."`

	Upload    uploadCmd    `cmd:"" help:"Upload a CSV dataset for the tenant."`
	Validate  validateCmd  `cmd:"" help:"Check a CSV dataset without storing it."`
	Query     queryCmd     `cmd:"" help:"Fetch one analytics slice through the fallback chain."`
	All       allCmd       `cmd:"" help:"Fetch inventory, sales, suppliers and cross-reference together."`
	Uploads   uploadsCmd   `cmd:"" help:"List the tenant's recent uploads."`
	Health    healthCmd    `cmd:"" help:"Show provider health."`
	Providers providersCmd `cmd:"" help:"Inspect or remove registered providers."`
}

type uploadCmd struct {
	File string `arg:"" type:"existingfile" help:"CSV file to upload."`
}

func (cmd *uploadCmd) Run(ctx context.Context, c *client.Client) error {
	f, err := os.Open(cmd.File)
	if err != nil {
		return fmt.Errorf("tipctl: open %s: %w", cmd.File, err)
	}
	defer f.Close()

	res, err := c.Upload(ctx, filepath.Base(cmd.File), f)
	if printErr := printJSON(res); printErr != nil {
		return printErr
	}
	return err
}

type validateCmd struct {
	File string `arg:"" type:"existingfile" help:"CSV file to validate."`
}

func (cmd *validateCmd) Run(ctx context.Context, c *client.Client) error {
	f, err := os.Open(cmd.File)
	if err != nil {
		return fmt.Errorf("tipctl: open %s: %w", cmd.File, err)
	}
	defer f.Close()

	res, err := c.Validate(ctx, filepath.Base(cmd.File), f)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Valid {
		return errors.New("tipctl: dataset is not valid")
	}
	return nil
}

type queryCmd struct {
	Type string `arg:"" enum:"inventory,sales,supplier-performance,cross-reference,triangle,market-intelligence" help:"Analytics slice (${enum})."`
}

func (cmd *queryCmd) Run(ctx context.Context, c *client.Client) error {
	res, err := c.Raw(ctx, core.DataType(cmd.Type))
	if err != nil {
		return err
	}
	if res.FallbackUsed {
		fmt.Fprintf(os.Stderr, "note: %s served synthetic data\n", res.Provider)
	}
	return printJSON(res)
}

type allCmd struct{}

func (cmd *allCmd) Run(ctx context.Context, c *client.Client) error {
	res, err := c.All(ctx)
	if err != nil && !res.AnyError {
		return err
	}
	return printJSON(res)
}

type uploadsCmd struct {
	Limit int `default:"20" help:"Number of uploads to list."`
}

func (cmd *uploadsCmd) Run(ctx context.Context, c *client.Client) error {
	records, err := c.Uploads(ctx, cmd.Limit)
	if err != nil {
		return err
	}
	return printJSON(records)
}

type healthCmd struct {
	Watch time.Duration `help:"Keep polling at this interval until interrupted."`
}

func (cmd *healthCmd) Run(ctx context.Context, c *client.Client) error {
	if cmd.Watch <= 0 {
		status, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(status)
	}

	poller := c.NewHealthPoller(cmd.Watch, func(status core.HealthStatus, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "health: %v\n", err)
			return
		}
		_ = printJSON(status)
	})
	poller.Run(ctx)
	return nil
}

type providersCmd struct {
	List   providersListCmd   `cmd:"" default:"1" help:"List providers in priority order."`
	Remove providersRemoveCmd `cmd:"" help:"Remove a provider from the chain."`
}

type providersListCmd struct{}

func (cmd *providersListCmd) Run(ctx context.Context, c *client.Client) error {
	list, err := c.Providers(ctx)
	if err != nil {
		return err
	}
	return printJSON(list)
}

type providersRemoveCmd struct {
	Name string `arg:"" help:"Provider name."`
}

func (cmd *providersRemoveCmd) Run(ctx context.Context, c *client.Client) error {
	if err := c.RemoveProvider(ctx, cmd.Name); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "removed %s\n", cmd.Name)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var args cli
	kctx := kong.Parse(&args,
		kong.Name("tipctl"),
		kong.Description("Command line client for the TIP analytics API."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	c := client.New(args.URL,
		client.WithToken(args.Token),
		client.WithOrganization(args.Organization),
		client.WithOperatorToken(args.OperatorToken),
	)
	kctx.FatalIfErrorf(kctx.Run(c))
}
