// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the built application. Tests swap in
// a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Scraper() Scraper
}

// Scraper runs one workflow synchronously.
type Scraper interface {
	Channels(ctx context.Context, req scrape.JobRequest) (scrape.ChannelResult, error)
	Niches(ctx context.Context, req scrape.JobRequest) (scrape.NicheResult, error)
}

type builtApp struct {
	*server.App
}

func (a builtApp) Scraper() Scraper { return a.Orchestrator() }

// newApp loads configuration and builds the application graph.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return builtApp{app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Scrapes listing pages behind a logged-in browser session.",
		Long: `harvester drives a real browser through a site login, scrapes channel
listings and niche galleries, and serves the results over an HTTP job API.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newScrapeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}
