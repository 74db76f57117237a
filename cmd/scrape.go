package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

const closeTimeout = 30 * time.Second

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs a single workflow and prints the result as JSON",
	}
	cmd.AddCommand(newScrapeChannelsCmd(), newScrapeNichesCmd())
	return cmd
}

func newScrapeChannelsCmd() *cobra.Command {
	var (
		url  string
		wait int
	)
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Logs in with the configured credentials and scrapes the channel listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, func(ctx context.Context, s Scraper) (any, error) {
				return s.Channels(ctx, scrape.JobRequest{Kind: scrape.JobKindChannels, URL: url, WaitSeconds: wait})
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "listing URL (defaults to site.channels_url)")
	cmd.Flags().IntVar(&wait, "wait", 0, "seconds to wait for channel cards")
	return cmd
}

func newScrapeNichesCmd() *cobra.Command {
	var (
		url  string
		wait int
	)
	cmd := &cobra.Command{
		Use:   "niches",
		Short: "Scrapes a public niche gallery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, func(ctx context.Context, s Scraper) (any, error) {
				return s.Niches(ctx, scrape.JobRequest{Kind: scrape.JobKindNiches, URL: url, WaitSeconds: wait})
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Notion page URL")
	cmd.Flags().IntVar(&wait, "wait", 0, "seconds to let the gallery render")
	if err := cmd.MarkFlagRequired("url"); err != nil {
		zap.L().Warn("mark flag required failed", zap.Error(err))
	}
	return cmd
}

func runScrape(cmd *cobra.Command, run func(ctx context.Context, s Scraper) (any, error)) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		if cerr := appInstance.Close(ctx); cerr != nil {
			zap.L().Warn("close application failed", zap.Error(cerr))
		}
	}()

	result, err := run(cmd.Context(), appInstance.Scraper())
	if err != nil {
		return fmt.Errorf("scrape %s: %w", cmd.Name(), err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
