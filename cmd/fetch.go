package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/bridge"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/config"
	"github.com/xkilldash9x/telco-harvester/internal/harvest"
	"github.com/xkilldash9x/telco-harvester/internal/observability"
	"github.com/xkilldash9x/telco-harvester/internal/store"
)

// page is a driver that owns browser resources.
type page interface {
	browser.Driver
	Close() error
}

// newPage is swapped in tests.
var newPage = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (page, error) {
	c, err := browser.NewChrome(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Logs into the portal and saves every available bill",
		Long: `Opens the customer portal, reuses or establishes a session (showing the
browser when a login is needed), then collects the identity of the account
holder and the bills of every line into the configured vault.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runFetch(ctx, cmd, cfg, observability.GetLogger())
		},
	}
	fetchCmd.Flags().String("transport", "", "document transport: url or datauri")
	fetchCmd.Flags().Bool("headless", false, "run the browser without a window (interactive login impossible)")
	fetchCmd.Flags().String("login", "", "portal login to prefill")
	fetchCmd.Flags().String("db-driver", "", "vault backend: memory or postgres")
	return fetchCmd
}

func runFetch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	vault, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	defer vault.Close()

	p, err := newPage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.Warn("Error closing browser", zap.Error(cerr))
		}
	}()

	b := bridge.New(logger, 16)
	defer b.Shutdown()

	h, err := harvest.New(cfg, p, b, vault, logger)
	if err != nil {
		return err
	}
	run, err := h.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn("Harvest aborted by user signal")
		return err
	}

	out := cmd.OutOrStdout()
	if run != nil && run.Account != "" {
		fmt.Fprintf(out, "run %s: %s, %d contract(s), %d bill(s), %d new\n",
			run.ID, observability.MaskAccount(run.Account), len(run.Contracts), len(run.Bills), run.Saved)
	}
	if err != nil {
		return fmt.Errorf("harvest failed (%s): %w", schemas.Reason(err), err)
	}
	return nil
}
