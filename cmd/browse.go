package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/veylan/mimic/internal/browser"
	"github.com/veylan/mimic/internal/interact"
	"github.com/veylan/mimic/internal/observability"
)

// newBrowseCmd creates the `browse` command: open a page, optionally scroll
// it like a reader would, and leave behind the interaction artifacts.
func newBrowseCmd() *cobra.Command {
	browseCmd := &cobra.Command{
		Use:   "browse <url>",
		Short: "Opens a URL in a humanized session and optionally scrolls through it",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			url := args[0]

			// Flags were bound in PreRunE, after the bootstrap config
			// snapshot. Resolve again so overrides like --headless land.
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}

			session := browser.NewSession(cfg.Browser, cfg.Identity, logger)
			if err := session.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize session: %w", err)
			}
			defer session.Dispose()

			if err := session.Navigate(ctx, url); err != nil {
				return fmt.Errorf("navigate: %w", err)
			}
			logger.Info("Page loaded.", zap.String("url", url))

			if viper.GetBool("scroll") {
				engine := interact.NewEngine(session, cfg.Interact, cfg.Browser)
				if err := engine.ScrollToBottom(ctx); err != nil {
					return fmt.Errorf("scroll: %w", err)
				}
				logger.Info("Scrolled to bottom.")
			}
			return nil
		},
	}

	browseCmd.Flags().Bool("headless", true, "run the browser headless")
	browseCmd.Flags().Bool("scroll", false, "scroll to the bottom of the page after load")
	return browseCmd
}

func init() {
	rootCmd.AddCommand(newBrowseCmd())
}
