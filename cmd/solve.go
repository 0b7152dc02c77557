package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veylan/mimic/internal/browser"
	"github.com/veylan/mimic/internal/captcha"
	"github.com/veylan/mimic/internal/observability"
)

// newSolveCmd creates the `solve` command: open a page, hand its captcha to
// the remote solving service and print the resulting token.
func newSolveCmd() *cobra.Command {
	solveCmd := &cobra.Command{
		Use:   "solve <url>",
		Short: "Solves the captcha on a page and prints the token",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			url := args[0]
			selector := viper.GetString("selector")

			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if cfg.Captcha.APIKey == "" {
				return fmt.Errorf("captcha.api_key is required (set MIMIC_CAPTCHA_API_KEY)")
			}

			session := browser.NewSession(cfg.Browser, cfg.Identity, logger)
			if err := session.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize session: %w", err)
			}
			defer session.Dispose()

			if err := session.Navigate(ctx, url); err != nil {
				return fmt.Errorf("navigate: %w", err)
			}

			bridge := captcha.NewBridge(session, captcha.NewClient(cfg.Captcha, logger))

			var token string
			if viper.GetBool("recaptcha") {
				token, err = bridge.SolveRecaptcha(ctx, selector)
			} else {
				token, err = bridge.SolveImageCaptcha(ctx, selector)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	solveCmd.Flags().String("selector", "img.captcha", "selector of the captcha image or reCAPTCHA iframe")
	solveCmd.Flags().Bool("recaptcha", false, "treat the selector as a reCAPTCHA iframe and solve by site key")
	return solveCmd
}

func init() {
	rootCmd.AddCommand(newSolveCmd())
}
