package cli

import (
	"context"

	"github.com/abdul-hamid-achik/ppescan/internal/ppe/client"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/config"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/output"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/version"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	quietMode  bool
	baseURL    string
	cfg        *config.Config
	apiClient  client.ClientInterface
	printer    *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "ppe",
	Short: "ppescan CLI - submit site footage and fetch annotated results",
	Long: `ppe is the command-line client for the ppescan detection service.

Upload images or videos, follow their processing jobs, and fetch the
annotated results.

Get started:
  ppe config set base_url http://localhost:8080
  ppe upload site.mp4 --watch
  ppe download processed_site.mp4`,
	Version: version.Full(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}

		printer = output.New(
			output.WithJSON(jsonOutput),
			output.WithQuiet(quietMode),
			output.WithOutput(cmd.OutOrStdout()),
			output.WithErrOutput(cmd.ErrOrStderr()),
		)

		// Tests install a mock before executing.
		if apiClient == nil {
			apiClient = client.New(cfg.BaseURL, client.WithTimeout(cfg.GetTimeout("http")))
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the CLI; commands observe ctx for cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "Server base URL (overrides config and "+config.EnvBaseURL+")")

	rootCmd.SetVersionTemplate("ppe version {{.Version}}\n")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(configCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
