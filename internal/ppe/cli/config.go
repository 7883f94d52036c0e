package cli

import (
	"fmt"
	"net/url"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/ppe/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `View and manage ppe CLI configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Available keys:
  base_url       Server base URL
  session_id     Default job key for single uploads
  http_timeout   HTTP client timeout (e.g. 5m)
  watch_timeout  How long --watch waits (e.g. 30m)
  poll_interval  How often --watch polls (e.g. 2s)

Examples:
  ppe config set base_url https://ppe.example.com
  ppe config set poll_interval 5s`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url <url>",
	Short: "Set the server base URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigSet(cmd, []string{"base_url", args[0]})
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetURLCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		return printer.JSON(map[string]any{
			"base_url":      cfg.BaseURL,
			"session_id":    cfg.SessionID,
			"http_timeout":  cfg.GetTimeout("http").String(),
			"watch_timeout": cfg.GetTimeout("watch").String(),
			"poll_interval": cfg.GetTimeout("poll_interval").String(),
		})
	}

	printer.Section("Configuration")
	printer.Field("Base URL", cfg.BaseURL)
	printer.Field("Session", cfg.SessionID)
	printer.Field("HTTP timeout", cfg.GetTimeout("http").String())
	printer.Field("Watch timeout", cfg.GetTimeout("watch").String())
	printer.Field("Poll interval", cfg.GetTimeout("poll_interval").String())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	switch key {
	case "base_url":
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid base_url %q: want http(s)://host[:port]", value)
		}
		cfg.BaseURL = value
	case "session_id":
		cfg.SessionID = value
	case "http_timeout", "watch_timeout", "poll_interval":
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s %q: want a positive duration like 30s or 5m", key, value)
		}
		switch key {
		case "http_timeout":
			cfg.Timeouts.HTTP = value
		case "watch_timeout":
			cfg.Timeouts.Watch = value
		default:
			cfg.Timeouts.PollInterval = value
		}
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	printer.Success("Set %s = %s", key, value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := config.Path()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printer.JSON(map[string]string{"path": path})
	}

	printer.Line("%s", path)
	return nil
}
