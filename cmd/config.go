package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the GigaChat proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Write a configuration file with defaults, prompting for credentials.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration (file plus environment) with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the effective configuration and list every problem found.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing configuration file")
	configShowCmd.Flags().StringP("format", "f", "yaml", "output format: yaml or json")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if force, _ := cmd.Flags().GetBool("force"); cfgMgr.Exists() && !force {
		color.Yellow("Configuration already exists at %s (use --force to overwrite)", cfgMgr.GetPath())
		return nil
	}

	color.Blue("GigaChat Proxy Configuration Setup")
	color.Yellow("Press enter to keep a default. Secrets left empty can be supplied through the environment.")

	cfg := promptConfig(bufio.NewReader(os.Stdin), cmd.OutOrStdout(), config.Default())

	// Save configuration
	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the proxy with: %s start", AppName)

	return nil
}

func promptConfig(reader *bufio.Reader, w io.Writer, cfg *config.Config) *config.Config {
	ask := func(label, def string) string {
		if def != "" {
			fmt.Fprintf(w, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(w, "%s: ", label)
		}
		line, _ := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
		return def
	}

	cfg.GigaChat.AuthKey = ask("Authorization key", "")
	cfg.GigaChat.Scope = ask("Scope", cfg.GigaChat.Scope)
	cfg.GigaChat.APIBase = ask("API base URL", cfg.GigaChat.APIBase)
	cfg.APIKey = ask("Proxy API key (optional, for authentication)", "")

	return cfg
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfgMgr.Exists() {
		color.Blue("Current Configuration (%s):", cfgMgr.GetPath())
	} else {
		color.Blue("Current Configuration (defaults and environment, no file):")
	}

	return writeConfig(cmd.OutOrStdout(), cfg.Redacted(), format)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if _, err := cfgMgr.Load(); err != nil {
		color.Red("Configuration validation failed:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", line)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}
