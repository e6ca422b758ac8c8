package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

var envCheckCmd = &cobra.Command{
	Use:   "env-check",
	Short: "List recognized environment variables",
	Long: `List every environment variable the proxy reads, with secrets masked.
Fails when no authorization key is available from the environment or the
configuration file.`,
	RunE: runEnvCheck,
}

var errMissingAuthKey = errors.New("no authorization key: set GIGACHAT_AUTH_KEY or gigachat.auth_key")

func runEnvCheck(cmd *cobra.Command, _ []string) error {
	color.Blue("Environment:")
	missing := printEnv(cmd.OutOrStdout(), config.EnvVars, os.LookupEnv)

	cfg, err := cfgMgr.Load()
	if err != nil {
		color.Red("Configuration error: %v", err)
		return err
	}

	if !cfg.GigaChat.HasAuthKey() {
		color.Red("Missing required: %v", missing)
		return errMissingAuthKey
	}

	color.Green("Authorization key available")
	return nil
}

// printEnv writes one line per variable and returns the required ones that
// are unset.
func printEnv(w io.Writer, vars []config.EnvVar, lookup func(string) (string, bool)) []string {
	var missing []string
	for _, v := range vars {
		value, ok := lookup(v.Name)

		var shown string
		switch {
		case !ok || value == "":
			shown = color.YellowString("(not set)")
			if v.Required {
				missing = append(missing, v.Name)
			}
		case v.Secret:
			shown = token.Mask(value)
		default:
			shown = value
		}

		fmt.Fprintf(w, "  %-32s %s\n", v.Name, shown)
	}
	return missing
}
