package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
	"github.com/mihaisavezi/gigachat-proxy/internal/handlers"
	"github.com/mihaisavezi/gigachat-proxy/internal/process"
	"github.com/mihaisavezi/gigachat-proxy/internal/server"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

var tokenInfoCmd = &cobra.Command{
	Use:   "token-info",
	Short: "Show the current access token state",
	Long: `Show the access token state of the running proxy. When the proxy is not
running a token is acquired locally with the configured authorization key.`,
	RunE: runTokenInfo,
}

var refreshTokenCmd = &cobra.Command{
	Use:   "refresh-token",
	Short: "Force a new access token",
	Long:  `Force the running proxy (or a local store when it is not running) to acquire a new access token.`,
	RunE:  runRefreshToken,
}

func init() {
	tokenInfoCmd.Flags().StringP("format", "f", "table", "output format: table or json")
}

func runTokenInfo(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	info, source, err := fetchTokenInfo(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	if format == "json" {
		return printTokenInfoJSON(cmd.OutOrStdout(), info)
	}

	color.Blue("Token state (%s):", source)
	printTokenInfoTable(cmd.OutOrStdout(), info)
	return nil
}

// fetchTokenInfo asks the running proxy first and falls back to acquiring a
// credential in-process.
func fetchTokenInfo(ctx context.Context, cfg *config.Config) (token.Info, string, error) {
	if process.NewManager(baseDir).IsRunning() {
		var info token.Info
		err := callServer(ctx, cfg, http.MethodGet, "/token/info", &info)
		if err == nil {
			return info, "running server", nil
		}
		logger.Warn("Running server did not answer, acquiring locally", "error", err)
	}

	store, err := server.NewTokenStore(cfg, nil, logger, nil)
	if err != nil {
		return token.Info{}, "", err
	}
	if _, err := store.Get(ctx, false); err != nil {
		return token.Info{}, "", fmt.Errorf("acquire token: %w", err)
	}
	return store.Info(), "local", nil
}

func printTokenInfoJSON(w io.Writer, info token.Info) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func printTokenInfoTable(w io.Writer, info token.Info) {
	fmt.Fprintf(w, "  %-15s: %v\n", "Has Token", info.HasCredential)
	if !info.HasCredential {
		return
	}
	fmt.Fprintf(w, "  %-15s: %s\n", "Preview", info.Preview)
	fmt.Fprintf(w, "  %-15s: %s\n", "Scope", info.Scope)
	fmt.Fprintf(w, "  %-15s: %s\n", "Expires At", info.ExpiresAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  %-15s: %s\n", "Expires In", (time.Duration(info.SecondsUntilExpiry) * time.Second).String())
	fmt.Fprintf(w, "  %-15s: %v\n", "Refresh Due", info.IsRefreshDue)
}

func runRefreshToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if process.NewManager(baseDir).IsRunning() {
		var result handlers.RefreshResult
		err := callServer(cmd.Context(), cfg, http.MethodPost, "/token/refresh", &result)
		if err != nil {
			if result.Error != "" {
				return fmt.Errorf("refresh failed: %s", result.Error)
			}
			return err
		}
		color.Green("Token refreshed by the running server")
		printTokenInfoTable(cmd.OutOrStdout(), result.Info)
		return nil
	}

	store, err := server.NewTokenStore(cfg, nil, logger, nil)
	if err != nil {
		return err
	}
	cred, err := store.Get(cmd.Context(), true)
	if err != nil {
		if errors.Is(err, token.ErrNoAuthorizationKey) {
			return fmt.Errorf("%w: set GIGACHAT_AUTH_KEY or gigachat.auth_key", err)
		}
		return err
	}

	color.Green("Token acquired")
	fmt.Fprintf(cmd.OutOrStdout(), "  %-15s: %s\n", "Preview", cred.Preview())
	fmt.Fprintf(cmd.OutOrStdout(), "  %-15s: %s\n", "Expires At", cred.ExpiresAt.Local().Format(time.RFC3339))
	return nil
}
