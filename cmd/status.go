package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/gigachat-proxy/internal/process"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	Long:  `Display the current status of the GigaChat proxy.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()
	if loaded, err := cfgMgr.Load(); err == nil {
		cfg = loaded
	} else {
		color.Red("Configuration error: %v", err)
	}

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()

	color.Blue("Status for %s:", AppName)
	if running {
		fmt.Printf("  %-15s: %s\n", "Running", color.GreenString("yes"))
	} else {
		fmt.Printf("  %-15s: %s\n", "Running", color.RedString("no"))
	}
	fmt.Printf("  %-15s: %d\n", "PID", pid)

	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "Endpoint", serverBaseURL(cfg))
	fmt.Printf("  %-15s: %s\n", "API Base", cfg.GigaChat.APIBase)
	fmt.Printf("  %-15s: %v\n", "Auth Key", cfg.GigaChat.HasAuthKey())

	var enabled []string
	for _, p := range cfg.ProviderRegistry().Enabled() {
		enabled = append(enabled, p.Name)
	}
	if len(enabled) == 0 {
		enabled = []string{"none"}
	}
	fmt.Printf("  %-15s: %s\n", "Providers", strings.Join(enabled, ", "))

	if running {
		var info token.Info
		if err := callServer(cmd.Context(), cfg, http.MethodGet, "/token/info", &info); err != nil {
			fmt.Printf("  %-15s: %s\n", "Token", color.YellowString("unavailable (%v)", err))
		} else {
			fmt.Printf("  %-15s: %s\n", "Token", tokenSummary(info))
		}
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}

func tokenSummary(info token.Info) string {
	switch {
	case !info.HasCredential:
		return color.YellowString("not issued yet")
	case info.IsRefreshDue:
		return color.YellowString("refresh due (%.0fs left)", info.SecondsUntilExpiry)
	default:
		return color.GreenString("valid (%.0fs left)", info.SecondsUntilExpiry)
	}
}
