package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/gigachat-proxy/internal/process"
	"github.com/mihaisavezi/gigachat-proxy/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Long:  `Start the GigaChat proxy in the foreground, or detached with --background.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolP("background", "b", false, "run detached and return once the service is up")
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir)

	if background, _ := cmd.Flags().GetBool("background"); background {
		started, err := procMgr.StartBackground("start")
		if err != nil {
			return err
		}
		if !started {
			color.Yellow("%s is already running (pid %d)", AppName, procMgr.ReadPID())
			return nil
		}
		color.Green("%s started in the background (pid %d)", AppName, procMgr.ReadPID())
		return nil
	}

	if procMgr.IsRunning() {
		return fmt.Errorf("%s is already running (pid %d)", AppName, procMgr.ReadPID())
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"api_base", cfg.GigaChat.APIBase,
		"providers", len(cfg.ProviderRegistry().Enabled()),
	)

	// Setup process management
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	// Create and start server
	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
