package cmd

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/gigachat-proxy/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy",
	Long:  `Stop the running GigaChat proxy.`,
	RunE:  runStop,
}

func init() {
	stopCmd.Flags().Duration("timeout", 15*time.Second, "how long to wait for the process to exit")
}

func runStop(cmd *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("Service is not running")
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if err := procMgr.Stop(timeout); err != nil {
		return err
	}

	color.Green("Service stopped successfully")
	return nil
}
