package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the bridge daemon is running",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pidFile := pidFilePath(cfg.DataDir)
	pid, running := readPIDFile(pidFile)
	if !running {
		fmt.Println("wecom-kf is not running")
		return nil
	}

	fmt.Printf("wecom-kf is running (pid %d)\n", pid)
	fmt.Printf("accounts configured: %d\n", len(cfg.Accounts))
	fmt.Printf("webhook: %s:%d%s\n", cfg.Webhook.Host, cfg.Webhook.Port, cfg.Webhook.Path)
	return nil
}

// readPIDFile returns the recorded pid and whether that process is alive.
func readPIDFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}
