package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/daemon"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook bridge in the foreground",
	Long: `Run the webhook bridge in the foreground until interrupted.
The process accepts WeCom customer-service callbacks, drains new messages
and forwards them to the configured dispatcher.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	configPath, err := loader.Path()
	if err != nil {
		configPath = ""
	}

	d, err := daemon.New(cfg, configPath, log, nil)
	if err != nil {
		return err
	}

	pidFile := pidFilePath(cfg.DataDir)
	if err := writePIDFile(pidFile); err != nil {
		log.Warn().Err(err).Str("path", pidFile).Msg("Could not write pid file")
	}
	defer os.Remove(pidFile)

	return d.Run()
}

func pidFilePath(dataDir string) string {
	if dataDir == "" {
		return "/tmp/wecom-kf.pid"
	}
	return filepath.Join(dataDir, "wecom-kf.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
