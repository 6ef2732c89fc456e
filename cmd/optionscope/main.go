// Command optionscope aggregates options market data across providers and
// prices contracts locally.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"optionscope/internal/cli"
	"optionscope/internal/config"
	"optionscope/internal/logging"
)

func main() {
	// Credentials may live in a .env in the working directory; load it
	// before config reads the environment.
	godotenv.Load(".env")

	cfg, err := config.Load(configDirFlag(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "optionscope: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(logConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configDirFlag pre-scans args for --config: the directory must be known
// before cobra parses flags because the engine is built from config.
func configDirFlag(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// logConfig maps file configuration onto the logger, keeping the rotation
// defaults for anything the config does not set.
func logConfig(cfg *config.Config) logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Logging.Level
	lc.Console = cfg.Logging.Console
	lc.File = cfg.Logging.File
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	return lc
}
