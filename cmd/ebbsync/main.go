package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ajramos/ebbsync/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ebbsync",
		Short:         "Sync, read and answer Gmail threads from a local cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `ebbsync keeps a local SQLite copy of recent Gmail threads.

Configuration is read from ~/.config/ebbsync/config.yaml (override with
--config or EBB_CONFIG). Any setting can be overridden with EBB_* environment
variables, for example EBB_SYNC_COUNT=25 or EBB_LLM_ENABLED=true.`,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML configuration file (default: ~/.config/ebbsync/config.yaml)")

	root.AddCommand(
		newImportTokenCmd(opts),
		newLogoutCmd(opts),
		newLLMKeyCmd(opts),
		newSyncCmd(opts),
		newChangesCmd(opts),
		newThreadsCmd(opts),
		newShowCmd(opts),
		newSanitizeCmd(opts),
		newSendCmd(opts),
		newReplyCmd(opts),
		newLabelsCmd(opts),
		newClearCacheCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable EBB_CONFIG
// 3. Default path ~/.config/ebbsync/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return expandPath(flagValue)
	}

	if envPath := os.Getenv("EBB_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}

	return config.DefaultConfigPath()
}

// expandPath expands ~ to the user's home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	return filepath.Join(home, path[2:])
}
