// Package cmd defines and implements the CLI commands for the crawler
// executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldcrawl/crawler/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "A configurable, single-process web crawler.",
		Long: `crawler runs a configurable web crawl: seeded from a list of URLs,
bounded by domain allowlist, depth, and page-count limits, and respectful of
robots.txt and crawl-delay directives.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars prefixed CRAWLER_ override")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := logging.InitLogger(false); err != nil {
		fmt.Println("failed to initialize logger:", err)
		exit(1)
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Error("command execution failed", zap.Error(err))
		exit(exitCodeFor(err))
	}
}
