// Package main provides the lexicon binary: a curation pipeline that asks a
// language model to propose cleaned-up versions of lexicon records and lets
// a human approve or reject each proposal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/japaniel/lexicon/pkg/cleanup"
	"github.com/japaniel/lexicon/pkg/config"
)

const (
	Version = "0.1.0"
	appName = "lexicon"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// app carries state resolved once in PersistentPreRunE and shared by every
// subcommand.
type app struct {
	configPath string
	dbPath     string
	ledgerPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger

	// engineOpts are appended to every engine the commands build.
	engineOpts []cleanup.Option
}

func newRootCmd(engineOpts ...cleanup.Option) *cobra.Command {
	a := &app{engineOpts: engineOpts}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Curate lexicon records with model-proposed edits",
		Long: `lexicon generates formatting proposals for lexicon records with an
OpenAI-compatible model and keeps them pending until a reviewer approves
or rejects them. Records already sent for generation are tracked in a
ledger so repeated runs only pick up new records.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Arguments are valid by now; later failures are not usage errors.
			cmd.SilenceUsage = true
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML, default ./"+config.DefaultConfigFile+" if present)")
	flags.StringVar(&a.dbPath, "db", "", "Path to SQLite database (overrides config)")
	flags.StringVar(&a.ledgerPath, "ledger", "", "Path to processed-records ledger (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		a.runCmd(),
		a.reviewCmd(),
		a.approveCmd(),
		a.rejectCmd(),
		a.resetLedgerCmd(),
		a.addCmd(),
		a.importCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// setup loads configuration, applies flag overrides and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	bootstrap := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(a.logLevel)}))
	cfg, err := config.Load(a.configPath, bootstrap)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.ledgerPath != "" {
		cfg.Ledger.Path = a.ledgerPath
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(a.logger)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
