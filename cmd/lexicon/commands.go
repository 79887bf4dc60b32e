package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/japaniel/lexicon/pkg/cleanup"
	"github.com/japaniel/lexicon/pkg/config"
	"github.com/japaniel/lexicon/pkg/db"
	"github.com/japaniel/lexicon/pkg/lexicon"
)

func (a *app) runCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one cleanup pass over unprocessed records",
		Long: `Selects records not yet in the ledger, generates a formatting proposal for
each and stores it as pending. Records whose generation fails are reported
and picked up again by the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), a.cfg, a.logger, cmd.OutOrStdout(), batch, a.engineOpts...)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "Maximum records to process (default from config)")
	return cmd
}

func (a *app) reviewCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List pending proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reviewProposals(cmd.Context(), a.cfg, a.logger, cmd.OutOrStdout(), field, a.engineOpts...)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Only show proposals that change this field (title or body)")
	return cmd
}

func (a *app) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Apply a pending proposal to its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return approveProposal(cmd.Context(), a.cfg, a.logger, cmd.OutOrStdout(), args[0], a.engineOpts...)
		},
	}
}

func (a *app) rejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Close a pending proposal without changing its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rejectProposal(cmd.Context(), a.cfg, a.logger, cmd.OutOrStdout(), args[0], reason, a.engineOpts...)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the proposal was rejected")
	return cmd
}

func (a *app) resetLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-ledger",
		Short: "Forget which records were processed so the next run reconsiders all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resetLedger(cmd.Context(), a.cfg, a.logger, cmd.OutOrStdout(), a.engineOpts...)
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var title, body, url string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a record from flags or a web page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return addRecord(cmd.Context(), a.cfg, a.logger, cmd.OutOrStdout(), lexicon.NewFetcher(), title, body, url)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Record title")
	cmd.Flags().StringVar(&body, "body", "", "Record body")
	cmd.Flags().StringVar(&url, "url", "", "Fetch the record from this page instead")
	cmd.MarkFlagsMutuallyExclusive("body", "url")
	cmd.MarkFlagsOneRequired("body", "url")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import records from a JSON file",
		Long: `Imports records from a JSON file holding {"records": [...]} or a bare
array of {"title", "body", "source"} objects. Records with a source are
matched on it, so importing the same file twice does not duplicate them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importRecords(a.cfg, a.logger, cmd.OutOrStdout(), args[0])
		},
	}
}

// openEngine builds and initializes an engine. Commands that only touch
// stored proposals skip the generation service check.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, needGenerator bool, opts ...cleanup.Option) (*cleanup.Engine, error) {
	c := *cfg
	if !needGenerator {
		c.LLM.SkipPing = true
	}
	opts = append([]cleanup.Option{cleanup.WithLogger(logger)}, opts...)
	e := cleanup.New(&c, opts...)
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func runCleanup(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, batch int, opts ...cleanup.Option) error {
	e, err := openEngine(ctx, cfg, logger, true, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.RunPass(ctx, batch)
	if report != nil {
		newPrinter(out).report(report)
	}
	if err != nil {
		return fmt.Errorf("cleanup pass: %w", err)
	}
	return nil
}

func reviewProposals(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, field string, opts ...cleanup.Option) error {
	if _, err := db.NormalizeField(field); err != nil {
		return err
	}
	e, err := openEngine(ctx, cfg, logger, false, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	pending, err := e.Review(ctx, field)
	if err != nil {
		return fmt.Errorf("list pending proposals: %w", err)
	}
	newPrinter(out).pending(pending)
	return nil
}

func approveProposal(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, id string, opts ...cleanup.Option) error {
	e, err := openEngine(ctx, cfg, logger, false, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.Approve(ctx, id)
	if err != nil {
		return decisionError("approve", id, err)
	}
	fmt.Fprintf(out, "Approved proposal %s; record %d updated.\n", p.ID, p.RecordID)
	return nil
}

func rejectProposal(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, id, reason string, opts ...cleanup.Option) error {
	e, err := openEngine(ctx, cfg, logger, false, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.Reject(ctx, id, reason)
	if err != nil {
		return decisionError("reject", id, err)
	}
	fmt.Fprintf(out, "Rejected proposal %s for record %d.\n", p.ID, p.RecordID)
	return nil
}

func decisionError(verb, id string, err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("cannot %s %s: no such proposal: %w", verb, id, err)
	case errors.Is(err, db.ErrInvalidState):
		return fmt.Errorf("cannot %s %s: proposal is no longer pending: %w", verb, id, err)
	default:
		return fmt.Errorf("%s %s: %w", verb, id, err)
	}
}

func resetLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, opts ...cleanup.Option) error {
	e, err := openEngine(ctx, cfg, logger, false, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	n := e.Ledger().Len()
	if err := e.ResetLedger(); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	fmt.Fprintf(out, "Cleared %d ledger entries from %s.\n", n, cfg.Ledger.Path)
	return nil
}

func addRecord(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, fetcher *lexicon.Fetcher, title, body, url string) error {
	entry := lexicon.Entry{Title: title, Body: body}
	if url != "" {
		fetched, err := fetcher.Fetch(ctx, url)
		if err != nil {
			return err
		}
		entry = *fetched
		if title != "" {
			entry.Title = title
		}
	}

	conn, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer conn.Close()

	id, err := lexicon.NewImporter(conn, logger).Add(entry)
	if err != nil {
		return fmt.Errorf("add record: %w", err)
	}
	fmt.Fprintf(out, "Stored record %d (%s).\n", id, entry.Title)
	return nil
}

func importRecords(cfg *config.Config, logger *slog.Logger, out io.Writer, path string) error {
	entries, err := lexicon.LoadEntries(path)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	conn, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := lexicon.NewImporter(conn, logger).Import(entries)
	if err != nil {
		return fmt.Errorf("import records: %w", err)
	}
	fmt.Fprintf(out, "Imported %d records (%d skipped).\n", res.Stored, res.Skipped)
	return nil
}
