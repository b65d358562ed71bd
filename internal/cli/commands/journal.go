package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindzen-erp/mindzen/internal/cli/ui"
	"github.com/mindzen-erp/mindzen/internal/journal"
)

// NewJournalCommand creates the journal command
func NewJournalCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded module lifecycle events",
		Long: `Show the most recent entries of the lifecycle journal, newest first.

The journal is written by commands that change module state (install,
uninstall, serve) when journal.driver is sqlite or redis.`,
		Example: `  mindzen journal
  mindzen journal --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got: %d", limit)
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			sink, err := journal.Open(cmd.Context(), cfg)
			if errors.Is(err, journal.ErrNoSink) {
				ui.Message{
					Level:   ui.LevelWarning,
					Problem: "journal disabled",
					Detail:  "Set journal.driver to sqlite or redis to record module lifecycle events.",
					NoColor: opts.noColor,
				}.Write(cmd.ErrOrStderr())
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer sink.Close()

			entries, err := sink.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(), []string{"TIME", "EVENT", "MODULE", "ID"}, opts.noColor)
			for _, e := range entries {
				module := e.Module
				if module == "" {
					module = "-"
				}
				table.AddRow(e.At.Format(time.RFC3339), e.Event, module, e.ID.String())
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show (0 for all)")
	return cmd
}
