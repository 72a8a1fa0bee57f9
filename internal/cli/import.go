package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/auditpulse/pulse-monitor/internal/importer"
)

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load entities, snapshots, actions and feeds from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, cfg, err := a.loadConfig(ctx)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			c, err := buildComponents(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			summary, err := importFile(ctx, args[0], c.repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities, %d snapshots, %d actions, %d competitors, %d benchmarks\n",
				summary.Entities, summary.Snapshots, summary.Actions, summary.Competitors, summary.Benchmarks)
			return nil
		},
	}
}

func importFile(ctx context.Context, path string, target importer.Target) (importer.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return importer.Summary{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := importer.Parse(f)
	if err != nil {
		return importer.Summary{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	summary, err := doc.Apply(ctx, target)
	if err != nil {
		return summary, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return summary, nil
}
