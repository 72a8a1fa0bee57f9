package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/auditpulse/pulse-monitor/internal/monitor"
)

func newEvaluateCmd(a *app) *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "evaluate <entity>",
		Short: "Run one evaluation pass and print the result as JSON",
		Long: `Run a single evaluation pass for one entity outside the scheduler.

The pass reads history from the configured repository. With --seed the
document is imported first, which makes the command usable against the
memory repository.`,
		Args: cobra.ExactArgs(1),
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

			if seedPath != "" {
				if _, err := importFile(ctx, seedPath, c.repo); err != nil {
					return err
				}
			}

			result, err := c.svc.Evaluate(ctx, args[0], monitor.TriggerCLI)
			if err != nil {
				return fmt.Errorf("evaluation of %s failed: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML document to import before evaluating")
	return cmd
}
