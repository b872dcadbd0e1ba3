package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/inn-enricher/internal/id/uuid"
)

func newEnqueueCmd() *cobra.Command {
	var (
		jobID   string
		domains []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue [domain...]",
		Short: "Queues a job of domains for the scheduler",
		Long: `Writes a queued job to the job store. A running "serve" process picks it
up on its next tick. Domains can be given as arguments or with --domain.`,
		Example: `  enricher enqueue --job-id batch-42 shop.ru example.ru
  enricher enqueue --domain shop.ru --domain example.ru`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if jobID == "" {
				if jobID, err = uuid.New().NewID(); err != nil {
					return err
				}
			} else if err := uuid.Validate(jobID); err != nil {
				return err
			}
			job, err := a.Coordinator.Enqueue(cmd.Context(), jobID, append(domains, args...))
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", jobID, err)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id (default: generated UUID)")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "domain to enrich (repeatable)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Prints a job with its per-domain results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := a.Coordinator.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
