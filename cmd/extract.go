package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <domain>",
		Short: "Runs the extraction tiers for one domain and prints the result",
		Long: `Runs the same tiers as a job would, without touching the job store or
publishing callbacks. Learned URL patterns are still updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := a.Engine.Extract(cmd.Context(), args[0])
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Error != "" && !res.HasTaxID() {
				return fmt.Errorf("extract %s: %s", res.Domain, res.Error)
			}
			return nil
		},
	}
}

func newLearnCmd() *cobra.Command {
	var (
		domain   string
		dataType string
		pageURL  string
	)
	cmd := &cobra.Command{
		Use:     "learn",
		Short:   "Records a page an operator confirmed holds the data",
		Example: `  enricher learn --domain shop.ru --type tax_id --url https://shop.ru/rekvizity`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dt := enrich.DataType(dataType)
			if !dt.Valid() {
				return fmt.Errorf("unknown --type %q (want %s or %s)", dataType, enrich.DataTaxID, enrich.DataEmail)
			}
			if err := a.Learning.LearnFromManualURL(domain, dt, pageURL); err != nil {
				return fmt.Errorf("learn %s: %w", domain, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "learned %s for %s: %s\n", dt, domain, pageURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "supplier domain")
	cmd.Flags().StringVar(&dataType, "type", string(enrich.DataTaxID), "data type: tax_id or email")
	cmd.Flags().StringVar(&pageURL, "url", "", "confirmed page URL")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
