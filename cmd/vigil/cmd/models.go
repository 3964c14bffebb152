package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/spf13/cobra"
)

// modelsCmd represents the models command.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available detection models",
	Long: `List the models in the built-in catalog and whether their weights are
already cached locally.

Examples:
  vigil models
  vigil models --models-dir /data/weights`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tCACHED\tDESCRIPTION")
		for _, desc := range models.DefaultCatalog().List() {
			cached := "no"
			if models.WeightsCached(cfg.ModelsDir, desc) {
				cached = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				desc.ID, desc.Name, desc.Size, cached, desc.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
