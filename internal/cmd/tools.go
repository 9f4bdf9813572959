package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
)

func newToolsCommand() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := tools.DefaultCatalog(nil)
			out := cmd.OutOrStdout()
			if asJSON {
				list := make([]map[string]any, 0, len(catalog.IDs()))
				for _, tool := range catalog.All() {
					list = append(list, map[string]any{
						"name":         string(tool.ID),
						"owner":        models.TargetOf(string(tool.ID)),
						"description":  tool.Description,
						"input_schema": tool.InputSchema,
					})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tOWNER\tDESCRIPTION")
			for _, tool := range catalog.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.ID, models.TargetOf(string(tool.ID)), tool.Description)
			}
			return w.Flush()
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "output the catalog as JSON")
	return c
}
