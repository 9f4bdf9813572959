package cmd

import (
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
)

// NewRootCommand builds the sentinel command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Automated incident remediation coordinator",
		Long: `Sentinel drives incidents through detection, diagnosis, fix generation and
deployment by coordinating worker capabilities behind a traced tool protocol.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default $SENTINEL_CONFIG)")

	root.AddCommand(
		newServeCommand(),
		newToolsCommand(),
		newSimulateCommand(),
		newTriggerCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
