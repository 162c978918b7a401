package cmd

import (
	"fmt"

	"github.com/recoveryworks/update-engine/internal/engine"
	"github.com/spf13/cobra"
)

// estimateCmd runs only the read-only first pass and prints the unit total,
// for callers that want to size a progress bar without applying anything.
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Print the progress unit total for the pending command file",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}

		cmds, err := engine.LoadScript(Cfg.CommandFilePath())
		if err != nil {
			return err
		}

		fmt.Printf("progress total: %d\n", eng.Estimate(cmds))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(estimateCmd)
}
