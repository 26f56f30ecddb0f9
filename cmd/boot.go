package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/selection"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Inspect boot-loader entries snapm created",
}

func init() {
	rootCmd.AddCommand(bootCmd)
	bootCmd.AddCommand(bootListCmd, bootDeleteCmd)
}

var bootListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boot and revert boot-loader entries snapm created",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		resolver := blockdev.NewResolver(env.backend)
		boot := env.newBootIntegration(resolver)
		bootCache, revertCache, err := boot.RefreshCache()
		if err != nil {
			return err
		}
		for name, id := range bootCache {
			fmt.Printf("boot    %-20s %s\n", name, id)
		}
		for name, id := range revertCache {
			fmt.Printf("revert  %-20s %s\n", name, id)
		}
		return nil
	},
}

var bootDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete the boot and revert boot-loader entries for a snapshot set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			sets := mgr.FindSnapshotSets(selection.Selection{Name: args[0]})
			if len(sets) == 0 {
				return fmt.Errorf("no snapshot set named %q", args[0])
			}
			resolver := blockdev.NewResolver(env.backend)
			boot := env.newBootIntegration(resolver)
			if err := boot.DeleteBootEntry(sets[0]); err != nil {
				return err
			}
			if err := boot.DeleteRevertEntry(sets[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted boot-loader entries for snapshot set %s\n", args[0])
			return nil
		})
	},
}
