package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/fields"
	"github.com/deploymenttheory/snapm/internal/manager"
	"github.com/deploymenttheory/snapm/internal/selection"
)

var snapsetCmd = &cobra.Command{
	Use:   "snapset",
	Short: "Create, list, and mutate snapshot sets",
}

func init() {
	rootCmd.AddCommand(snapsetCmd)
	snapsetCmd.AddCommand(snapsetCreateCmd, snapsetListCmd, snapsetRenameCmd,
		snapsetResizeCmd, snapsetDeleteCmd, snapsetActivateCmd,
		snapsetDeactivateCmd, snapsetRevertCmd, snapsetSplitCmd)
}

// parseSourceSpecs turns "<source>[:<policy>]" CLI arguments into
// manager.SourceSpec values, grounded on command.py's source-spec
// parsing for "snapm snapset create".
func parseSourceSpecs(args []string) []manager.SourceSpec {
	specs := make([]manager.SourceSpec, 0, len(args))
	for _, a := range args {
		parts := strings.SplitN(a, ":", 2)
		spec := manager.SourceSpec{Source: parts[0]}
		if len(parts) == 2 {
			spec.SizePolicy = parts[1]
		}
		specs = append(specs, spec)
	}
	return specs
}

func selectionFromFlags(name, uuid string) selection.Selection {
	sel := selection.Selection{}
	if name != "" {
		basename, index := selection.SplitBasenameIndex(name)
		sel.Name = name
		sel.Basename = basename
		sel.Index = index
	}
	sel.UUID = uuid
	return sel
}

var (
	createDefaultPolicy string
	createBoot          bool
	createRevert        bool
)

var snapsetCreateCmd = &cobra.Command{
	Use:   "create NAME SOURCE[:POLICY]...",
	Short: "Create a new snapshot set",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		specs := parseSourceSpecs(args[1:])
		env := newAppEnv()
		var result string
		err := env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			ss, err := mgr.CreateSnapshotSet(name, specs, createDefaultPolicy, createBoot, createRevert)
			if err != nil {
				return err
			}
			result = fmt.Sprintf("Created snapshot set %s (%s)", ss.Name, ss.UUID)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	},
}

func init() {
	snapsetCreateCmd.Flags().StringVar(&createDefaultPolicy, "size-policy", "100%SIZE", "default size policy applied to sources with no explicit policy")
	snapsetCreateCmd.Flags().BoolVar(&createBoot, "boot", false, "create a boot-loader entry for this snapshot set")
	snapsetCreateCmd.Flags().BoolVar(&createRevert, "revert", false, "create a revert boot-loader entry for this snapshot set")
}

var (
	listFields string
	listName   string
	listUUID   string
)

var snapsetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshot sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		mgr, err := env.newManager()
		if err != nil {
			return err
		}
		sel := selectionFromFlags(listName, listUUID)
		sets := mgr.FindSnapshotSets(sel)
		selectors := fields.ExpandFields(listFields, fields.DefaultSnapsetFields)
		printSnapsetTable(sets, selectors)
		return nil
	},
}

func init() {
	snapsetListCmd.Flags().StringVar(&listFields, "fields", "", "comma-separated field selectors (default: "+strings.Join(fields.DefaultSnapsetFields, ",")+")")
	snapsetListCmd.Flags().StringVar(&listName, "name", "", "only list the snapshot set with this name")
	snapsetListCmd.Flags().StringVar(&listUUID, "uuid", "", "only list the snapshot set with this UUID")
}

func printSnapsetTable(sets []*entities.SnapshotSet, selectors []string) {
	resolved := make([]fields.SnapsetField, 0, len(selectors))
	for _, sel := range selectors {
		if f, ok := fields.FindSnapsetField(sel); ok {
			resolved = append(resolved, f)
		}
	}
	for _, f := range resolved {
		fmt.Printf("%-*s", f.Width+1, f.Header)
	}
	fmt.Println()
	for _, ss := range sets {
		for _, f := range resolved {
			fmt.Printf("%-*s", f.Width+1, f.Value(ss))
		}
		fmt.Println()
	}
}

var snapsetRenameCmd = &cobra.Command{
	Use:   "rename OLDNAME NEWNAME",
	Short: "Rename a snapshot set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			ss, err := mgr.RenameSnapshotSet(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Renamed snapshot set %s to %s\n", args[0], ss.Name)
			return nil
		})
	},
}

var (
	resizeName   string
	resizeUUID   string
	resizePolicy string
)

var snapsetResizeCmd = &cobra.Command{
	Use:   "resize [SOURCE[:POLICY]...]",
	Short: "Resize a snapshot set's members",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		specs := parseSourceSpecs(args)
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			if err := mgr.ResizeSnapshotSet(resizeName, resizeUUID, specs, resizePolicy); err != nil {
				return err
			}
			fmt.Println("Resized snapshot set")
			return nil
		})
	},
}

func init() {
	snapsetResizeCmd.Flags().StringVar(&resizeName, "name", "", "snapshot set name")
	snapsetResizeCmd.Flags().StringVar(&resizeUUID, "uuid", "", "snapshot set UUID")
	snapsetResizeCmd.Flags().StringVar(&resizePolicy, "size-policy", "100%SIZE", "default size policy applied to members with no explicit policy")
}

var (
	deleteName string
	deleteUUID string
)

var snapsetDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete snapshot sets matching a selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			n, err := mgr.DeleteSnapshotSets(selectionFromFlags(deleteName, deleteUUID))
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d snapshot set(s)\n", n)
			return nil
		})
	},
}

func init() {
	snapsetDeleteCmd.Flags().StringVar(&deleteName, "name", "", "snapshot set name")
	snapsetDeleteCmd.Flags().StringVar(&deleteUUID, "uuid", "", "snapshot set UUID")
}

var (
	activateName string
	activateUUID string
)

var snapsetActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate snapshot sets matching a selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			n, err := mgr.ActivateSnapshotSets(selectionFromFlags(activateName, activateUUID))
			if err != nil {
				return err
			}
			fmt.Printf("Activated %d snapshot set(s)\n", n)
			return nil
		})
	},
}

func init() {
	snapsetActivateCmd.Flags().StringVar(&activateName, "name", "", "snapshot set name")
	snapsetActivateCmd.Flags().StringVar(&activateUUID, "uuid", "", "snapshot set UUID")
}

var (
	deactivateName string
	deactivateUUID string
)

var snapsetDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate snapshot sets matching a selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			n, err := mgr.DeactivateSnapshotSets(selectionFromFlags(deactivateName, deactivateUUID))
			if err != nil {
				return err
			}
			fmt.Printf("Deactivated %d snapshot set(s)\n", n)
			return nil
		})
	},
}

func init() {
	snapsetDeactivateCmd.Flags().StringVar(&deactivateName, "name", "", "snapshot set name")
	snapsetDeactivateCmd.Flags().StringVar(&deactivateUUID, "uuid", "", "snapshot set UUID")
}

var (
	revertName string
	revertUUID string
)

var snapsetRevertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Revert snapshot sets matching a selection to their point-in-time state",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			n, err := mgr.RevertSnapshotSets(selectionFromFlags(revertName, revertUUID))
			if err != nil {
				return err
			}
			fmt.Printf("Reverting %d snapshot set(s); reboot to complete the revert\n", n)
			return nil
		})
	},
}

func init() {
	snapsetRevertCmd.Flags().StringVar(&revertName, "name", "", "snapshot set name")
	snapsetRevertCmd.Flags().StringVar(&revertUUID, "uuid", "", "snapshot set UUID")
}

var splitDest string

var snapsetSplitCmd = &cobra.Command{
	Use:   "split SRCNAME SOURCE...",
	Short: "Move members out of a snapshot set into a new set, or prune them",
	Long: `split moves the members identified by SOURCE (matched by mount point
or origin device) out of SRCNAME. With --dest NAME the moved members form
a new snapshot set; without it they are deleted outright (prune).`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			mgr, err := env.newManager()
			if err != nil {
				return err
			}
			dst, err := mgr.SplitSnapshotSet(args[0], splitDest, args[1:])
			if err != nil {
				return err
			}
			if dst == nil {
				fmt.Printf("Pruned %d source(s) from snapshot set %s\n", len(args[1:]), args[0])
				return nil
			}
			fmt.Printf("Split snapshot set %s into %s (%s)\n", args[0], dst.Name, dst.UUID)
			return nil
		})
	},
}

func init() {
	snapsetSplitCmd.Flags().StringVar(&splitDest, "dest", "", "name of the new snapshot set to create from the split-off members")
}
