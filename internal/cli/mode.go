package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arif/kestrel/internal/config"
	"github.com/arif/kestrel/pkg/permission"
)

var modeCmd = &cobra.Command{
	Use:   "mode [new-mode]",
	Short: "Show or set the permission mode",
	Long: `Mode prints the persisted permission mode, or sets it when a new mode
is given. Valid modes: bypass, plan, prompt_once, interactive,
accept_edits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModeCmd,
}

func init() {
	rootCmd.AddCommand(modeCmd)
}

func runModeCmd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		fmt.Println(store.Mode())
		return nil
	}

	mode := permission.Mode(args[0])
	if err := store.SetMode(mode); err != nil {
		return err
	}

	fmt.Printf("mode set to %s\n", mode)
	return nil
}

// openStore loads config and opens the persisted permission state
func openStore() (*permission.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return permission.NewStore(cfg.Permissions.StateFile)
}
