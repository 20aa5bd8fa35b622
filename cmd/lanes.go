package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxfret/cascade/config"
	"github.com/fluxfret/cascade/core/cascade"
)

var lanesCmd = &cobra.Command{
	Use:   "lanes",
	Short: "Lane related commands",
}

var lanesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List configured lanes",
	RunE:  runLanesLs,
}

func init() {
	lanesCmd.AddCommand(lanesLsCmd)
	rootCmd.AddCommand(lanesCmd)
}

func runLanesLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Fixtures.LanesPath == "" {
		return fmt.Errorf("no lanes fixture configured")
	}
	lanes, err := cascade.LoadLanes(cfg.Fixtures.LanesPath)
	if err != nil {
		return err
	}
	for _, l := range lanes {
		state := "active"
		if !l.Active {
			state = "inactive"
		}
		fmt.Printf("%s\t%s\t%d carriers\t%s\n", l.ID, l.Name, len(l.Carriers), state)
	}
	return nil
}
