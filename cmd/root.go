package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/ixmap/cmd/kv"
	"github.com/ValentinKolb/ixmap/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ixmap",
		Short: "typed key-value map on an inverted index",
		Long: fmt.Sprintf(`ixmap (v%s)

A key-value map library written in Go, storing its entries in an
inverted index with near-real-time readers. This CLI operates on a
local map; every command opens the map, runs and commits on exit.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ixmap",
		// no map or logging setup needed
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ixmap v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.Commands...)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupMapFlags(RootCmd)
}

// setup binds the flags of the executed command and initializes logging
func setup(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
