package cmd

import (
	"fmt"
	"os"

	"github.com/recoveryworks/update-engine/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	Cfg     *config.Config
	Version string
)

var RootCmd = &cobra.Command{
	Use:   "update-engine",
	Short: "Recovery update engine - applies signed OS image update command files",
	Long: `Recovery update engine. Consumes a signed, ordered command file and
applies it to the on-device system and data partitions, verifying every
payload against the hierarchical key-authority chain before trusting it.`,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/update-engine/config.yaml)")
}

func initConfig() {
	var err error
	Cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}
}
