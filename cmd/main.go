package main

import (
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

func defaultConfigFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return "config.yml"
	}
	return filepath.Join(home, ".lorenzo-relayer", "config.yml")
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "lorenzo-relayer",
		Short: "Lorenzo omnichain message relayer",
	}
	rootCmd.PersistentFlags().String("config", defaultConfigFile(), "config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(StartCmd())
	rootCmd.AddCommand(TasksCmd())
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
