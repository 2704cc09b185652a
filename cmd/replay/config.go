package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective replay hyperparameters as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Replay.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
