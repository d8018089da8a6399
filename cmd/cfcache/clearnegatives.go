package main

import (
	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

func clearNegativesMain(command *cobra.Command, arguments []string) error {
	cache, err := loadCache()
	if err != nil {
		return err
	}
	cache.ClearNegatives()
	return nil
}

var clearNegativesCommand = &cobra.Command{
	Use:   "clearnegatives",
	Short: "Drops every entry from the negative (miss) cache",
	Run:   cmd.Mainify(clearNegativesMain),
}

func init() {
	standardFlags(clearNegativesCommand.Flags())
}
