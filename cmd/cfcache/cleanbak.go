package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

func cleanBakMain(command *cobra.Command, arguments []string) error {
	cache, err := loadCache()
	if err != nil {
		return err
	}
	removed := cache.CleanBak()
	fmt.Printf("Removed %d expired backup file(s)\n", removed)
	return nil
}

var cleanBakCommand = &cobra.Command{
	Use:   "cleanbak",
	Short: "Deletes .bak sibling files older than the configured retention age",
	Run:   cmd.Mainify(cleanBakMain),
}

func init() {
	standardFlags(cleanBakCommand.Flags())
}
