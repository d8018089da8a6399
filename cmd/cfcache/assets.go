package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

func assetsMain(command *cobra.Command, arguments []string) error {
	cache, err := loadCache()
	if err != nil {
		return err
	}
	cache.DeepTouch(context.Background())
	return nil
}

var assetsCommand = &cobra.Command{
	Use:   "assets",
	Short: "Runs a deep-touch scan: re-fetches any scene-referenced asset missing from the file tier",
	Run:   cmd.Mainify(assetsMain),
}

func init() {
	standardFlags(assetsCommand.Flags())
}
