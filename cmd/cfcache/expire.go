package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
	"github.com/jamenai/opensim-assetcache/pkg/assetcache"
)

func expireMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("expire requires exactly one argument: <datetime|now>")
	}

	purgeLine, err := assetcache.ParsePurgeLine(arguments[0])
	if err != nil {
		return errors.Wrap(err, "invalid expiry datetime")
	}

	cache, err := loadCache()
	if err != nil {
		return err
	}
	cache.ExpireAt(purgeLine)
	return nil
}

var expireCommand = &cobra.Command{
	Use:   "expire <datetime|now>",
	Short: "Runs the cleanup sweep using the given purge line instead of the scheduled timer",
	Run:   cmd.Mainify(expireMain),
}

func init() {
	standardFlags(expireCommand.Flags())
}
