package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

func clearMain(command *cobra.Command, arguments []string) error {
	var file, memory bool
	for _, arg := range arguments {
		switch arg {
		case "file":
			file = true
		case "memory":
			memory = true
		default:
			return errors.Errorf("unrecognized clear tier %q (expected \"file\" or \"memory\")", arg)
		}
	}

	cache, err := loadCache()
	if err != nil {
		return err
	}

	switch {
	case file && memory, !file && !memory:
		cache.Clear()
	case file:
		cache.ClearFile()
	case memory:
		cache.ClearMemory()
	}
	return nil
}

var clearCommand = &cobra.Command{
	Use:   "clear [file] [memory]",
	Short: "Drops shard directories and/or resets the weak, memory, and negative tiers",
	Long: "Clears the cache. With no arguments, clears every tier. " +
		"Pass \"file\" and/or \"memory\" to scope the clear to just the on-disk " +
		"shard tree or just the weak/memory/negative tiers.",
	Run: cmd.Mainify(clearMain),
}

func init() {
	standardFlags(clearCommand.Flags())
}
