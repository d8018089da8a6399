package main

import "github.com/spf13/pflag"

// standardFlags registers the flag conventions shared by every cfcache
// subcommand, grounded on the teacher's own reusable
// Register(flags *pflag.FlagSet) helpers (cmd/mutagen/common/templating).
func standardFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.BoolP("help", "h", false, "Show help information")
}
