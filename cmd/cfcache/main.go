// Command cfcache provides an operator-facing control surface for an
// asset cache directory: inspecting status, clearing tiers, running a
// deep-touch scan, expiring entries as of a given date, managing the
// default-assets allowlist, and pruning stale backup files.
//
// It is grounded on cmd/mutagen's per-subcommand-file layout and its root
// command's help/version handling (cmd/mutagen/main.go), adapted from a
// daemon-backed gRPC client to a direct, in-process user of
// pkg/assetcache, since this module has no daemon of its own.
package main

import (
	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

func rootMain(command *cobra.Command, arguments []string) {
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "cfcache",
	Short: "cfcache inspects and manages an OpenSim-style asset cache directory",
	Run:   rootMain,
}

var rootConfiguration struct {
	help       bool
	configPath string
	logLevel   string
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	persistent := rootCommand.PersistentFlags()
	persistent.StringVar(&rootConfiguration.configPath, "config", "", "Path to the cache TOML configuration file")
	persistent.StringVar(&rootConfiguration.logLevel, "log-level", "", "Logging level (disabled, error, warn, info, debug, trace); overrides the configuration file")

	rootCommand.AddCommand(
		statusCommand,
		clearCommand,
		clearNegativesCommand,
		assetsCommand,
		expireCommand,
		cacheDefaultAssetsCommand,
		deleteDefaultAssetsCommand,
		cleanBakCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		cmd.Fatal(err)
	}
}
