package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

// fileDefaultAssetsLoader implements assetcache.DefaultAssetsLoader by
// reading one asset ID per line from a plain text file, skipping blank
// lines and "#"-prefixed comments.
type fileDefaultAssetsLoader struct{}

func (fileDefaultAssetsLoader) Load(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open default assets list %s", path)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

func cacheDefaultAssetsMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("cachedefaultassets requires exactly one argument: path to a default-assets list file")
	}

	cache, err := loadCache()
	if err != nil {
		return err
	}

	count, err := cache.CacheDefaultAssets(fileDefaultAssetsLoader{}, arguments[0])
	if err != nil {
		return errors.Wrap(err, "unable to load default assets")
	}
	fmt.Printf("Marked %d asset(s) as default-asset allowlist entries\n", count)
	return nil
}

var cacheDefaultAssetsCommand = &cobra.Command{
	Use:   "cachedefaultassets <list-file>",
	Short: "Marks the IDs listed in a file as exempt from cleanup",
	Run:   cmd.Mainify(cacheDefaultAssetsMain),
}

func deleteDefaultAssetsMain(command *cobra.Command, arguments []string) error {
	cache, err := loadCache()
	if err != nil {
		return err
	}
	cache.DeleteDefaultAssets()
	return nil
}

var deleteDefaultAssetsCommand = &cobra.Command{
	Use:   "deletedefaultassets",
	Short: "Clears the default-asset allowlist, making those IDs eligible for cleanup again",
	Run:   cmd.Mainify(deleteDefaultAssetsMain),
}

func init() {
	for _, command := range []*cobra.Command{cacheDefaultAssetsCommand, deleteDefaultAssetsCommand} {
		standardFlags(command.Flags())
	}
}
