package main

import (
	"github.com/pkg/errors"

	"github.com/jamenai/opensim-assetcache/pkg/assetcache"
	"github.com/jamenai/opensim-assetcache/pkg/logging"
)

// loadCache builds a Cache bound to the configured (or default) cache
// root, with no upstream and no attached scenes: every cfcache
// subcommand operates directly on the on-disk tier and in-memory tiers of
// a single process, rather than through a running simulator's live
// instance.
func loadCache() (*assetcache.Cache, error) {
	config := assetcache.Default()
	if rootConfiguration.configPath != "" {
		loaded, err := assetcache.Load(rootConfiguration.configPath)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load configuration")
		}
		config = loaded
	}
	if rootConfiguration.logLevel != "" {
		config.LogLevel = rootConfiguration.logLevel
	}

	return assetcache.New(config, nil, logging.RootLogger), nil
}
