package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamenai/opensim-assetcache/cmd"
)

func statusMain(command *cobra.Command, arguments []string) error {
	cache, err := loadCache()
	if err != nil {
		return err
	}

	report := cache.Status()
	fmt.Printf("Requests:        %d\n", report.RequestsTotal)
	fmt.Printf("Weak hits:       %d\n", report.WeakHits)
	fmt.Printf("Memory hits:     %d\n", report.MemoryHits)
	fmt.Printf("Disk hits:       %d\n", report.DiskHits)
	fmt.Printf("Inflight joins:  %d\n", report.InflightJoins)
	fmt.Printf("Weak entries:    %d\n", report.ApproximateWeakEntries)
	fmt.Printf("Memory entries:  %d\n", report.MemoryEntries)
	fmt.Printf("Negative entries: %d\n", report.NegativeEntries)
	for region, timestamp := range report.RegionDeepScans {
		fmt.Printf("Region %s last deep scan: %d\n", region, timestamp)
	}
	return nil
}

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Displays cache request/hit counters and tier sizes",
	Run:   cmd.Mainify(statusMain),
}

func init() {
	standardFlags(statusCommand.Flags())
}
