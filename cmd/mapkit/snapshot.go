package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jonwillington/filter-mapkit/cluster"
	"github.com/jonwillington/filter-mapkit/geo"
	"github.com/jonwillington/filter-mapkit/shop"
)

var (
	snapshotCatalog string
	snapshotShops   int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage cluster index snapshots",
}

var snapshotBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a snapshot from a catalog",
	Long: `Build a cluster index from a catalog (or a generated one) and save it
as a compressed snapshot in the configured snapshot directory.`,
	Run: runSnapshotBuild,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	Run:   runSnapshotList,
}

var snapshotInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show details of one snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotInfo,
}

func init() {
	snapshotBuildCmd.Flags().StringVar(&snapshotCatalog, "catalog", "", "catalog file to index (default: generate)")
	snapshotBuildCmd.Flags().IntVar(&snapshotShops, "shops", 500, "shops to generate when no catalog is given")

	snapshotCmd.AddCommand(snapshotBuildCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotInfoCmd)
}

func runSnapshotBuild(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	var shops []shop.Shop
	if snapshotCatalog != "" {
		loaded, err := shop.LoadCatalog(snapshotCatalog)
		if err != nil {
			exitError("%v", err)
		}
		shops = loaded
	} else {
		shops = shop.GenerateShops(snapshotShops, 42)
	}

	if err := os.MkdirAll(cfg.Server.SnapshotDir, 0755); err != nil {
		exitError("failed to create snapshot directory: %v", err)
	}

	sc := cluster.NewSupercluster(cluster.SuperclusterOptions{
		MinZoom:   0,
		MaxZoom:   cfg.Cluster.MaxZoom,
		MinPoints: cfg.Cluster.MinPoints,
		Radius:    cfg.Cluster.Radius,
		Extent:    512,
		NodeSize:  64,
	})
	sc.Load(geo.ClusterPoints(shops))

	path := cluster.SnapshotFilename(cfg.Server.SnapshotDir, len(sc.Points))
	if err := sc.SaveCompressed(path); err != nil {
		exitError("%v", err)
	}

	info, _ := os.Stat(path)
	color.New(color.FgGreen).Printf("Saved %s\n", path)
	fmt.Printf("  %d points from %d shops, %s\n", len(sc.Points), len(shops), fileSize(info.Size()))
}

func runSnapshotList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	snapshots, err := cluster.ListSnapshots(cfg.Server.SnapshotDir)
	if err != nil {
		exitError("%v", err)
	}
	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("%-14s %-10s %-10s %s\n", "ID", "POINTS", "SIZE", "SAVED")
	for _, s := range snapshots {
		fmt.Printf("%-14s %-10d %-10s %s\n",
			s.ID, s.NumPoints, fileSize(s.FileSize), s.Timestamp.Format("2006-01-02 15:04:05"))
	}
}

func runSnapshotInfo(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	info, err := cluster.FindSnapshot(cfg.Server.SnapshotDir, args[0])
	if err != nil {
		exitError("%v", err)
	}

	sc, err := cluster.LoadCompressedSupercluster(info.Path)
	if err != nil {
		exitError("%v", err)
	}
	clusters := sc.GetClusters(cluster.WorldBounds(), 2)

	color.New(color.FgCyan).Printf("Snapshot %s\n", info.ID)
	fmt.Printf("  Points:     %d\n", len(sc.Points))
	fmt.Printf("  Size:       %s\n", fileSize(info.FileSize))
	fmt.Printf("  Saved:      %s\n", info.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Zoom 2:     %d features\n", len(clusters))
	fmt.Printf("  Radius:     %.0f  MaxZoom: %d  MinPoints: %d\n",
		sc.Options.Radius, sc.Options.MaxZoom, sc.Options.MinPoints)
}

func fileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
