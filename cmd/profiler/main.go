package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/jonwillington/filter-mapkit/cluster"
	"github.com/jonwillington/filter-mapkit/geo"
	"github.com/jonwillington/filter-mapkit/shop"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to file")
	heapprofile = flag.String("heapprofile", "", "write heap profile to file")
	numShops    = flag.Int("shops", 100000, "number of shops to generate")
	zoomLevel   = flag.Int("zoom", 8, "zoom level to profile")
	testall     = flag.Bool("testall", false, "run the full battery")
)

func buildIndex(n int) *cluster.Supercluster {
	shops := shop.GenerateShops(n, 42)
	sc := cluster.NewSupercluster(cluster.SuperclusterOptions{
		MinZoom:   0,
		MaxZoom:   14,
		MinPoints: 2,
		Radius:    50,
		Extent:    512,
		NodeSize:  64,
	})
	sc.Load(geo.ClusterPoints(shops))
	return sc
}

func runSingleProfile(numShops, zoomLevel int) {
	fmt.Printf("Profiling with %d shops at zoom level %d\n", numShops, zoomLevel)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	buildStart := time.Now()
	sc := buildIndex(numShops)
	buildDuration := time.Since(buildStart)

	queryStart := time.Now()
	clusters := sc.GetClusters(cluster.WorldBounds(), zoomLevel)
	queryDuration := time.Since(queryStart)

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024

	fmt.Printf("Index built in %v\n", buildDuration)
	fmt.Printf("Query returned %d features in %v\n", len(clusters), queryDuration)
	fmt.Printf("Memory allocated: %.2f MB\n", allocMB)
	fmt.Printf("Memory usage: %.2f MB\n", float64(memStatsAfter.Alloc)/1024/1024)
}

func runProfileBattery() {
	shopCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []int{2, 5, 8, 12, 14}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-10s | %-10s | %-15s | %-12s | %-10s\n",
		"Shops", "Zoom", "Features", "Duration", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	for _, n := range shopCounts {
		sc := buildIndex(n)

		for _, zoom := range zoomLevels {
			var memStatsBefore, memStatsAfter runtime.MemStats
			runtime.ReadMemStats(&memStatsBefore)

			start := time.Now()
			clusters := sc.GetClusters(cluster.WorldBounds(), zoom)
			duration := time.Since(start)

			runtime.ReadMemStats(&memStatsAfter)
			memMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024
			gcRuns := memStatsAfter.NumGC - memStatsBefore.NumGC

			fmt.Printf("%-10d | %-10d | %-10d | %-15s | %-12.2f | %-10d\n",
				n, zoom, len(clusters), duration, memMB, gcRuns)
		}

		runExpansionBattery(sc)
		runSnapshotTiming(sc, n)
		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

// runExpansionBattery times expansion-zoom lookups over a mid-zoom query.
func runExpansionBattery(sc *cluster.Supercluster) {
	clusters := sc.GetClusters(cluster.WorldBounds(), 6)

	var ids []uint32
	for _, c := range clusters {
		if c.Count > 1 {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	for _, id := range ids {
		if _, err := sc.ExpansionZoom(id); err != nil {
			fmt.Printf("expansion zoom failed for cluster %d: %v\n", id, err)
		}
	}
	fmt.Printf("Expansion zoom: %d lookups in %v (%.2f µs/lookup)\n",
		len(ids), time.Since(start),
		float64(time.Since(start).Microseconds())/float64(len(ids)))
}

// runSnapshotTiming measures the save/load round trip for the index.
func runSnapshotTiming(sc *cluster.Supercluster, n int) {
	dir, err := os.MkdirTemp("", "mapkit-profile")
	if err != nil {
		fmt.Printf("could not create temp dir: %v\n", err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, fmt.Sprintf("profile-%d.zst", n))

	saveStart := time.Now()
	if err := sc.SaveCompressed(path); err != nil {
		fmt.Printf("save failed: %v\n", err)
		return
	}
	saveDuration := time.Since(saveStart)

	info, _ := os.Stat(path)

	loadStart := time.Now()
	if _, err := cluster.LoadCompressedSupercluster(path); err != nil {
		fmt.Printf("load failed: %v\n", err)
		return
	}
	loadDuration := time.Since(loadStart)

	fmt.Printf("Snapshot: save %v, load %v, %d bytes\n", saveDuration, loadDuration, info.Size())
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numShops, *zoomLevel)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()
		runtime.GC() // Get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}

	if *heapprofile != "" {
		f, err := os.Create(*heapprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create heap profile: %v\n", err)
			return
		}
		defer f.Close()

		memProfile := pprof.Lookup("heap")
		if memProfile == nil {
			fmt.Fprintf(os.Stderr, "Could not find heap profile\n")
			return
		}

		if err := memProfile.WriteTo(f, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write heap profile: %v\n", err)
		}
	}
}
