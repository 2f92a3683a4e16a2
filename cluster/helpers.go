package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SnapshotInfo describes one saved index snapshot, parsed from its filename.
// Format: shops-{numPoints}p-{timestamp}-{id}.zst
type SnapshotInfo struct {
	ID        string    `json:"id"`
	NumPoints int       `json:"numPoints"`
	Timestamp time.Time `json:"timestamp"`
	FileSize  int64     `json:"fileSize"`
	Path      string    `json:"-"`
}

// SnapshotFilename produces a fresh snapshot path under dir.
func SnapshotFilename(dir string, numPoints int) string {
	timestamp := time.Now().Format("20060102-150405")
	id := uuid.New().String()[:8]
	return filepath.Join(dir, fmt.Sprintf("shops-%dp-%s-%s.zst", numPoints, timestamp, id))
}

func parseSnapshotName(path string, size int64) (SnapshotInfo, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".zst")
	parts := strings.Split(name, "-")
	if len(parts) != 5 || parts[0] != "shops" {
		return SnapshotInfo{}, false
	}

	numPoints, err := strconv.Atoi(strings.TrimSuffix(parts[1], "p"))
	if err != nil {
		return SnapshotInfo{}, false
	}

	timestamp, err := time.Parse("20060102-150405", parts[2]+"-"+parts[3])
	if err != nil {
		return SnapshotInfo{}, false
	}

	return SnapshotInfo{
		ID:        parts[4],
		NumPoints: numPoints,
		Timestamp: timestamp,
		FileSize:  size,
		Path:      path,
	}, true
}

// ListSnapshots returns every parseable snapshot in dir, newest first.
// Files that do not follow the naming scheme are skipped.
func ListSnapshots(dir string) ([]SnapshotInfo, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot dir: %v", err)
	}

	snapshots := make([]SnapshotInfo, 0)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".zst" {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		snap, ok := parseSnapshotName(filepath.Join(dir, file.Name()), info.Size())
		if !ok {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})

	return snapshots, nil
}

// FindSnapshot locates a snapshot in dir by its 8-char id.
func FindSnapshot(dir, id string) (SnapshotInfo, error) {
	snapshots, err := ListSnapshots(dir)
	if err != nil {
		return SnapshotInfo{}, err
	}
	for _, snap := range snapshots {
		if snap.ID == id {
			return snap, nil
		}
	}
	return SnapshotInfo{}, fmt.Errorf("snapshot with ID %s not found", id)
}

// FeatureSummary aggregates one GetClusters result set.
type FeatureSummary struct {
	TotalPoints     int                `json:"totalPoints"`
	NumClusters     int                `json:"numClusters"`
	NumSinglePoints int                `json:"numSinglePoints"`
	LargestCluster  int                `json:"largestCluster"`
	ColorShare      map[string]float64 `json:"colorShare"`
}

// Summarize describes the clusters returned for one viewport query: counts
// plus the percentage share of each display color, weighted by point count.
func Summarize(clusters []ClusterNode, pool *PalettePool) FeatureSummary {
	summary := FeatureSummary{
		ColorShare: make(map[string]float64),
	}

	if len(clusters) == 0 {
		return summary
	}

	colorCounts := make(map[string]int)
	for _, c := range clusters {
		if c.Count > 1 {
			summary.NumClusters++
		} else {
			summary.NumSinglePoints++
		}
		summary.TotalPoints += int(c.Count)
		if int(c.Count) > summary.LargestCluster {
			summary.LargestCluster = int(c.Count)
		}
		colorCounts[pool.Get(c.ColorIdx)] += int(c.Count)
	}

	for color, count := range colorCounts {
		summary.ColorShare[color] = float64(count) / float64(summary.TotalPoints) * 100
	}

	return summary
}
