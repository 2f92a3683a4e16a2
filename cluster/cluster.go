package cluster

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
)

type KDNode struct {
	PointIdx int32  // index into points array
	Left     int32  // index into nodes array
	Right    int32  // index into nodes array
	Axis     uint8  // 0 or 1
	MinChild uint32
	MaxChild uint32
}

type KDTree struct {
	Nodes    []KDNode  // All nodes in a single slice
	Points   []KDPoint // All points in a single slice
	NodeSize int
	Bounds   KDBounds
	Pool     *PalettePool // Shared color palette
}

type KDPoint struct {
	X, Y      float32
	ID        uint32
	NumPoints uint32
	ColorIdx  uint32 // index into palette pool
	ShopID    string // stable shop identifier, carried through clustering
}

// Point is one input location: projected-ready lng/lat plus the shop's
// identity and resolved display color.
type Point struct {
	ID     uint32
	X, Y   float32
	ShopID string
	Color  string
}

// PalettePool deduplicates display colors so points and snapshots store a
// small index instead of repeated strings.
type PalettePool struct {
	Colors []string
	Lookup map[string]int // For deduplication
	mu     sync.RWMutex   // Protect concurrent access
}

// ClusterNode is one output feature: either an aggregate cluster (Count > 1,
// Children holds member point ids) or a single leaf (ShopID set).
type ClusterNode struct {
	ID       uint32
	X, Y     float32
	Count    uint32
	Children []uint32
	ColorIdx uint32
	ShopID   string
}

// Supercluster groups shop points into zoom-dependent clusters over a single
// KD-tree. Queries are stateless except for the member record kept for
// expansion-zoom lookups on the most recent query.
type Supercluster struct {
	Tree    *KDTree
	Points  []Point
	Options SuperclusterOptions

	mu      sync.Mutex
	members map[uint32]clusterRecord // cluster id -> members of last query
}

type clusterRecord struct {
	zoom    int
	members []uint32
}

type SuperclusterOptions struct {
	MinZoom   int
	MaxZoom   int
	MinPoints int
	Radius    float64
	NodeSize  int
	Extent    int
	Log       bool
}

// GeoJSON types
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ToGeoJSON converts the clusters for the given view into GeoJSON.
func (sc *Supercluster) ToGeoJSON(bounds KDBounds, zoom int) *FeatureCollection {
	clusters := sc.GetClusters(bounds, zoom)

	features := make([]Feature, len(clusters))
	for i, c := range clusters {
		properties := map[string]interface{}{
			"cluster":     c.Count > 1,
			"cluster_id":  c.ID,
			"point_count": c.Count,
			"color":       sc.Tree.Pool.Get(c.ColorIdx),
		}
		if c.ShopID != "" {
			properties["shopId"] = c.ShopID
		}

		features[i] = Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{float64(c.X), float64(c.Y)},
			},
			Properties: properties,
		}
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}

// NewSupercluster creates a new clustering instance with the specified options.
// It validates and sets default values for the options if not provided.
func NewSupercluster(options SuperclusterOptions) *Supercluster {
	if options.MinZoom < 0 {
		options.MinZoom = 0
	}
	if options.MaxZoom <= 0 {
		options.MaxZoom = 16
	}
	if options.NodeSize <= 0 {
		options.NodeSize = 64
	}
	if options.Extent <= 0 {
		options.Extent = 512
	}
	if options.Radius <= 0 {
		options.Radius = 40
	}
	if options.MinPoints <= 0 {
		options.MinPoints = 2
	}

	if options.MinZoom > options.MaxZoom {
		options.MinZoom = options.MaxZoom
	}
	if options.MaxZoom > 16 {
		options.MaxZoom = 16
	}

	return &Supercluster{
		Tree:    nil, // Initialized by Load
		Points:  nil,
		Options: options,
		members: make(map[uint32]clusterRecord),
	}
}

func (sc *Supercluster) logf(format string, args ...interface{}) {
	if sc.Options.Log {
		fmt.Printf(format, args...)
	}
}

func NewKDTree(points []KDPoint, nodeSize int, pool *PalettePool) *KDTree {
	maxNodes := len(points) * 2 // Worst case for a binary tree
	tree := &KDTree{
		Nodes:    make([]KDNode, 0, maxNodes),
		Points:   make([]KDPoint, len(points)),
		NodeSize: nodeSize,
		Pool:     pool,
	}

	// Copy points to avoid modifying input
	copy(tree.Points, points)

	bounds := KDBounds{
		MinX: float32(math.Inf(1)),
		MinY: float32(math.Inf(1)),
		MaxX: float32(math.Inf(-1)),
		MaxY: float32(math.Inf(-1)),
	}
	for _, p := range points {
		bounds.Extend(p.X, p.Y)
	}
	tree.Bounds = bounds

	if len(points) > 0 {
		tree.buildNodes(0, len(points)-1, 0)
	}

	return tree
}

func (t *KDTree) buildNodes(start, end, depth int) int32 {
	if start > end {
		return -1
	}

	nodeIdx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, KDNode{})
	node := &t.Nodes[nodeIdx]

	if end-start <= t.NodeSize {
		node.PointIdx = int32(start)
		node.Left = -1
		node.Right = -1
		setMinMaxChild(node, t.Points[start:end+1])
		return nodeIdx
	}

	axis := depth % 2
	median := (start + end) / 2

	sortPointsRange(t.Points[start:end+1], axis)

	node.PointIdx = int32(median)
	node.Axis = uint8(axis)

	node.Left = t.buildNodes(start, median-1, depth+1)
	node.Right = t.buildNodes(median+1, end, depth+1)

	setMinMaxChild(node, t.Points[start:end+1])
	return nodeIdx
}

func setMinMaxChild(node *KDNode, points []KDPoint) {
	node.MinChild = points[0].ID
	node.MaxChild = points[0].ID
	for _, p := range points[1:] {
		if p.ID < node.MinChild {
			node.MinChild = p.ID
		}
		if p.ID > node.MaxChild {
			node.MaxChild = p.ID
		}
	}
}

func sortPointsRange(points []KDPoint, axis int) {
	if axis == 0 {
		sort.Slice(points, func(i, j int) bool {
			return points[i].X < points[j].X
		})
	} else {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Y < points[j].Y
		})
	}
}

func NewPalettePool() *PalettePool {
	return &PalettePool{
		Colors: make([]string, 0),
		Lookup: make(map[string]int),
	}
}

// Add inserts a color into the pool and returns its index.
func (pp *PalettePool) Add(color string) uint32 {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if idx, exists := pp.Lookup[color]; exists {
		return uint32(idx)
	}

	idx := len(pp.Colors)
	pp.Colors = append(pp.Colors, color)
	pp.Lookup[color] = idx

	return uint32(idx)
}

// Get retrieves a color by index.
func (pp *PalettePool) Get(idx uint32) string {
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	if int(idx) >= len(pp.Colors) {
		return ""
	}
	return pp.Colors[idx]
}

// Cleanup releases memory held by the index.
func (sc *Supercluster) Cleanup() {
	if sc == nil {
		return
	}

	if sc.Tree != nil {
		sc.Tree.Nodes = nil
		sc.Tree.Points = nil
		if sc.Tree.Pool != nil {
			sc.Tree.Pool.Colors = nil
			sc.Tree.Pool.Lookup = nil
			sc.Tree.Pool = nil
		}
		sc.Tree = nil
	}

	sc.Points = nil
	sc.mu.Lock()
	sc.members = nil
	sc.mu.Unlock()

	runtime.GC()
	debug.FreeOSMemory()
}

// LoadBatched loads points in batches to cap peak memory on large catalogs.
func (sc *Supercluster) LoadBatched(points []Point, batchSize int) {
	totalPoints := len(points)
	pool := NewPalettePool()

	for i := 0; i < totalPoints; i += batchSize {
		end := i + batchSize
		if end > totalPoints {
			end = totalPoints
		}

		batch := points[i:end]
		sc.processBatch(batch, pool)

		if i > 0 && i%(batchSize*10) == 0 {
			runtime.GC()
		}
	}
}

func (sc *Supercluster) processBatch(batch []Point, pool *PalettePool) {
	kdPoints := make([]KDPoint, len(batch))

	for i, p := range batch {
		kdPoints[i] = KDPoint{
			X:         p.X,
			Y:         p.Y,
			ID:        p.ID,
			NumPoints: 1,
			ColorIdx:  pool.Add(p.Color),
			ShopID:    p.ShopID,
		}
	}

	if sc.Tree == nil {
		sc.Tree = NewKDTree(kdPoints, sc.Options.NodeSize, pool)
	} else {
		for _, point := range kdPoints {
			sc.Tree.Insert(point)
		}
	}

	sc.Points = append(sc.Points, batch...)
}

// Insert adds a new point to an existing KDTree
func (t *KDTree) Insert(point KDPoint) {
	if len(t.Nodes) == 0 {
		t.Nodes = append(t.Nodes, KDNode{
			PointIdx: 0,
			Left:     -1,
			Right:    -1,
			Axis:     0,
			MinChild: point.ID,
			MaxChild: point.ID,
		})
		t.Points = append(t.Points, point)
		return
	}

	t.Bounds.Extend(point.X, point.Y)

	pointIdx := int32(len(t.Points))
	t.Points = append(t.Points, point)

	t.insertNode(0, pointIdx, 0)
}

func (t *KDTree) insertNode(nodeIdx int32, pointIdx int32, depth int) {
	if nodeIdx < 0 || int(nodeIdx) >= len(t.Nodes) {
		return
	}

	node := &t.Nodes[nodeIdx]
	newPoint := t.Points[pointIdx]

	if newPoint.ID < node.MinChild {
		node.MinChild = newPoint.ID
	}
	if newPoint.ID > node.MaxChild {
		node.MaxChild = newPoint.ID
	}

	axis := depth % 2

	var compareVal, nodeVal float32
	if axis == 0 {
		compareVal = newPoint.X
		nodeVal = t.Points[node.PointIdx].X
	} else {
		compareVal = newPoint.Y
		nodeVal = t.Points[node.PointIdx].Y
	}

	if compareVal < nodeVal {
		if node.Left == -1 {
			newNodeIdx := int32(len(t.Nodes))
			t.Nodes = append(t.Nodes, KDNode{
				PointIdx: pointIdx,
				Left:     -1,
				Right:    -1,
				Axis:     uint8((axis + 1) % 2),
				MinChild: newPoint.ID,
				MaxChild: newPoint.ID,
			})
			node.Left = newNodeIdx
		} else {
			t.insertNode(node.Left, pointIdx, depth+1)
		}
	} else {
		if node.Right == -1 {
			newNodeIdx := int32(len(t.Nodes))
			t.Nodes = append(t.Nodes, KDNode{
				PointIdx: pointIdx,
				Left:     -1,
				Right:    -1,
				Axis:     uint8((axis + 1) % 2),
				MinChild: newPoint.ID,
				MaxChild: newPoint.ID,
			})
			node.Right = newNodeIdx
		} else {
			t.insertNode(node.Right, pointIdx, depth+1)
		}
	}
}

// Load initializes the index with points
func (sc *Supercluster) Load(points []Point) {
	sc.logf("Loading %d points\n", len(points))

	pool := NewPalettePool()
	kdPoints := make([]KDPoint, len(points))

	for i, p := range points {
		kdPoints[i] = KDPoint{
			X:         p.X,
			Y:         p.Y,
			ID:        p.ID,
			NumPoints: 1,
			ColorIdx:  pool.Add(p.Color),
			ShopID:    p.ShopID,
		}
	}

	sc.Points = points
	sc.Tree = NewKDTree(kdPoints, sc.Options.NodeSize, pool)
}

// GetClusters returns clusters for the given bounds and zoom level. Member
// ids of every emitted cluster are recorded so ExpansionZoom can answer for
// them. Cluster ids are stable across queries, so records from earlier
// queries stay resolvable after later ones.
func (sc *Supercluster) GetClusters(bounds KDBounds, zoom int) []ClusterNode {
	sc.logf("Getting clusters for zoom level %d\n", zoom)
	sc.logf("Bounds: MinX: %f, MinY: %f, MaxX: %f, MaxY: %f\n",
		bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)

	if sc.Tree == nil {
		return nil
	}

	// Project bounds to tile space for current zoom level
	minP := sc.projectFast(bounds.MinX, bounds.MaxY, zoom)
	maxP := sc.projectFast(bounds.MaxX, bounds.MinY, zoom)

	var points []KDPoint
	for _, p := range sc.Tree.Points {
		proj := sc.projectFast(p.X, p.Y, zoom)
		if proj[0] >= minP[0] && proj[0] <= maxP[0] &&
			proj[1] >= minP[1] && proj[1] <= maxP[1] {
			points = append(points, p)
		}
	}

	projectedPoints := sc.projectPoints(points, zoom)

	var clusters []ClusterNode
	if zoom > sc.Options.MaxZoom {
		// Clustering stops above the max cluster zoom; everything is a leaf.
		clusters = sc.leafNodes(projectedPoints)
	} else {
		radius := sc.radiusAt(zoom)
		clusters = sc.clusterPoints(projectedPoints, radius, zoom)
	}

	sc.mu.Lock()
	if sc.members == nil {
		sc.members = make(map[uint32]clusterRecord)
	}
	for _, c := range clusters {
		if c.Count > 1 {
			sc.members[c.ID] = clusterRecord{zoom: zoom, members: c.Children}
		}
	}
	sc.mu.Unlock()

	// Convert back to lng/lat
	for i := range clusters {
		unproj := sc.unprojectFast(clusters[i].X, clusters[i].Y, zoom)
		clusters[i].X = unproj[0]
		clusters[i].Y = unproj[1]
	}

	return clusters
}

func (sc *Supercluster) radiusAt(zoom int) float32 {
	zoomFactor := math.Pow(2, float64(sc.Options.MaxZoom-zoom))
	return float32(sc.Options.Radius * zoomFactor / float64(sc.Options.Extent))
}

func (sc *Supercluster) projectPoints(points []KDPoint, zoom int) []KDPoint {
	projectedPoints := make([]KDPoint, 0, len(points))

	for _, p := range points {
		proj := sc.projectFast(p.X, p.Y, zoom)
		projectedPoints = append(projectedPoints, KDPoint{
			X:         proj[0],
			Y:         proj[1],
			ID:        p.ID,
			NumPoints: p.NumPoints,
			ColorIdx:  p.ColorIdx,
			ShopID:    p.ShopID,
		})
	}

	return projectedPoints
}

func (sc *Supercluster) leafNodes(points []KDPoint) []ClusterNode {
	nodes := make([]ClusterNode, len(points))
	for i, p := range points {
		nodes[i] = ClusterNode{
			ID:       p.ID,
			X:        p.X,
			Y:        p.Y,
			Count:    p.NumPoints,
			ColorIdx: p.ColorIdx,
			ShopID:   p.ShopID,
		}
	}
	return nodes
}

func (sc *Supercluster) clusterPoints(points []KDPoint, radius float32, zoom int) []ClusterNode {
	sc.logf("Clustering %d points with radius %f\n", len(points), radius)

	var clusters []ClusterNode
	processed := make(map[uint32]bool)

	for _, p := range points {
		if processed[p.ID] {
			continue
		}

		var nearby []KDPoint
		for _, other := range points {
			if other.ID == p.ID || processed[other.ID] {
				continue
			}

			dx := other.X - p.X
			dy := other.Y - p.Y
			if dx*dx+dy*dy <= radius*radius {
				nearby = append(nearby, other)
			}
		}

		// Group size includes the seed point.
		if len(nearby)+1 >= sc.Options.MinPoints && len(nearby) > 0 {
			cluster := createCluster(append(nearby, p), sc.Tree.Pool, zoom)
			clusters = append(clusters, cluster)

			for _, np := range nearby {
				processed[np.ID] = true
			}
			processed[p.ID] = true
		} else {
			clusters = append(clusters, ClusterNode{
				ID:       p.ID,
				X:        p.X,
				Y:        p.Y,
				Count:    p.NumPoints,
				ColorIdx: p.ColorIdx,
				ShopID:   p.ShopID,
			})
			processed[p.ID] = true
		}
	}

	sc.logf("Created %d clusters from %d points\n", len(clusters), len(points))
	return clusters
}

func createCluster(points []KDPoint, pool *PalettePool, zoom int) ClusterNode {
	if len(points) == 0 {
		return ClusterNode{}
	}

	var sumX, sumY float64
	var totalPoints uint32
	children := make([]uint32, 0, len(points))
	colorWeights := make(map[uint32]float64)

	for _, p := range points {
		weight := float64(p.NumPoints)
		sumX += float64(p.X) * weight
		sumY += float64(p.Y) * weight
		totalPoints += p.NumPoints
		children = append(children, p.ID)
		colorWeights[p.ColorIdx] += weight
	}

	invTotal := 1.0 / float64(totalPoints)
	cluster := ClusterNode{
		ID:       clusterID(children, zoom),
		X:        float32(sumX * invTotal),
		Y:        float32(sumY * invTotal),
		Count:    totalPoints,
		Children: children,
		ColorIdx: dominantColor(colorWeights),
	}

	if len(points) == 1 {
		cluster.ShopID = points[0].ShopID
	}

	return cluster
}

// clusterID hashes the sorted member set and zoom so the same cluster gets
// the same id every query. The high bit keeps synthetic cluster ids out of
// the point-id space.
func clusterID(children []uint32, zoom int) uint32 {
	sorted := make([]uint32, len(children))
	copy(sorted, children)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := fnv.New32a()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(zoom))
	h.Write(buf[:])
	for _, id := range sorted {
		binary.LittleEndian.PutUint32(buf[:], id)
		h.Write(buf[:])
	}
	return h.Sum32() | 1<<31
}

// dominantColor picks the heaviest palette entry; ties break toward the
// lower index so the result is deterministic.
func dominantColor(weights map[uint32]float64) uint32 {
	var best uint32
	bestWeight := -1.0
	for idx, w := range weights {
		if w > bestWeight || (w == bestWeight && idx < best) {
			best = idx
			bestWeight = w
		}
	}
	return best
}

// ExpansionZoom reports the smallest zoom at which the given cluster (from
// the most recent GetClusters call) breaks apart. Members that never
// separate, such as co-located shops, report the max cluster zoom.
func (sc *Supercluster) ExpansionZoom(clusterID uint32) (int, error) {
	sc.mu.Lock()
	rec, ok := sc.members[clusterID]
	sc.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown cluster id %d", clusterID)
	}

	members := sc.pointsByID(rec.members)
	if len(members) == 0 {
		return 0, fmt.Errorf("cluster %d has no member points", clusterID)
	}

	for z := rec.zoom + 1; z <= sc.Options.MaxZoom; z++ {
		if sc.splitsAt(members, z) {
			return z, nil
		}
	}
	return sc.Options.MaxZoom, nil
}

func (sc *Supercluster) pointsByID(ids []uint32) []KDPoint {
	want := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []KDPoint
	for _, p := range sc.Tree.Points {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// splitsAt reports whether the members no longer form a single group when
// clustered at the given zoom.
func (sc *Supercluster) splitsAt(members []KDPoint, zoom int) bool {
	projected := sc.projectPoints(members, zoom)
	radius := sc.radiusAt(zoom)

	// Single-linkage reachability from the first point.
	reached := make(map[uint32]bool, len(projected))
	queue := []KDPoint{projected[0]}
	reached[projected[0].ID] = true

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, other := range projected {
			if reached[other.ID] {
				continue
			}
			dx := other.X - cur.X
			dy := other.Y - cur.Y
			if dx*dx+dy*dy <= radius*radius {
				reached[other.ID] = true
				queue = append(queue, other)
			}
		}
	}

	return len(reached) < len(projected)
}

type KDBounds struct {
	MinX, MinY, MaxX, MaxY float32
}

// WorldBounds covers the full usable mercator extent.
func WorldBounds() KDBounds {
	return KDBounds{MinX: -180, MinY: -85, MaxX: 180, MaxY: 85}
}

// Extend expands bounds to include another point
func (b *KDBounds) Extend(x, y float32) {
	b.MinX = float32(math.Min(float64(b.MinX), float64(x)))
	b.MinY = float32(math.Min(float64(b.MinY), float64(y)))
	b.MaxX = float32(math.Max(float64(b.MaxX), float64(x)))
	b.MaxY = float32(math.Max(float64(b.MaxY), float64(y)))
}

// projectFast converts lng/lat to tile coordinates
func (sc *Supercluster) projectFast(lng, lat float32, zoom int) [2]float32 {
	sin := float32(math.Sin(float64(lat) * math.Pi / 180))
	x := (lng + 180) / 360
	y := float32(0.5 - 0.25*math.Log(float64((1+sin)/(1-sin)))/math.Pi)

	scale := float32(math.Pow(2, float64(zoom)))
	return [2]float32{
		x * scale * float32(sc.Options.Extent),
		y * scale * float32(sc.Options.Extent),
	}
}

// unprojectFast converts tile coordinates back to lng/lat
func (sc *Supercluster) unprojectFast(x, y float32, zoom int) [2]float32 {
	scale := float32(math.Pow(2, float64(zoom)))

	x = x / (scale * float32(sc.Options.Extent))
	y = y / (scale * float32(sc.Options.Extent))

	lng := x*360 - 180
	lat := float32(math.Atan(math.Sinh(float64(math.Pi*(1-2*y))))) * 180 / math.Pi

	return [2]float32{lng, lat}
}
