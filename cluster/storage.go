package cluster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// readBufferPool recycles scratch buffers for variable-length string reads.
var readBufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 64*1024)
	},
}

// SaveCompressed writes the index as a zstd-compressed little-endian binary
// snapshot: sizes, options, nodes, points (shop ids length-prefixed), then
// the color palette.
func (sc *Supercluster) SaveCompressed(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}
	defer enc.Close()

	// Write sizes first for allocation
	binary.Write(enc, binary.LittleEndian, uint32(len(sc.Tree.Nodes)))
	binary.Write(enc, binary.LittleEndian, uint32(len(sc.Tree.Points)))
	binary.Write(enc, binary.LittleEndian, uint32(len(sc.Tree.Pool.Colors)))

	// Write Options
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.MinZoom))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.MaxZoom))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.MinPoints))
	binary.Write(enc, binary.LittleEndian, float64(sc.Options.Radius))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.NodeSize))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.Extent))

	// Write nodes
	for _, node := range sc.Tree.Nodes {
		binary.Write(enc, binary.LittleEndian, node.PointIdx)
		binary.Write(enc, binary.LittleEndian, node.Left)
		binary.Write(enc, binary.LittleEndian, node.Right)
		binary.Write(enc, binary.LittleEndian, node.Axis)
		binary.Write(enc, binary.LittleEndian, node.MinChild)
		binary.Write(enc, binary.LittleEndian, node.MaxChild)
	}

	// Write points
	for _, point := range sc.Tree.Points {
		binary.Write(enc, binary.LittleEndian, point.X)
		binary.Write(enc, binary.LittleEndian, point.Y)
		binary.Write(enc, binary.LittleEndian, point.ID)
		binary.Write(enc, binary.LittleEndian, point.NumPoints)
		binary.Write(enc, binary.LittleEndian, point.ColorIdx)

		shopID := []byte(point.ShopID)
		binary.Write(enc, binary.LittleEndian, uint32(len(shopID)))
		enc.Write(shopID)
	}

	// Write palette
	for _, color := range sc.Tree.Pool.Colors {
		colorBytes := []byte(color)
		binary.Write(enc, binary.LittleEndian, uint32(len(colorBytes)))
		enc.Write(colorBytes)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %v", err)
	}

	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %v", err)
	}

	return nil
}

// LoadCompressedSupercluster reads a snapshot written by SaveCompressed.
func LoadCompressedSupercluster(filename string) (*Supercluster, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer dec.Close()

	// Read sizes first
	var numNodes, numPoints, numColors uint32
	binary.Read(dec, binary.LittleEndian, &numNodes)
	binary.Read(dec, binary.LittleEndian, &numPoints)
	binary.Read(dec, binary.LittleEndian, &numColors)

	// Read options
	var minZoom, maxZoom, minPoints, nodeSize, extent int32
	var radius float64
	binary.Read(dec, binary.LittleEndian, &minZoom)
	binary.Read(dec, binary.LittleEndian, &maxZoom)
	binary.Read(dec, binary.LittleEndian, &minPoints)
	binary.Read(dec, binary.LittleEndian, &radius)
	binary.Read(dec, binary.LittleEndian, &nodeSize)
	binary.Read(dec, binary.LittleEndian, &extent)

	options := SuperclusterOptions{
		MinZoom:   int(minZoom),
		MaxZoom:   int(maxZoom),
		MinPoints: int(minPoints),
		Radius:    radius,
		NodeSize:  int(nodeSize),
		Extent:    int(extent),
	}

	// Create cluster with options
	sc := NewSupercluster(options)

	// Pre-allocate slices with exact sizes
	nodes := make([]KDNode, numNodes)
	points := make([]KDPoint, 0, numPoints)
	pool := &PalettePool{
		Colors: make([]string, 0, numColors),
		Lookup: make(map[string]int, numColors),
	}

	buf := readBufferPool.Get().([]byte)
	defer readBufferPool.Put(buf)

	for i := range nodes {
		binary.Read(dec, binary.LittleEndian, &nodes[i].PointIdx)
		binary.Read(dec, binary.LittleEndian, &nodes[i].Left)
		binary.Read(dec, binary.LittleEndian, &nodes[i].Right)
		binary.Read(dec, binary.LittleEndian, &nodes[i].Axis)
		binary.Read(dec, binary.LittleEndian, &nodes[i].MinChild)
		binary.Read(dec, binary.LittleEndian, &nodes[i].MaxChild)
	}

	for i := uint32(0); i < numPoints; i++ {
		var point KDPoint
		binary.Read(dec, binary.LittleEndian, &point.X)
		binary.Read(dec, binary.LittleEndian, &point.Y)
		binary.Read(dec, binary.LittleEndian, &point.ID)
		binary.Read(dec, binary.LittleEndian, &point.NumPoints)
		binary.Read(dec, binary.LittleEndian, &point.ColorIdx)

		var idSize uint32
		binary.Read(dec, binary.LittleEndian, &idSize)
		if idSize > 0 {
			idBuf := buf[:idSize]
			if _, err := io.ReadFull(dec, idBuf); err != nil {
				return nil, fmt.Errorf("failed to read shop id: %v", err)
			}
			point.ShopID = string(idBuf)
		}

		points = append(points, point)
	}

	for i := uint32(0); i < numColors; i++ {
		var colorSize uint32
		binary.Read(dec, binary.LittleEndian, &colorSize)

		colorBuf := buf[:colorSize]
		if _, err := io.ReadFull(dec, colorBuf); err != nil {
			return nil, fmt.Errorf("failed to read palette color: %v", err)
		}

		color := string(colorBuf)
		pool.Lookup[color] = len(pool.Colors)
		pool.Colors = append(pool.Colors, color)
	}

	// Build tree
	sc.Tree = &KDTree{
		Nodes:    nodes,
		Points:   points,
		NodeSize: options.NodeSize,
		Pool:     pool,
	}

	// Reconstruct the input points so a loaded index can be counted and
	// re-saved like a freshly built one.
	sc.Points = make([]Point, len(points))
	for i, p := range points {
		sc.Points[i] = Point{
			ID:     p.ID,
			X:      p.X,
			Y:      p.Y,
			ShopID: p.ShopID,
			Color:  pool.Get(p.ColorIdx),
		}
	}

	return sc, nil
}
