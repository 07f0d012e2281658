// Package vector provides the persistent ANN index over chunk embeddings.
//
// The index is an HNSW graph (coder/hnsw) keyed directly by chunk id, with
// a gob sidecar recording the embedding dimension. Vectors are unit-L2
// normalized on the way in, so cosine similarity equals inner product.
// The on-disk checkpoint is the durable copy; the in-memory graph is the
// search copy, rebuilt from disk on open.
package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// ErrDimensionMismatch reports a vector whose dimension does not match the
// index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index expects %d, got %d", e.Expected, e.Got)
}

// Result is one nearest-neighbor hit. Score is the inner product against
// the query; with unit vectors it equals cosine similarity.
type Result struct {
	ChunkID int64
	Score   float32
}

// Config holds HNSW graph parameters.
type Config struct {
	M        int
	EfSearch int
}

// DefaultConfig returns the graph parameters used in production.
func DefaultConfig() Config {
	return Config{M: 16, EfSearch: 20}
}

// indexMeta is the gob sidecar written next to the graph checkpoint.
type indexMeta struct {
	Dimensions int
	Count      int
	Config     Config
}

// Index is a persistent, checkpoint-on-add vector index.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	path   string
	dim    int
	count  int
	config Config
	closed bool
}

// Open loads the index checkpoint at path, or creates an empty index with
// the given dimension when no checkpoint exists. When a checkpoint exists
// its recorded dimension is authoritative; a conflicting dim argument (> 0)
// returns ErrDimensionMismatch.
func Open(path string, dim int, cfg Config) (*Index, error) {
	if cfg.M == 0 {
		cfg = DefaultConfig()
	}

	idx := &Index{path: path, config: cfg}

	if _, err := os.Stat(path); err == nil {
		if err := idx.load(); err != nil {
			return nil, err
		}
		if dim > 0 && dim != idx.dim {
			return nil, ErrDimensionMismatch{Expected: idx.dim, Got: dim}
		}
		return idx, nil
	}

	if dim <= 0 {
		return nil, fmt.Errorf("cannot create vector index without a dimension")
	}

	idx.dim = dim
	idx.graph = newGraph(cfg)
	return idx, nil
}

func newGraph(cfg Config) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts vectors keyed by chunk id and checkpoints to disk before
// returning, so a crash after Add never loses accepted vectors.
func (x *Index) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != x.dim {
			return ErrDimensionMismatch{Expected: x.dim, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)
		x.graph.Add(hnsw.MakeNode(uint64(id), vec))
	}
	x.count = x.graph.Len()

	return x.checkpoint()
}

// Search returns the k nearest chunk ids by inner product, best first.
// An empty index returns no results rather than an error.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != x.dim {
		return nil, ErrDimensionMismatch{Expected: x.dim, Got: len(query)}
	}
	if x.graph.Len() == 0 || k <= 0 {
		return []*Result{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := x.graph.Search(q, k)

	results := make([]*Result, 0, len(nodes))
	for _, node := range nodes {
		// CosineDistance is 1 - cos; undo it to report the inner product.
		distance := x.graph.Distance(q, node.Value)
		results = append(results, &Result{
			ChunkID: int64(node.Key),
			Score:   1.0 - distance,
		})
	}
	return results, nil
}

// Count returns the number of indexed vectors.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0
	}
	return x.count
}

// Dim returns the embedding dimension.
func (x *Index) Dim() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// Path returns the checkpoint path.
func (x *Index) Path() string {
	return x.path
}

// SizeBytes returns the checkpoint file size, or 0 when none exists.
func (x *Index) SizeBytes() int64 {
	info, err := os.Stat(x.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// checkpoint writes the graph and sidecar atomically (tmp file + rename).
// Caller holds the write lock.
func (x *Index) checkpoint() error {
	if x.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmpPath := x.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := x.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, x.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return x.saveMeta()
}

func (x *Index) saveMeta() error {
	metaPath := x.path + ".meta"
	tmpPath := metaPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}

	meta := indexMeta{Dimensions: x.dim, Count: x.count, Config: x.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

// load reads the checkpoint and sidecar from disk.
func (x *Index) load() error {
	meta, err := readMeta(x.path + ".meta")
	if err != nil {
		return err
	}
	x.dim = meta.Dimensions
	x.count = meta.Count
	if meta.Config.M != 0 {
		x.config = meta.Config
	}

	x.graph = newGraph(x.config)

	file, err := os.Open(x.path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := x.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	x.count = x.graph.Len()
	return nil
}

// Close releases the in-memory graph. The checkpoint stays on disk.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

// ReadIndexDim reads the embedding dimension from an index checkpoint's
// sidecar without loading the graph. Returns 0 when no checkpoint exists.
func ReadIndexDim(path string) (int, error) {
	meta, err := readMeta(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Dimensions, nil
}

// ReadIndexCount reads the vector count from an index checkpoint's sidecar
// without loading the graph. Returns 0 when no checkpoint exists.
func ReadIndexCount(path string) (int, error) {
	meta, err := readMeta(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Count, nil
}

func readMeta(metaPath string) (indexMeta, error) {
	var meta indexMeta

	file, err := os.Open(metaPath)
	if err != nil {
		return meta, err
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("failed to decode index metadata: %w", err)
	}
	return meta, nil
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
