// Package vectorindex wraps an HNSW graph with the chunk metadata needed to
// persist one index per document and merge them into a collection composite.
package vectorindex

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const (
	// GraphExt is the artifact part holding the exported graph.
	GraphExt = "hnsw"
	// MetaExt is the artifact part holding chunk records.
	MetaExt = "meta"

	// Graph parameters, coder/hnsw recommendations.
	defaultM        = 16
	defaultEfSearch = 20
	defaultMl       = 0.25
)

// Parts lists the artifact extensions written by Save, in upload order.
var Parts = []string{GraphExt, MetaExt}

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrNoChunks          = errors.New("no chunks to index")
	ErrCorruptArtifact   = errors.New("corrupt index artifact")
)

// Chunk is a span of document text with its embedding.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Source     string
	Page       int
	Vector     []float32
}

// Result is a search hit.
type Result struct {
	Chunk Chunk
	Score float32
}

// Index is a searchable set of chunks. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	chunks  map[uint64]Chunk
	nextKey uint64
	dims    int
}

type record struct {
	Key   uint64
	Chunk Chunk
}

type metadata struct {
	Dims    int
	NextKey uint64
	Records []record
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = defaultM
	g.EfSearch = defaultEfSearch
	g.Ml = defaultMl
	return g
}

// New returns an empty index.
func New() *Index {
	return &Index{
		graph:  newGraph(),
		chunks: make(map[uint64]Chunk),
	}
}

// Build creates an index over chunks. Every vector must have the same length.
func Build(chunks []Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	ix := New()
	if err := ix.add(chunks); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Index) add(chunks []Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dims := ix.dims
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			return fmt.Errorf("chunk %s: %w: empty vector", c.ID, ErrDimensionMismatch)
		}
		if dims == 0 {
			dims = len(c.Vector)
		}
		if len(c.Vector) != dims {
			return fmt.Errorf("chunk %s: %w: expected %d, got %d", c.ID, ErrDimensionMismatch, dims, len(c.Vector))
		}
	}
	ix.dims = dims

	nodes := make([]hnsw.Node[uint64], 0, len(chunks))
	for _, c := range chunks {
		key := ix.nextKey
		ix.nextKey++

		vec := normalize(c.Vector)
		c.Vector = vec
		ix.chunks[key] = c
		nodes = append(nodes, hnsw.MakeNode(key, vec))
	}
	ix.graph.Add(nodes...)
	return nil
}

// Len returns the number of chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Dims returns the vector length, 0 for an empty index.
func (ix *Index) Dims() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dims
}

// Chunks returns a copy of every chunk ordered by ID.
func (ix *Index) Chunks() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Chunk, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		c.Vector = append([]float32(nil), c.Vector...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merge adds every chunk of other into ix. other is left unchanged.
func (ix *Index) Merge(other *Index) error {
	if other == nil || other == ix {
		return errors.New("cannot merge index into itself")
	}
	chunks := other.Chunks()
	if len(chunks) == 0 {
		return nil
	}
	return ix.add(chunks)
}

// Search returns the k chunks closest to query, best first. Every vector is
// scored, so results do not depend on insertion or merge order.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.chunks) == 0 {
		return []Result{}, nil
	}
	if len(query) != ix.dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, ix.dims, len(query))
	}

	q := normalize(query)

	results := make([]Result, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		results = append(results, Result{Chunk: c, Score: dot(q, c.Vector)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Save writes the index parts into dir as name.<ext> and returns their paths
// in Parts order.
func (ix *Index) Save(dir, name string) ([]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	graphPath := filepath.Join(dir, name+"."+GraphExt)
	if err := writeAtomic(graphPath, func(f *os.File) error { return ix.graph.Export(f) }); err != nil {
		return nil, fmt.Errorf("failed to export graph: %w", err)
	}

	meta := metadata{Dims: ix.dims, NextKey: ix.nextKey, Records: make([]record, 0, len(ix.chunks))}
	for key, c := range ix.chunks {
		meta.Records = append(meta.Records, record{Key: key, Chunk: c})
	}
	sort.Slice(meta.Records, func(i, j int) bool { return meta.Records[i].Key < meta.Records[j].Key })

	metaPath := filepath.Join(dir, name+"."+MetaExt)
	if err := writeAtomic(metaPath, func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}

	return []string{graphPath, metaPath}, nil
}

// Load reads an index previously written by Save.
func Load(dir, name string) (*Index, error) {
	metaFile, err := os.Open(filepath.Join(dir, name+"."+MetaExt))
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer metaFile.Close()

	var meta metadata
	if err := gob.NewDecoder(bufio.NewReader(metaFile)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrCorruptArtifact, err)
	}

	graphFile, err := os.Open(filepath.Join(dir, name+"."+GraphExt))
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer graphFile.Close()

	graph := newGraph()
	if err := graph.Import(bufio.NewReader(graphFile)); err != nil {
		return nil, fmt.Errorf("%w: import graph: %v", ErrCorruptArtifact, err)
	}
	if graph.Len() != len(meta.Records) {
		return nil, fmt.Errorf("%w: graph has %d nodes, metadata has %d records", ErrCorruptArtifact, graph.Len(), len(meta.Records))
	}

	ix := &Index{
		graph:   graph,
		chunks:  make(map[uint64]Chunk, len(meta.Records)),
		nextKey: meta.NextKey,
		dims:    meta.Dims,
	}
	for _, r := range meta.Records {
		if len(r.Chunk.Vector) != meta.Dims {
			return nil, fmt.Errorf("%w: chunk %s has %d dims", ErrCorruptArtifact, r.Chunk.ID, len(r.Chunk.Vector))
		}
		ix.chunks[r.Key] = r.Chunk
	}
	return ix, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
