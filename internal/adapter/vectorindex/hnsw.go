package vectorindex

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Graph parameters. M follows the common sentence-transformers/FAISS default
// of 32 links per node.
const (
	DefaultM              = 32
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	DefaultSeed           = 42
)

type scoredNode struct {
	id  int
	sim float32
}

// graph is an hnsw.Graph keyed by arena position, scored by inner product.
// The library has a single beam width, so inserts run with efConstruction
// and each query sets its own ef; mu serializes both.
type graph struct {
	mu             sync.Mutex
	g              *hnsw.Graph[int]
	efConstruction int
	efSearch       int
}

func newGraph(p Params) *graph {
	g := hnsw.NewGraph[int]()
	g.M = p.M
	// Level ratio 1/M, as in the HNSW paper with mL = 1/ln(M).
	g.Ml = 1 / float64(p.M)
	g.Distance = innerProductDistance
	g.Rng = rand.New(rand.NewSource(p.Seed))
	g.EfSearch = p.EfSearch
	return &graph{
		g:              g,
		efConstruction: max(p.EfConstruction, p.M),
		efSearch:       p.EfSearch,
	}
}

// innerProductDistance turns similarity of unit vectors into a distance.
func innerProductDistance(a, b []float32) float32 {
	return 1 - dot(a, b)
}

// insert links the arena entries [from, from+len(vecs)) into the graph in
// arena order. Node levels come from the seeded Rng.
func (gr *graph) insert(from int, vecs [][]float32) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	nodes := make([]hnsw.Node[int], len(vecs))
	for i, v := range vecs {
		nodes[i] = hnsw.MakeNode(from+i, hnsw.Vector(v))
	}
	gr.g.EfSearch = gr.efConstruction
	gr.g.Add(nodes...)
	gr.g.EfSearch = gr.efSearch
}

// search returns the ids of up to k approximate neighbours of q.
func (gr *graph) search(q []float32, k, ef int) []int {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	if gr.g.Len() == 0 || k <= 0 {
		return nil
	}
	gr.g.EfSearch = max(ef, k)
	nodes := gr.g.Search(hnsw.Vector(q), k)
	gr.g.EfSearch = gr.efSearch

	ids := make([]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Key
	}
	return ids
}

// rank scores ids against q and orders them by descending similarity, ties
// by arena position.
func rank(q []float32, ids []int, vec func(int) []float32) []scoredNode {
	out := make([]scoredNode, len(ids))
	for i, id := range ids {
		out[i] = scoredNode{id: id, sim: dot(q, vec(id))}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].sim != out[j].sim {
			return out[i].sim > out[j].sim
		}
		return out[i].id < out[j].id
	})
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
