package anomaly

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	DefaultEstimators    = 100
	DefaultContamination = 0.05
	DefaultSeed          = 42
	defaultMaxSamples    = 256

	eulerGamma = 0.5772156649015329
)

// IsolationForest isolates points with random axis-aligned splits; points
// that need fewer splits to isolate are more anomalous. The decision offset
// is placed so that Contamination of the training set scores below zero.
type IsolationForest struct {
	NEstimators   int
	MaxSamples    int
	Contamination float64
	Seed          int64

	Trees      []Tree
	SampleSize int
	Features   int
	Offset     float64
}

// Tree is stored as parallel node arrays. Feature is -1 on leaves.
type Tree struct {
	Feature   []int
	Threshold []float64
	Left      []int
	Right     []int
	Size      []int
}

func NewIsolationForest(nEstimators int, contamination float64, seed int64) *IsolationForest {
	if nEstimators <= 0 {
		nEstimators = DefaultEstimators
	}
	if contamination <= 0 || contamination > 0.5 {
		contamination = DefaultContamination
	}
	return &IsolationForest{
		NEstimators:   nEstimators,
		MaxSamples:    defaultMaxSamples,
		Contamination: contamination,
		Seed:          seed,
	}
}

func (f *IsolationForest) Fit(X [][]float64) error {
	n := len(X)
	if n == 0 {
		return errors.New("isolation forest: empty training set")
	}
	dims := len(X[0])
	for i, row := range X {
		if len(row) != dims {
			return fmt.Errorf("isolation forest: row %d has %d features, want %d", i, len(row), dims)
		}
	}

	psi := f.MaxSamples
	if psi <= 0 || psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	rng := rand.New(rand.NewSource(f.Seed))
	trees := make([]Tree, 0, f.NEstimators)
	for t := 0; t < f.NEstimators; t++ {
		idx := rng.Perm(n)[:psi]
		b := treeBuilder{X: X, dims: dims, maxDepth: maxDepth, rng: rng}
		b.build(idx, 0)
		trees = append(trees, b.tree)
	}

	f.Trees = trees
	f.SampleSize = psi
	f.Features = dims

	scores := make([]float64, n)
	for i, row := range X {
		scores[i] = f.ScoreSamples(row)
	}
	f.Offset = percentile(scores, 100*f.Contamination)
	return nil
}

// ScoreSamples returns the opposite of the anomaly score, in [-1, 0).
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var depth float64
	for i := range f.Trees {
		depth += f.Trees[i].pathLength(x)
	}
	mean := depth / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

func (f *IsolationForest) DecisionFunction(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

func (f *IsolationForest) Predict(x []float64) int {
	if f.DecisionFunction(x) < 0 {
		return -1
	}
	return 1
}

func (f *IsolationForest) Fitted() bool {
	return len(f.Trees) > 0
}

func (f *IsolationForest) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	type plain IsolationForest
	if err := gob.NewEncoder(&buf).Encode((*plain)(f)); err != nil {
		return nil, fmt.Errorf("encode isolation forest: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *IsolationForest) UnmarshalBinary(data []byte) error {
	type plain IsolationForest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode((*plain)(f)); err != nil {
		return fmt.Errorf("decode isolation forest: %w", err)
	}
	if len(f.Trees) == 0 || f.SampleSize <= 0 {
		return errors.New("decode isolation forest: no trees")
	}
	return nil
}

type treeBuilder struct {
	X        [][]float64
	dims     int
	maxDepth int
	rng      *rand.Rand
	tree     Tree
}

func (b *treeBuilder) addNode(size int) int {
	b.tree.Feature = append(b.tree.Feature, -1)
	b.tree.Threshold = append(b.tree.Threshold, 0)
	b.tree.Left = append(b.tree.Left, -1)
	b.tree.Right = append(b.tree.Right, -1)
	b.tree.Size = append(b.tree.Size, size)
	return len(b.tree.Feature) - 1
}

func (b *treeBuilder) build(idx []int, depth int) int {
	node := b.addNode(len(idx))
	if depth >= b.maxDepth || len(idx) <= 1 {
		return node
	}

	// Draw features in random order until one is not constant on this node.
	for _, feature := range b.rng.Perm(b.dims) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.X[i][feature]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			continue
		}

		threshold := lo + b.rng.Float64()*(hi-lo)
		if threshold >= hi {
			threshold = lo
		}

		var left, right []int
		for _, i := range idx {
			if b.X[i][feature] <= threshold {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}

		b.tree.Feature[node] = feature
		b.tree.Threshold[node] = threshold
		l := b.build(left, depth+1)
		r := b.build(right, depth+1)
		b.tree.Left[node] = l
		b.tree.Right[node] = r
		return node
	}

	return node
}

func (t *Tree) pathLength(x []float64) float64 {
	node, depth := 0, 0
	for t.Feature[node] >= 0 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.Size[node])
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
