package blackswan

import (
	"math"
	"math/rand"
	"sort"
)

const defaultSubsampleSize = 256

// forestNode is one node of an isolation tree. Leaves keep the count of
// training rows that reached them.
type forestNode struct {
	splitDim   int
	splitValue float64
	left       *forestNode
	right      *forestNode
	size       int
}

// IsolationForest isolates anomalies with an ensemble of randomized
// binary trees. Rows that isolate in few splits score as anomalous.
type IsolationForest struct {
	TreeCount     int
	Contamination float64

	trees       []*forestNode
	subsample   int
	scoreOffset float64
	rng         *rand.Rand
}

// NewIsolationForest builds an untrained forest with the given ensemble
// size and expected anomaly fraction
func NewIsolationForest(treeCount int, contamination float64) *IsolationForest {
	if treeCount <= 0 {
		treeCount = 100
	}
	if contamination <= 0 || contamination >= 0.5 {
		contamination = 0.1
	}
	return &IsolationForest{
		TreeCount:     treeCount,
		Contamination: contamination,
		rng:           rand.New(rand.NewSource(42)),
	}
}

// Fit trains the ensemble on the given feature matrix
func (f *IsolationForest) Fit(data [][]float64) {
	n := len(data)
	if n == 0 {
		return
	}

	f.subsample = defaultSubsampleSize
	if f.subsample > n {
		f.subsample = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(f.subsample))))

	f.trees = make([]*forestNode, 0, f.TreeCount)
	for t := 0; t < f.TreeCount; t++ {
		sample := make([][]float64, f.subsample)
		for i := range sample {
			sample[i] = data[f.rng.Intn(n)]
		}
		f.trees = append(f.trees, f.buildTree(sample, 0, heightLimit))
	}

	// The decision boundary sits at the contamination percentile of the
	// training scores
	scores := f.ScoreSamples(data)
	f.scoreOffset = percentile(scores, f.Contamination*100)
}

func (f *IsolationForest) buildTree(rows [][]float64, depth, heightLimit int) *forestNode {
	if depth >= heightLimit || len(rows) <= 1 {
		return &forestNode{size: len(rows)}
	}

	dims := len(rows[0])
	dim := f.rng.Intn(dims)

	minV, maxV := rows[0][dim], rows[0][dim]
	for _, row := range rows[1:] {
		if row[dim] < minV {
			minV = row[dim]
		}
		if row[dim] > maxV {
			maxV = row[dim]
		}
	}
	if minV == maxV {
		return &forestNode{size: len(rows)}
	}

	split := minV + f.rng.Float64()*(maxV-minV)

	var left, right [][]float64
	for _, row := range rows {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &forestNode{
		splitDim:   dim,
		splitValue: split,
		left:       f.buildTree(left, depth+1, heightLimit),
		right:      f.buildTree(right, depth+1, heightLimit),
		size:       len(rows),
	}
}

// Trained reports whether Fit has been called with data
func (f *IsolationForest) Trained() bool {
	return len(f.trees) > 0
}

// ScoreSamples returns anomaly scores in (-1, 0); lower means more
// anomalous
func (f *IsolationForest) ScoreSamples(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.ScoreSample(row)
	}
	return scores
}

// ScoreSample scores one feature vector
func (f *IsolationForest) ScoreSample(row []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}

	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avgPath := total / float64(len(f.trees))

	return -math.Pow(2, -avgPath/averagePathLength(f.subsample))
}

// Predict labels each row 1 for normal and -1 for anomalous, using the
// contamination threshold fixed at fit time
func (f *IsolationForest) Predict(data [][]float64) []int {
	labels := make([]int, len(data))
	for i, row := range data {
		if f.ScoreSample(row) < f.scoreOffset {
			labels[i] = -1
		} else {
			labels[i] = 1
		}
	}
	return labels
}

func pathLength(node *forestNode, row []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if row[node.splitDim] < node.splitValue {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful BST
// search over n rows
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
