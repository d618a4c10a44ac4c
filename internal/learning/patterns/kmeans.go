package patterns

import (
	"math"
	"math/rand"
)

// StandardScaler normalizes features to zero mean and unit variance
type StandardScaler struct {
	Means []float64
	Stds  []float64
}

// Fit computes per-column mean and standard deviation
func (s *StandardScaler) Fit(data [][]float64) {
	if len(data) == 0 {
		return
	}
	cols := len(data[0])
	s.Means = make([]float64, cols)
	s.Stds = make([]float64, cols)

	for j := 0; j < cols; j++ {
		sum := 0.0
		for _, row := range data {
			sum += row[j]
		}
		mean := sum / float64(len(data))
		s.Means[j] = mean

		variance := 0.0
		for _, row := range data {
			d := row[j] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(len(data)))
		if std == 0 {
			std = 1
		}
		s.Stds[j] = std
	}
}

// Transform scales rows using the fitted parameters
func (s *StandardScaler) Transform(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Means[j]) / s.Stds[j]
		}
		out[i] = scaled
	}
	return out
}

// InverseTransform maps a scaled row back to original feature space
func (s *StandardScaler) InverseTransform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*s.Stds[j] + s.Means[j]
	}
	return out
}

// KMeans clusters observations into K groups by Euclidean distance
type KMeans struct {
	K        int
	MaxIter  int
	Centers  [][]float64
	rng      *rand.Rand
}

// NewKMeans creates a clusterer with a fixed seed for repeatable runs
func NewKMeans(k, maxIter int) *KMeans {
	if maxIter <= 0 {
		maxIter = 300
	}
	return &KMeans{
		K:       k,
		MaxIter: maxIter,
		rng:     rand.New(rand.NewSource(42)),
	}
}

// FitPredict clusters the data and returns each row's cluster index
func (km *KMeans) FitPredict(data [][]float64) []int {
	n := len(data)
	if n == 0 || km.K <= 0 {
		return nil
	}
	if km.K > n {
		km.K = n
	}
	dims := len(data[0])

	// Seed the first center from a random row, then pick each next center
	// as the row farthest from all chosen centers
	km.Centers = make([][]float64, 0, km.K)
	first := make([]float64, dims)
	copy(first, data[km.rng.Intn(n)])
	km.Centers = append(km.Centers, first)

	for len(km.Centers) < km.K {
		farthest := 0
		maxDist := -1.0
		for i, row := range data {
			dist := math.MaxFloat64
			for _, center := range km.Centers {
				d := squaredDistance(row, center)
				if d < dist {
					dist = d
				}
			}
			if dist > maxDist {
				maxDist = dist
				farthest = i
			}
		}
		center := make([]float64, dims)
		copy(center, data[farthest])
		km.Centers = append(km.Centers, center)
	}

	assignments := make([]int, n)
	for iter := 0; iter < km.MaxIter; iter++ {
		changed := false
		for i, row := range data {
			best := km.nearestCenter(row)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}

		// Recompute centers as cluster means
		sums := make([][]float64, km.K)
		counts := make([]int, km.K)
		for i := range sums {
			sums[i] = make([]float64, dims)
		}
		for i, row := range data {
			c := assignments[i]
			counts[c]++
			for j, v := range row {
				sums[c][j] += v
			}
		}
		for c := 0; c < km.K; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < dims; j++ {
				km.Centers[c][j] = sums[c][j] / float64(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	return assignments
}

func (km *KMeans) nearestCenter(row []float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for c, center := range km.Centers {
		dist := squaredDistance(row, center)
		if dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for j, v := range a {
		d := v - b[j]
		sum += d * d
	}
	return sum
}
