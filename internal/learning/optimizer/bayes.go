package optimizer

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ParamRange bounds one continuous search dimension
type ParamRange struct {
	Name string
	Min  float64
	Max  float64
}

const (
	bayesCandidates = 100
	rbfLengthScale  = 0.2
	gpNoise         = 1e-6
)

// OptimizeParametersBayesian searches the space with a Gaussian-process
// surrogate, spending nCalls evaluations of the scoring function. The
// score is negated internally so the surrogate minimizes.
func (so *StrategyOptimizer) OptimizeParametersBayesian(ctx context.Context, strategyID string,
	space []ParamRange, scoring ScoringFunc, nCalls int) (map[string]float64, error) {

	if !so.cfg.BayesianEnabled {
		so.logger.Info("Bayesian optimization is disabled")
		return map[string]float64{}, nil
	}
	if len(space) == 0 || nCalls <= 0 {
		return map[string]float64{}, nil
	}

	so.logger.Info("Starting Bayesian optimization",
		"strategy_id", strategyID,
		"dimensions", len(space),
		"n_calls", nCalls)

	rng := rand.New(rand.NewSource(42))
	dims := len(space)

	// Observations in the unit cube, objective negated for minimization
	var observedX [][]float64
	var observedY []float64

	evaluate := func(unit []float64) float64 {
		params := make(map[string]float64, dims)
		for i, r := range space {
			params[r.Name] = r.Min + unit[i]*(r.Max-r.Min)
		}
		return -scoring(params)
	}

	initPoints := so.cfg.BayesianInitPoints
	if initPoints <= 0 {
		initPoints = 10
	}
	if initPoints > nCalls {
		initPoints = nCalls
	}

	for i := 0; i < initPoints; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		point := randomUnit(rng, dims)
		observedX = append(observedX, point)
		observedY = append(observedY, evaluate(point))
	}

	for len(observedY) < nCalls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		gp, ok := fitGP(observedX, observedY)
		if !ok {
			// Singular kernel matrix, fall back to random exploration
			point := randomUnit(rng, dims)
			observedX = append(observedX, point)
			observedY = append(observedY, evaluate(point))
			continue
		}

		bestY := observedY[0]
		for _, y := range observedY {
			if y < bestY {
				bestY = y
			}
		}

		// Pick the candidate with the highest expected improvement
		var nextPoint []float64
		bestEI := -1.0
		for c := 0; c < bayesCandidates; c++ {
			candidate := randomUnit(rng, dims)
			mu, sigma := gp.predict(candidate)
			ei := expectedImprovement(bestY, mu, sigma)
			if ei > bestEI {
				bestEI = ei
				nextPoint = candidate
			}
		}

		observedX = append(observedX, nextPoint)
		observedY = append(observedY, evaluate(nextPoint))
	}

	// Best observation back in parameter space
	bestIdx := 0
	for i, y := range observedY {
		if y < observedY[bestIdx] {
			bestIdx = i
		}
	}
	bestParams := make(map[string]float64, dims)
	for i, r := range space {
		bestParams[r.Name] = r.Min + observedX[bestIdx][i]*(r.Max-r.Min)
	}
	bestScore := -observedY[bestIdx]

	if err := so.store.SaveOptimizationResult(ctx, strategyID,
		toInterfaceMap(bestParams), map[string]float64{"score": bestScore}, "bayesian"); err != nil {
		so.logger.WithError(err).Error("Failed to save Bayesian result", "strategy_id", strategyID)
	}

	so.logger.Info("Bayesian optimization completed",
		"strategy_id", strategyID,
		"best_score", bestScore)

	return bestParams, nil
}

func randomUnit(rng *rand.Rand, dims int) []float64 {
	point := make([]float64, dims)
	for i := range point {
		point[i] = rng.Float64()
	}
	return point
}

// gaussianProcess is an RBF-kernel GP posterior over observed points
type gaussianProcess struct {
	x     [][]float64
	chol  mat.Cholesky
	alpha *mat.VecDense
	meanY float64
}

// fitGP conditions the GP on the observations. Returns false when the
// kernel matrix is not positive definite.
func fitGP(x [][]float64, y []float64) (*gaussianProcess, bool) {
	n := len(x)

	meanY := 0.0
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)

	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := rbfKernel(x[i], x[j])
			if i == j {
				v += gpNoise
			}
			k.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, false
	}

	centered := mat.NewVecDense(n, nil)
	for i, v := range y {
		centered.SetVec(i, v-meanY)
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, centered); err != nil {
		return nil, false
	}

	return &gaussianProcess{x: x, chol: chol, alpha: alpha, meanY: meanY}, true
}

// predict returns the posterior mean and standard deviation at a point
func (gp *gaussianProcess) predict(point []float64) (mu, sigma float64) {
	n := len(gp.x)
	kStar := mat.NewVecDense(n, nil)
	for i, xi := range gp.x {
		kStar.SetVec(i, rbfKernel(point, xi))
	}

	mu = gp.meanY + mat.Dot(kStar, gp.alpha)

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, kStar); err != nil {
		return mu, 0
	}
	variance := rbfKernel(point, point) - mat.Dot(kStar, v)
	if variance < 0 {
		variance = 0
	}
	return mu, math.Sqrt(variance)
}

func rbfKernel(a, b []float64) float64 {
	dist := 0.0
	for i := range a {
		d := a[i] - b[i]
		dist += d * d
	}
	return math.Exp(-dist / (2 * rbfLengthScale * rbfLengthScale))
}

// expectedImprovement scores a candidate for a minimization objective
func expectedImprovement(bestY, mu, sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	improvement := bestY - mu
	z := improvement / sigma
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	return improvement*normal.CDF(z) + sigma*normal.Prob(z)
}
