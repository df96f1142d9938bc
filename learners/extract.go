package learners

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"forestbridge/internal/codec"
	"forestbridge/internal/engine"
)

// probSumTolerance bounds how far a probability row may drift from 1.0
// before it is reported. Out-of-tolerance rows are logged, not corrected.
const probSumTolerance = 1e-6

func extractRegression(res *engine.PredictionResult, n int, wantUncertainty bool) ([]float64, []float64, error) {
	point, err := codec.DecodeFloat64Vector(res.ExpectedValues())
	if err != nil {
		return nil, nil, fmt.Errorf("learners: decode expected values: %w", err)
	}
	if len(point) != n {
		return nil, nil, fmt.Errorf("learners: %d expected values for %d rows", len(point), n)
	}
	if !wantUncertainty {
		return point, nil, nil
	}

	ubuf, ok := res.Uncertainty()
	if !ok {
		return nil, nil, ErrUncertaintyUnavailable
	}
	uncertainty, err := codec.DecodeFloat64Vector(ubuf)
	if err != nil {
		return nil, nil, fmt.Errorf("learners: decode uncertainty: %w", err)
	}
	if len(uncertainty) != n {
		return nil, nil, fmt.Errorf("learners: %d uncertainty values for %d rows", len(uncertainty), n)
	}
	return point, uncertainty, nil
}

func extractLabels(res *engine.PredictionResult, n int) ([]int32, error) {
	labels, err := codec.DecodeInt32Vector(res.ExpectedValues())
	if err != nil {
		return nil, fmt.Errorf("learners: decode labels: %w", err)
	}
	if len(labels) != n {
		return nil, fmt.Errorf("learners: %d labels for %d rows", len(labels), n)
	}
	return labels, nil
}

func extractProbabilities(res *engine.PredictionResult, n, classCount int) ([][]float64, error) {
	buf, err := res.ClassProbabilities(classCount)
	if err != nil {
		return nil, err
	}
	probs, err := codec.DecodeFloat64Matrix(buf)
	if err != nil {
		return nil, fmt.Errorf("learners: decode class probabilities: %w", err)
	}
	if len(probs) != n {
		return nil, fmt.Errorf("learners: %d probability rows for %d inputs", len(probs), n)
	}
	for i, row := range probs {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1.0) > probSumTolerance {
			log.Warn().Int("row", i).Float64("sum", sum).Msg("probability row does not sum to 1")
		}
	}
	return probs, nil
}
