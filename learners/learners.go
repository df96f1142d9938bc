// Package learners provides the caller-facing estimator API. A learner
// offers the conventional fit/predict surface while delegating all model
// training and inference to the external forest engine through the bridge.
//
// A learner is either untrained or trained. Fit is always legal: a
// successful fit stores the returned model handle (replacing any previous
// one); a failed fit leaves the prior state untouched. Predict calls on an
// untrained learner fail with ErrNotFitted before any engine call is made.
//
// Learners are not safe for concurrent fit/predict calls on one instance;
// callers needing that must serialize externally.
package learners

import (
	"context"
	"errors"
	"fmt"

	"forestbridge/internal/codec"
	"forestbridge/internal/dataset"
	"forestbridge/internal/engine"
)

var (
	// ErrNotFitted is returned by predict calls on an untrained learner.
	ErrNotFitted = errors.New("learners: model is not fitted")

	// ErrUncertaintyUnavailable is returned when uncertainty was requested
	// but the engine's result carries none. It is never silently defaulted
	// to zeros.
	ErrUncertaintyUnavailable = errors.New("learners: engine result carries no uncertainty")
)

// Forest holds the random-forest parameters. The set is fixed at learner
// construction and never mutated after the first fit.
type Forest struct {
	NumTrees       int             // -1 lets the engine choose
	UseJackknife   bool            // enables uncertainty estimation
	SubsetStrategy int             // feature subset strategy code
	Order          codec.ByteOrder // wire endianness, little-endian when empty
}

// DefaultForest mirrors the engine's stock configuration.
func DefaultForest() Forest {
	return Forest{NumTrees: -1, UseJackknife: true, SubsetStrategy: 4, Order: codec.LittleEndian}
}

type baseForest struct {
	bridge engine.Bridge
	cfg    engine.LearnerConfig
	order  codec.ByteOrder

	model engine.ModelHandle
	cols  int
}

func newBase(bridge engine.Bridge, f Forest, kind engine.OutputKind) baseForest {
	order := f.Order
	if order == "" {
		order = codec.LittleEndian
	}
	return baseForest{
		bridge: bridge,
		order:  order,
		cfg: engine.LearnerConfig{
			Family:         "random-forest",
			OutputKind:     kind,
			NumTrees:       f.NumTrees,
			UseJackknife:   f.UseJackknife,
			SubsetStrategy: f.SubsetStrategy,
		},
	}
}

// Fitted reports whether the learner holds a trained model handle.
func (b *baseForest) Fitted() bool { return !b.model.Zero() }

// ModelID returns the engine-side id of the current model, for audit records.
// Empty while untrained.
func (b *baseForest) ModelID() string { return b.model.ID() }

// fit builds a fresh engine learner, transfers the bundle, verifies the
// engine's receipt against what was sent, and only then replaces the model
// handle. Any failure leaves the previous handle in place.
func (b *baseForest) fit(ctx context.Context, bundle *dataset.Bundle) error {
	learner, err := b.bridge.BuildLearner(ctx, b.cfg)
	if err != nil {
		return err
	}
	model, receipt, err := b.bridge.Train(ctx, learner, bundle)
	if err != nil {
		return err
	}
	if err := bundle.VerifyReceipt(receipt.Rows, receipt.Cols, receipt.WeightRows); err != nil {
		return err
	}
	b.model = model
	b.cols = bundle.Cols()
	return nil
}

// infer encodes the feature matrix and runs it through the current model.
// The returned result must be fully consumed before the predict call that
// requested it returns.
func (b *baseForest) infer(ctx context.Context, x [][]float64, opts engine.InferOptions) (*engine.PredictionResult, error) {
	if b.model.Zero() {
		return nil, ErrNotFitted
	}
	if len(x) == 0 {
		return nil, &dataset.ShapeError{Field: "prediction features", Want: 1, Got: 0}
	}
	for i, row := range x {
		if len(row) != b.cols {
			return nil, &dataset.ShapeError{Field: fmt.Sprintf("prediction row %d", i), Want: b.cols, Got: len(row)}
		}
	}
	buf, err := codec.EncodeFloat64Matrix(x, b.order)
	if err != nil {
		return nil, err
	}
	return b.bridge.Infer(ctx, b.model, buf, opts)
}

// RandomForestRegressor fits random forests with float64 targets.
type RandomForestRegressor struct {
	baseForest
}

// NewRandomForestRegressor creates a regressor over the given bridge.
func NewRandomForestRegressor(bridge engine.Bridge, f Forest) *RandomForestRegressor {
	return &RandomForestRegressor{baseForest: newBase(bridge, f, engine.Regression)}
}

// Fit trains a new model. A nil weights slice becomes a vector of ones.
func (r *RandomForestRegressor) Fit(ctx context.Context, x [][]float64, y []float64, weights []float64) error {
	bundle, err := dataset.AssembleRegression(x, y, weights, r.order)
	if err != nil {
		return err
	}
	return r.fit(ctx, bundle)
}

// Predict returns the point estimate for each row of x.
func (r *RandomForestRegressor) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	res, err := r.infer(ctx, x, engine.InferOptions{})
	if err != nil {
		return nil, err
	}
	point, _, err := extractRegression(res, len(x), false)
	return point, err
}

// PredictWithUncertainty returns point estimates and the per-row uncertainty.
// It fails with ErrUncertaintyUnavailable if the engine's result carries no
// uncertainty section (e.g. the forest was built without jackknife).
func (r *RandomForestRegressor) PredictWithUncertainty(ctx context.Context, x [][]float64) ([]float64, []float64, error) {
	res, err := r.infer(ctx, x, engine.InferOptions{WantUncertainty: true})
	if err != nil {
		return nil, nil, err
	}
	return extractRegression(res, len(x), true)
}

// RandomForestClassifier fits random forests over int32 class labels.
type RandomForestClassifier struct {
	baseForest
	classCount int
}

// NewRandomForestClassifier creates a classifier over the given bridge.
func NewRandomForestClassifier(bridge engine.Bridge, f Forest) *RandomForestClassifier {
	return &RandomForestClassifier{baseForest: newBase(bridge, f, engine.Classification)}
}

// ClassCount returns the number of distinct labels seen by the most recent
// successful fit. Zero while untrained.
func (c *RandomForestClassifier) ClassCount() int { return c.classCount }

// Fit trains a new model. The distinct-label count is established from y
// before training; the engine does not learn it.
func (c *RandomForestClassifier) Fit(ctx context.Context, x [][]float64, y []int32, weights []float64) error {
	distinct := make(map[int32]struct{}, 8)
	for _, label := range y {
		distinct[label] = struct{}{}
	}
	bundle, err := dataset.AssembleClassification(x, y, weights, c.order)
	if err != nil {
		return err
	}
	if err := c.fit(ctx, bundle); err != nil {
		return err
	}
	c.classCount = len(distinct)
	return nil
}

// Predict returns the predicted label for each row of x.
func (c *RandomForestClassifier) Predict(ctx context.Context, x [][]float64) ([]int32, error) {
	res, err := c.infer(ctx, x, engine.InferOptions{})
	if err != nil {
		return nil, err
	}
	return extractLabels(res, len(x))
}

// PredictProba returns the dense class-probability matrix, one row of
// ClassCount probabilities per input row. Classes the engine did not report
// for a given row have probability 0.0.
func (c *RandomForestClassifier) PredictProba(ctx context.Context, x [][]float64) ([][]float64, error) {
	res, err := c.infer(ctx, x, engine.InferOptions{ClassCount: c.classCount})
	if err != nil {
		return nil, err
	}
	return extractProbabilities(res, len(x), c.classCount)
}
