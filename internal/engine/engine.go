// Package engine is the invocation bridge to the external forest engine.
//
// The engine runs as an independent process; model training and inference
// happen there. This package moves encoded buffers across the boundary and
// hands back opaque typed handles. Callers never see engine internals beyond
// the operations defined on the Bridge interface, and a PredictionResult is
// only valid until the call that produced it returns control to the caller.
package engine

import (
	"context"
	"fmt"

	"forestbridge/internal/codec"
	"forestbridge/internal/dataset"
)

// OutputKind selects regression or classification semantics for a learner.
type OutputKind string

const (
	Regression     OutputKind = "regression"
	Classification OutputKind = "classification"
)

// LearnerConfig is the immutable parameter set for one model family. It is
// created once at facade construction and never mutated after the first fit.
type LearnerConfig struct {
	Family         string     `json:"family"`
	OutputKind     OutputKind `json:"outputKind"`
	NumTrees       int        `json:"numTrees"`       // -1 lets the engine choose
	UseJackknife   bool       `json:"useJackknife"`   // enables uncertainty estimates
	SubsetStrategy int        `json:"subsetStrategy"` // feature subset strategy code
}

// LearnerRef is an opaque reference to an engine-side learner.
type LearnerRef struct {
	id string
}

// ModelHandle is an opaque reference to a trained model living in the engine.
// It is exclusively owned by one facade instance; a new fit on the same
// facade discards the old handle.
type ModelHandle struct {
	id string
}

// ID returns the engine-side identifier, for audit records only.
func (h ModelHandle) ID() string { return h.id }

// Zero reports whether the handle refers to no model.
func (h ModelHandle) Zero() bool { return h.id == "" }

// TrainReceipt echoes the counts the engine saw after a training transfer.
// The caller checks it against the bundle it sent.
type TrainReceipt struct {
	Rows       int
	Cols       int
	WeightRows int
}

// InferOptions tune a single infer call.
type InferOptions struct {
	WantUncertainty bool
	ClassCount      int // >0 asks for class probabilities
}

// Bridge is the set of operations the external engine exposes.
type Bridge interface {
	BuildLearner(ctx context.Context, cfg LearnerConfig) (LearnerRef, error)
	Train(ctx context.Context, learner LearnerRef, bundle *dataset.Bundle) (ModelHandle, TrainReceipt, error)
	Infer(ctx context.Context, model ModelHandle, features codec.Buffer, opts InferOptions) (*PredictionResult, error)
}

// PredictionResult holds the sections of one infer call's output. It is
// scoped to that call: extract everything needed before moving on, the
// underlying buffers are not guaranteed valid afterward.
type PredictionResult struct {
	rows        int
	expected    codec.Buffer
	uncertainty *codec.Buffer
	probIndex   *codec.Buffer // int32 (row, class) pairs, interleaved
	probValue   *codec.Buffer // float64, parallel to probIndex pairs
}

// Rows returns the record count of the prediction.
func (r *PredictionResult) Rows() int { return r.rows }

// ExpectedValues returns the point-estimate buffer: float64 predictions for
// regression models, int32 labels for classification models.
func (r *PredictionResult) ExpectedValues() codec.Buffer { return r.expected }

// Uncertainty returns the per-record uncertainty buffer if the engine
// produced one. Some configurations (jackknife disabled) carry none.
func (r *PredictionResult) Uncertainty() (codec.Buffer, bool) {
	if r.uncertainty == nil {
		return codec.Buffer{}, false
	}
	return *r.uncertainty, true
}

// ClassProbabilities densifies the engine's sparse per-record probability
// entries into a row-major rows x classCount float64 buffer. Class indices
// absent from a record's entries default to 0.0 for that class.
func (r *PredictionResult) ClassProbabilities(classCount int) (codec.Buffer, error) {
	if r.probIndex == nil || r.probValue == nil {
		return codec.Buffer{}, fmt.Errorf("engine: prediction result carries no class probabilities")
	}
	if classCount < 1 {
		return codec.Buffer{}, fmt.Errorf("engine: class count %d is not positive", classCount)
	}
	idx, err := codec.DecodeInt32Vector(*r.probIndex)
	if err != nil {
		return codec.Buffer{}, fmt.Errorf("engine: decode probability indices: %w", err)
	}
	val, err := codec.DecodeFloat64Vector(*r.probValue)
	if err != nil {
		return codec.Buffer{}, fmt.Errorf("engine: decode probability values: %w", err)
	}
	if len(idx) != 2*len(val) {
		return codec.Buffer{}, fmt.Errorf("engine: %d probability indices for %d values", len(idx), len(val))
	}

	dense := make([][]float64, r.rows)
	for i := range dense {
		dense[i] = make([]float64, classCount)
	}
	for k, p := range val {
		row, class := int(idx[2*k]), int(idx[2*k+1])
		if row < 0 || row >= r.rows {
			return codec.Buffer{}, fmt.Errorf("engine: probability entry for record %d outside 0..%d", row, r.rows-1)
		}
		if class < 0 || class >= classCount {
			return codec.Buffer{}, fmt.Errorf("engine: probability entry for class %d outside 0..%d", class, classCount-1)
		}
		dense[row][class] = p
	}
	return codec.EncodeFloat64Matrix(dense, r.probValue.Order)
}

// BridgeError is an opaque failure from the external engine, propagated with
// whatever context the engine provided. It is never swallowed and never
// retried at this layer: training is not idempotent, and a silent retry could
// desynchronize engine-side state.
type BridgeError struct {
	Op     string // bridge operation that failed
	Status int    // engine HTTP status, 0 when the call never completed
	Msg    string // engine-provided context, if any
	Err    error  // transport error, if any
}

func (e *BridgeError) Error() string {
	s := fmt.Sprintf("engine: %s failed", e.Op)
	if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *BridgeError) Unwrap() error { return e.Err }

// MetricsInterface defines the metrics hooks the bridge client reports to.
type MetricsInterface interface {
	TrainCallsInc()
	InferCallsInc()
	BridgeFailuresInc()
	TrainLatencyObserve(seconds float64)
	InferLatencyObserve(seconds float64)
	PayloadBytesAdd(n float64)
}
