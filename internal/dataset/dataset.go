// Package dataset assembles encoded training data for transfer to the forest
// engine: the feature matrix, the target vector, and an always-explicit
// weight vector, with row counts agreed before and verified after transfer.
package dataset

import (
	"fmt"

	"forestbridge/internal/codec"
)

// ShapeError reports a row/column/length disagreement between the caller's
// arrays. It is raised before any engine call and never auto-corrected.
type ShapeError struct {
	Field string
	Want  int
	Got   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("dataset: shape mismatch: %s has %d entries, want %d", e.Field, e.Got, e.Want)
}

// AssemblyError reports a disagreement detected after assembly or transfer.
// It indicates corruption on the way to the engine and must abort the fit
// rather than proceed with a partially wrong model.
type AssemblyError struct {
	Detail string
}

func (e *AssemblyError) Error() string {
	return "dataset: assembly verification failed: " + e.Detail
}

// Bundle is the paired training structure the engine expects: one encoded
// buffer per array, all declaring the same row count.
type Bundle struct {
	Features codec.Buffer
	Targets  codec.Buffer
	Weights  codec.Buffer
}

// Rows returns the record count the bundle declares.
func (b *Bundle) Rows() int { return b.Features.Rows }

// Cols returns the feature count of each record.
func (b *Bundle) Cols() int { return b.Features.Cols }

// AssembleRegression encodes training data with float64 targets.
func AssembleRegression(x [][]float64, y []float64, weights []float64, order codec.ByteOrder) (*Bundle, error) {
	if err := checkShapes(x, len(y), weights); err != nil {
		return nil, err
	}
	targets, err := codec.EncodeFloat64Vector(y, order)
	if err != nil {
		return nil, err
	}
	return assemble(x, targets, weights, order)
}

// AssembleClassification encodes training data with int32 label targets.
func AssembleClassification(x [][]float64, y []int32, weights []float64, order codec.ByteOrder) (*Bundle, error) {
	if err := checkShapes(x, len(y), weights); err != nil {
		return nil, err
	}
	targets, err := codec.EncodeInt32Vector(y, order)
	if err != nil {
		return nil, err
	}
	return assemble(x, targets, weights, order)
}

func checkShapes(x [][]float64, targetLen int, weights []float64) error {
	if len(x) == 0 {
		return &ShapeError{Field: "feature matrix", Want: 1, Got: 0}
	}
	if len(x[0]) == 0 {
		return &ShapeError{Field: "feature columns", Want: 1, Got: 0}
	}
	if targetLen != len(x) {
		return &ShapeError{Field: "target vector", Want: len(x), Got: targetLen}
	}
	if weights != nil && len(weights) != len(x) {
		return &ShapeError{Field: "weight vector", Want: len(x), Got: len(weights)}
	}
	return nil
}

func assemble(x [][]float64, targets codec.Buffer, weights []float64, order codec.ByteOrder) (*Bundle, error) {
	features, err := codec.EncodeFloat64Matrix(x, order)
	if err != nil {
		return nil, err
	}

	// An omitted weight vector becomes an explicit vector of ones. The engine
	// never sees a "no weights" code path.
	if weights == nil {
		weights = make([]float64, len(x))
		for i := range weights {
			weights[i] = 1.0
		}
	}
	wbuf, err := codec.EncodeFloat64Vector(weights, order)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Features: features, Targets: targets, Weights: wbuf}
	if err := b.Verify(); err != nil {
		return nil, err
	}
	return b, nil
}

// Verify re-derives record, feature, and weight counts from the encoded
// buffers themselves and fails if any disagree with the declared metadata.
func (b *Bundle) Verify() error {
	n, m := b.Features.Rows, b.Features.Cols
	if m < 1 {
		return &AssemblyError{Detail: fmt.Sprintf("first record reports %d features", m)}
	}
	if got := len(b.Features.Data); got != n*m*b.Features.DType.Size() {
		return &AssemblyError{Detail: fmt.Sprintf("feature buffer holds %d bytes for %dx%d records", got, n, m)}
	}
	if b.Targets.Rows != n {
		return &AssemblyError{Detail: fmt.Sprintf("target buffer reports %d records, want %d", b.Targets.Rows, n)}
	}
	if got := len(b.Targets.Data); got != n*b.Targets.DType.Size() {
		return &AssemblyError{Detail: fmt.Sprintf("target buffer holds %d bytes for %d records", got, n)}
	}
	if b.Weights.Rows != n {
		return &AssemblyError{Detail: fmt.Sprintf("weight buffer reports %d entries, want %d", b.Weights.Rows, n)}
	}
	if got := len(b.Weights.Data); got != n*b.Weights.DType.Size() {
		return &AssemblyError{Detail: fmt.Sprintf("weight buffer holds %d bytes for %d entries", got, n)}
	}
	return nil
}

// VerifyReceipt checks the counts the engine reports after the transfer
// completes against what was sent. A disagreement means the bridge corrupted
// the bundle in flight.
func (b *Bundle) VerifyReceipt(rows, cols, weightRows int) error {
	if rows != b.Rows() {
		return &AssemblyError{Detail: fmt.Sprintf("engine received %d records, sent %d", rows, b.Rows())}
	}
	if cols != b.Cols() {
		return &AssemblyError{Detail: fmt.Sprintf("engine received %d features per record, sent %d", cols, b.Cols())}
	}
	if weightRows != b.Rows() {
		return &AssemblyError{Detail: fmt.Sprintf("engine received %d weights, sent %d", weightRows, b.Rows())}
	}
	return nil
}
