package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestbridge/internal/codec"
)

func TestAssembleRegression(t *testing.T) {
	x := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	y := []float64{0.1, 0.2, 0.3}

	b, err := AssembleRegression(x, y, nil, codec.LittleEndian)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Rows())
	assert.Equal(t, 2, b.Cols())
	assert.Equal(t, codec.Float64, b.Targets.DType)

	// Omitted weights become an explicit vector of ones.
	w, err := codec.DecodeFloat64Vector(b.Weights)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1}, w)
}

func TestAssembleClassificationTargetDType(t *testing.T) {
	x := [][]float64{{1}, {2}}
	y := []int32{0, 1}

	b, err := AssembleClassification(x, y, []float64{2, 0.5}, codec.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, codec.Int32, b.Targets.DType)

	labels, err := codec.DecodeInt32Vector(b.Targets)
	require.NoError(t, err)
	assert.Equal(t, y, labels)
}

func TestAssembleShapeMismatch(t *testing.T) {
	x := [][]float64{{1, 2}, {3, 4}}

	cases := []struct {
		name string
		run  func() error
	}{
		{"short target", func() error {
			_, err := AssembleRegression(x, []float64{1}, nil, codec.LittleEndian)
			return err
		}},
		{"long target", func() error {
			_, err := AssembleRegression(x, []float64{1, 2, 3}, nil, codec.LittleEndian)
			return err
		}},
		{"short weights", func() error {
			_, err := AssembleRegression(x, []float64{1, 2}, []float64{1}, codec.LittleEndian)
			return err
		}},
		{"empty matrix", func() error {
			_, err := AssembleRegression(nil, nil, nil, codec.LittleEndian)
			return err
		}},
		{"zero columns", func() error {
			_, err := AssembleClassification([][]float64{{}}, []int32{0}, nil, codec.LittleEndian)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var shapeErr *ShapeError
			require.ErrorAs(t, tc.run(), &shapeErr)
		})
	}
}

func TestBundleVerifyDetectsCorruption(t *testing.T) {
	b, err := AssembleRegression([][]float64{{1, 2}, {3, 4}}, []float64{1, 2}, nil, codec.LittleEndian)
	require.NoError(t, err)
	require.NoError(t, b.Verify())

	cases := []struct {
		name   string
		mutate func(*Bundle)
	}{
		{"feature bytes lost", func(b *Bundle) { b.Features.Data = b.Features.Data[:8] }},
		{"target count drift", func(b *Bundle) { b.Targets.Rows = 3 }},
		{"weight bytes lost", func(b *Bundle) { b.Weights.Data = b.Weights.Data[:8] }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bad := *b
			tc.mutate(&bad)

			var asmErr *AssemblyError
			require.ErrorAs(t, bad.Verify(), &asmErr)
		})
	}
}

func TestVerifyReceipt(t *testing.T) {
	b, err := AssembleClassification([][]float64{{1, 2, 3}}, []int32{1}, nil, codec.LittleEndian)
	require.NoError(t, err)

	assert.NoError(t, b.VerifyReceipt(1, 3, 1))

	var asmErr *AssemblyError
	assert.ErrorAs(t, b.VerifyReceipt(2, 3, 1), &asmErr)
	assert.ErrorAs(t, b.VerifyReceipt(1, 2, 1), &asmErr)
	assert.ErrorAs(t, b.VerifyReceipt(1, 3, 0), &asmErr)
}
