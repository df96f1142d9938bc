package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestbridge/internal/codec"
)

func sparseResult(t *testing.T, rows int, idx []int32, val []float64) *PredictionResult {
	t.Helper()
	pi, err := codec.EncodeInt32Vector(idx, codec.LittleEndian)
	require.NoError(t, err)
	pv, err := codec.EncodeFloat64Vector(val, codec.LittleEndian)
	require.NoError(t, err)
	return &PredictionResult{rows: rows, probIndex: &pi, probValue: &pv}
}

func TestClassProbabilitiesMissingEntriesDefaultToZero(t *testing.T) {
	// Record 0 only reports class 1; record 1 reports classes 0 and 2.
	r := sparseResult(t, 2,
		[]int32{0, 1, 1, 0, 1, 2},
		[]float64{1.0, 0.25, 0.75})

	buf, err := r.ClassProbabilities(3)
	require.NoError(t, err)
	probs, err := codec.DecodeFloat64Matrix(buf)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{
		{0, 1.0, 0},
		{0.25, 0, 0.75},
	}, probs)
}

func TestClassProbabilitiesRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		rows int
		idx  []int32
		val  []float64
	}{
		{"class out of range", 1, []int32{0, 3}, []float64{1.0}},
		{"record out of range", 1, []int32{1, 0}, []float64{1.0}},
		{"negative class", 1, []int32{0, -1}, []float64{1.0}},
		{"index value length disagreement", 1, []int32{0, 0, 0}, []float64{1.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := sparseResult(t, tc.rows, tc.idx, tc.val)
			_, err := r.ClassProbabilities(3)
			require.Error(t, err)
		})
	}
}

func TestClassProbabilitiesAbsent(t *testing.T) {
	r := &PredictionResult{rows: 1}
	_, err := r.ClassProbabilities(2)
	require.Error(t, err)
}
