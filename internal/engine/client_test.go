package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestbridge/internal/codec"
	"forestbridge/internal/dataset"
	"forestbridge/internal/engine"
	"forestbridge/internal/engine/enginetest"
)

func newBridge(t *testing.T) (*engine.Client, *enginetest.Server) {
	t.Helper()
	srv := enginetest.New()
	t.Cleanup(srv.Close)
	return engine.NewClient(srv.URL(), 5*time.Second), srv
}

func trainRegressor(t *testing.T, c *engine.Client, jackknife bool) (engine.ModelHandle, *dataset.Bundle) {
	t.Helper()
	ctx := context.Background()

	ref, err := c.BuildLearner(ctx, engine.LearnerConfig{
		Family:     "random-forest",
		OutputKind: engine.Regression,
		NumTrees:   -1, UseJackknife: jackknife, SubsetStrategy: 4,
	})
	require.NoError(t, err)

	bundle, err := dataset.AssembleRegression(
		[][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
		[]float64{0.5, 1.5, 2.5, 3.5},
		nil, codec.LittleEndian)
	require.NoError(t, err)

	model, receipt, err := c.Train(ctx, ref, bundle)
	require.NoError(t, err)
	require.NoError(t, bundle.VerifyReceipt(receipt.Rows, receipt.Cols, receipt.WeightRows))
	return model, bundle
}

func TestTrainAndInfer(t *testing.T) {
	c, srv := newBridge(t)
	model, bundle := trainRegressor(t, c, true)
	assert.False(t, model.Zero())
	assert.Equal(t, 1, srv.TrainCalls())

	res, err := c.Infer(context.Background(), model, bundle.Features, engine.InferOptions{WantUncertainty: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rows())

	got, err := codec.DecodeFloat64Vector(res.ExpectedValues())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5, 2.5, 3.5}, got)

	ubuf, ok := res.Uncertainty()
	require.True(t, ok)
	u, err := codec.DecodeFloat64Vector(ubuf)
	require.NoError(t, err)
	for _, v := range u {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestUncertaintyAbsentWithoutJackknife(t *testing.T) {
	c, _ := newBridge(t)
	model, bundle := trainRegressor(t, c, false)

	res, err := c.Infer(context.Background(), model, bundle.Features, engine.InferOptions{WantUncertainty: true})
	require.NoError(t, err)

	_, ok := res.Uncertainty()
	assert.False(t, ok)
}

func TestBigEndianAcrossTheBridge(t *testing.T) {
	c, _ := newBridge(t)
	ctx := context.Background()

	ref, err := c.BuildLearner(ctx, engine.LearnerConfig{
		Family: "random-forest", OutputKind: engine.Regression, NumTrees: -1,
	})
	require.NoError(t, err)

	bundle, err := dataset.AssembleRegression(
		[][]float64{{1, 2}, {3, 4}}, []float64{10, 20}, nil, codec.BigEndian)
	require.NoError(t, err)

	model, receipt, err := c.Train(ctx, ref, bundle)
	require.NoError(t, err)
	require.NoError(t, bundle.VerifyReceipt(receipt.Rows, receipt.Cols, receipt.WeightRows))

	res, err := c.Infer(ctx, model, bundle.Features, engine.InferOptions{})
	require.NoError(t, err)
	got, err := codec.DecodeFloat64Vector(res.ExpectedValues())
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, got)
}

func TestClassProbabilityDensification(t *testing.T) {
	c, _ := newBridge(t)
	ctx := context.Background()

	ref, err := c.BuildLearner(ctx, engine.LearnerConfig{
		Family: "random-forest", OutputKind: engine.Classification, NumTrees: -1,
	})
	require.NoError(t, err)

	x := [][]float64{{0}, {0.1}, {10}, {10.1}, {20}, {20.1}}
	y := []int32{0, 0, 1, 1, 2, 2}
	bundle, err := dataset.AssembleClassification(x, y, nil, codec.LittleEndian)
	require.NoError(t, err)

	model, _, err := c.Train(ctx, ref, bundle)
	require.NoError(t, err)

	res, err := c.Infer(ctx, model, bundle.Features, engine.InferOptions{ClassCount: 3})
	require.NoError(t, err)

	buf, err := res.ClassProbabilities(3)
	require.NoError(t, err)
	probs, err := codec.DecodeFloat64Matrix(buf)
	require.NoError(t, err)
	require.Len(t, probs, 6)

	for i, row := range probs {
		require.Len(t, row, 3)
		sum := 0.0
		for _, p := range row {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "row %d", i)
	}
}

func TestBridgeErrorCarriesEngineContext(t *testing.T) {
	c, srv := newBridge(t)
	srv.FailNext("resource exhausted: too many trees")

	_, err := c.BuildLearner(context.Background(), engine.LearnerConfig{
		Family: "random-forest", OutputKind: engine.Regression,
	})
	var bridgeErr *engine.BridgeError
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, "build learner", bridgeErr.Op)
	assert.Contains(t, bridgeErr.Msg, "resource exhausted")
}

func TestInferUnknownModel(t *testing.T) {
	c, _ := newBridge(t)

	buf, err := codec.EncodeFloat64Matrix([][]float64{{1}}, codec.LittleEndian)
	require.NoError(t, err)

	_, err = c.Infer(context.Background(), engine.ModelHandle{}, buf, engine.InferOptions{})
	var bridgeErr *engine.BridgeError
	require.ErrorAs(t, err, &bridgeErr)
}

func TestHealth(t *testing.T) {
	c, _ := newBridge(t)
	assert.NoError(t, c.Health(context.Background()))

	dead := engine.NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	assert.Error(t, dead.Health(context.Background()))
}
