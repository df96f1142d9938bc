package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"forestbridge/internal/codec"
	"forestbridge/internal/dataset"
)

// Client talks to the forest engine's HTTP API. It implements Bridge.
// Requests carry JSON envelopes whose array payloads are codec wire buffers;
// no structure is shared by reference across the boundary.
//
// A Client is safe for concurrent use; serialization of fit/predict on one
// facade instance is the facade caller's concern, not the bridge's.
type Client struct {
	base    string
	rest    *resty.Client
	metrics MetricsInterface
}

// NewClient creates a bridge client for the engine at base.
func NewClient(base string, timeout time.Duration) *Client {
	return NewClientWithMetrics(base, nil, timeout)
}

// NewClientWithMetrics creates a bridge client that reports call counts and
// latency to the given metrics sink.
func NewClientWithMetrics(base string, metrics MetricsInterface, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second) // default fallback
	}
	return &Client{base: base, rest: r, metrics: metrics}
}

// Addr returns the engine base address.
func (c *Client) Addr() string { return c.base }

type errorResp struct {
	Error string `json:"error"`
}

type buildLearnerResp struct {
	LearnerID string `json:"learnerId"`
}

type trainReq struct {
	Features codec.Buffer `json:"features"`
	Targets  codec.Buffer `json:"targets"`
	Weights  codec.Buffer `json:"weights"`
}

type trainResp struct {
	ModelID    string `json:"modelId"`
	Rows       int    `json:"rows"`
	Cols       int    `json:"cols"`
	WeightRows int    `json:"weightRows"`
}

type inferReq struct {
	Features        codec.Buffer `json:"features"`
	WantUncertainty bool         `json:"wantUncertainty"`
	ClassCount      int          `json:"classCount,omitempty"`
}

type inferResp struct {
	Rows        int           `json:"rows"`
	Expected    codec.Buffer  `json:"expected"`
	Uncertainty *codec.Buffer `json:"uncertainty,omitempty"`
	ProbIndex   *codec.Buffer `json:"probIndex,omitempty"`
	ProbValue   *codec.Buffer `json:"probValue,omitempty"`
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	eresp := &errorResp{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(eresp).
		Post(c.base + path)
	if err != nil {
		if c.metrics != nil {
			c.metrics.BridgeFailuresInc()
		}
		return &BridgeError{Op: op, Err: err}
	}
	if resp.IsError() {
		if c.metrics != nil {
			c.metrics.BridgeFailuresInc()
		}
		log.Error().
			Str("op", op).
			Int("status", resp.StatusCode()).
			Str("engine_error", eresp.Error).
			Msg("engine call failed")
		return &BridgeError{Op: op, Status: resp.StatusCode(), Msg: eresp.Error}
	}
	return nil
}

// BuildLearner instantiates a learner in the engine from an immutable config.
func (c *Client) BuildLearner(ctx context.Context, cfg LearnerConfig) (LearnerRef, error) {
	out := &buildLearnerResp{}
	if err := c.post(ctx, "build learner", "/v1/learners", cfg, out); err != nil {
		return LearnerRef{}, err
	}
	if out.LearnerID == "" {
		return LearnerRef{}, &BridgeError{Op: "build learner", Msg: "engine returned no learner id"}
	}
	return LearnerRef{id: out.LearnerID}, nil
}

// Train transfers a training bundle to the engine and returns the handle of
// the trained model along with the engine's receipt of what it received.
func (c *Client) Train(ctx context.Context, learner LearnerRef, bundle *dataset.Bundle) (ModelHandle, TrainReceipt, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.TrainCallsInc()
		c.metrics.PayloadBytesAdd(float64(len(bundle.Features.Data) + len(bundle.Targets.Data) + len(bundle.Weights.Data)))
	}

	req := trainReq{Features: bundle.Features, Targets: bundle.Targets, Weights: bundle.Weights}
	out := &trainResp{}
	err := c.post(ctx, "train", "/v1/learners/"+learner.id+"/train", req, out)
	if c.metrics != nil {
		c.metrics.TrainLatencyObserve(time.Since(start).Seconds())
	}
	if err != nil {
		return ModelHandle{}, TrainReceipt{}, err
	}
	if out.ModelID == "" {
		return ModelHandle{}, TrainReceipt{}, &BridgeError{Op: "train", Msg: "engine returned no model id"}
	}

	log.Debug().
		Str("model_id", out.ModelID).
		Int("rows", out.Rows).
		Int("cols", out.Cols).
		Dur("elapsed", time.Since(start)).
		Msg("model trained")

	return ModelHandle{id: out.ModelID}, TrainReceipt{Rows: out.Rows, Cols: out.Cols, WeightRows: out.WeightRows}, nil
}

// Infer runs a trained model over an encoded feature matrix and returns the
// call-scoped prediction result.
func (c *Client) Infer(ctx context.Context, model ModelHandle, features codec.Buffer, opts InferOptions) (*PredictionResult, error) {
	if model.Zero() {
		return nil, &BridgeError{Op: "infer", Msg: "zero model handle"}
	}
	start := time.Now()
	if c.metrics != nil {
		c.metrics.InferCallsInc()
		c.metrics.PayloadBytesAdd(float64(len(features.Data)))
	}

	req := inferReq{Features: features, WantUncertainty: opts.WantUncertainty, ClassCount: opts.ClassCount}
	out := &inferResp{}
	err := c.post(ctx, "infer", "/v1/models/"+model.id+"/infer", req, out)
	if c.metrics != nil {
		c.metrics.InferLatencyObserve(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if out.Rows != features.Rows {
		return nil, &BridgeError{Op: "infer", Msg: fmt.Sprintf("engine predicted %d records for %d sent", out.Rows, features.Rows)}
	}

	return &PredictionResult{
		rows:        out.Rows,
		expected:    out.Expected,
		uncertainty: out.Uncertainty,
		probIndex:   out.ProbIndex,
		probValue:   out.ProbValue,
	}, nil
}

// Health probes the engine's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get(c.base + "/healthz")
	if err != nil {
		return &BridgeError{Op: "health", Err: err}
	}
	if resp.IsError() {
		return &BridgeError{Op: "health", Status: resp.StatusCode()}
	}
	return nil
}
