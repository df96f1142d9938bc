// Package enginetest provides an in-process stand-in for the external forest
// engine, speaking the same HTTP wire protocol. It trains a deterministic
// memorizing model (nearest neighbor over the training records) so estimator
// tests can exercise the full encode/train/infer/extract path hermetically.
package enginetest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"

	"forestbridge/internal/codec"
)

type learnerSpec struct {
	Family         string `json:"family"`
	OutputKind     string `json:"outputKind"`
	NumTrees       int    `json:"numTrees"`
	UseJackknife   bool   `json:"useJackknife"`
	SubsetStrategy int    `json:"subsetStrategy"`
}

type model struct {
	spec     learnerSpec
	x        [][]float64
	yFloat   []float64
	yLabel   []int32
	weights  []float64
	classify bool
}

// Server is a fake forest engine listening on a loopback httptest server.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	nextID   int
	learners map[string]learnerSpec
	models   map[string]*model
	failNext string

	trainCalls int
	inferCalls int
}

// New starts a fake engine. Callers must Close it.
func New() *Server {
	s := &Server{
		learners: make(map[string]learnerSpec),
		models:   make(map[string]*model),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/learners", s.handleBuildLearner)
	mux.HandleFunc("POST /v1/learners/{id}/train", s.handleTrain)
	mux.HandleFunc("POST /v1/models/{id}/infer", s.handleInfer)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the engine base address.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the fake engine down.
func (s *Server) Close() { s.srv.Close() }

// FailNext makes the next API call fail with the given engine error message.
func (s *Server) FailNext(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = msg
}

// TrainCalls reports how many train requests reached the engine.
func (s *Server) TrainCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trainCalls
}

// InferCalls reports how many infer requests reached the engine.
func (s *Server) InferCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inferCalls
}

func (s *Server) takeFailure() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext == "" {
		return "", false
	}
	msg := s.failNext
	s.failNext = ""
	return msg, true
}

func writeErr(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleBuildLearner(w http.ResponseWriter, r *http.Request) {
	if msg, ok := s.takeFailure(); ok {
		writeErr(w, http.StatusInternalServerError, "%s", msg)
		return
	}
	var spec learnerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeErr(w, http.StatusBadRequest, "bad learner config: %v", err)
		return
	}
	if spec.Family != "random-forest" {
		writeErr(w, http.StatusBadRequest, "unknown learner family %q", spec.Family)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("learner-%d", s.nextID)
	s.learners[id] = spec
	s.mu.Unlock()

	writeJSON(w, map[string]string{"learnerId": id})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if msg, ok := s.takeFailure(); ok {
		writeErr(w, http.StatusInternalServerError, "%s", msg)
		return
	}
	s.mu.Lock()
	s.trainCalls++
	spec, ok := s.learners[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "no such learner %q", r.PathValue("id"))
		return
	}

	var req struct {
		Features codec.Buffer `json:"features"`
		Targets  codec.Buffer `json:"targets"`
		Weights  codec.Buffer `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad train request: %v", err)
		return
	}

	x, err := codec.DecodeFloat64Matrix(req.Features)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "feature buffer: %v", err)
		return
	}
	if len(x) == 0 {
		writeErr(w, http.StatusBadRequest, "no training records")
		return
	}
	weights, err := codec.DecodeFloat64Vector(req.Weights)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "weight buffer: %v", err)
		return
	}

	m := &model{spec: spec, x: x, weights: weights, classify: spec.OutputKind == "classification"}
	if m.classify {
		m.yLabel, err = codec.DecodeInt32Vector(req.Targets)
	} else {
		m.yFloat, err = codec.DecodeFloat64Vector(req.Targets)
	}
	if err != nil {
		writeErr(w, http.StatusBadRequest, "target buffer: %v", err)
		return
	}
	targetRows := req.Targets.Rows
	if targetRows != len(x) {
		writeErr(w, http.StatusBadRequest, "%d targets for %d records", targetRows, len(x))
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("model-%d", s.nextID)
	s.models[id] = m
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"modelId":    id,
		"rows":       len(x),
		"cols":       len(x[0]),
		"weightRows": len(weights),
	})
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	if msg, ok := s.takeFailure(); ok {
		writeErr(w, http.StatusInternalServerError, "%s", msg)
		return
	}
	s.mu.Lock()
	s.inferCalls++
	m, ok := s.models[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "no such model %q", r.PathValue("id"))
		return
	}

	var req struct {
		Features        codec.Buffer `json:"features"`
		WantUncertainty bool         `json:"wantUncertainty"`
		ClassCount      int          `json:"classCount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad infer request: %v", err)
		return
	}
	x, err := codec.DecodeFloat64Matrix(req.Features)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "feature buffer: %v", err)
		return
	}
	if len(x) == 0 {
		writeErr(w, http.StatusBadRequest, "no records to predict")
		return
	}
	if len(x[0]) != len(m.x[0]) {
		writeErr(w, http.StatusBadRequest, "model trained on %d features, got %d", len(m.x[0]), len(x[0]))
		return
	}
	order := req.Features.Order

	resp := map[string]any{"rows": len(x)}

	if m.classify {
		labels := make([]int32, len(x))
		var probIdx []int32
		var probVal []float64
		for i, row := range x {
			neighbors := m.nearest(row, 5)
			labels[i] = m.yLabel[neighbors[0]]
			for class, p := range voteShares(m.yLabel, neighbors) {
				probIdx = append(probIdx, int32(i), class)
				probVal = append(probVal, p)
			}
		}
		expected, err := codec.EncodeInt32Vector(labels, order)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "%v", err)
			return
		}
		resp["expected"] = expected
		if req.ClassCount > 0 {
			pi, _ := codec.EncodeInt32Vector(probIdx, order)
			pv, _ := codec.EncodeFloat64Vector(probVal, order)
			resp["probIndex"] = pi
			resp["probValue"] = pv
		}
	} else {
		expected := make([]float64, len(x))
		spread := make([]float64, len(x))
		for i, row := range x {
			neighbors := m.nearest(row, 1)
			expected[i] = m.yFloat[neighbors[0]]
			spread[i] = distance(row, m.x[neighbors[0]])
		}
		buf, err := codec.EncodeFloat64Vector(expected, order)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "%v", err)
			return
		}
		resp["expected"] = buf
		// Uncertainty exists only when the model was trained with jackknife.
		if m.spec.UseJackknife && req.WantUncertainty {
			ub, _ := codec.EncodeFloat64Vector(spread, order)
			resp["uncertainty"] = ub
		}
	}

	writeJSON(w, resp)
}

// nearest returns the indices of the k training records closest to row,
// nearest first. Ties break toward the lower index, keeping the fake engine
// deterministic.
func (m *model) nearest(row []float64, k int) []int {
	if k > len(m.x) {
		k = len(m.x)
	}
	idx := make([]int, len(m.x))
	dist := make([]float64, len(m.x))
	for i, train := range m.x {
		idx[i] = i
		dist[i] = distance(row, train)
	}
	// Selection of the k smallest; training sets in tests are small.
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(idx); j++ {
			if dist[idx[j]] < dist[idx[best]] || (dist[idx[j]] == dist[idx[best]] && idx[j] < idx[best]) {
				best = j
			}
		}
		idx[i], idx[best] = idx[best], idx[i]
	}
	return idx[:k]
}

// voteShares gives the nearest neighbor 0.6 of the probability mass and
// splits the rest evenly, so the argmax always matches the predicted label
// and each record's shares sum to one.
func voteShares(labels []int32, neighbors []int) map[int32]float64 {
	shares := make(map[int32]float64)
	if len(neighbors) == 1 {
		shares[labels[neighbors[0]]] = 1.0
		return shares
	}
	shares[labels[neighbors[0]]] = 0.6
	rest := 0.4 / float64(len(neighbors)-1)
	for _, n := range neighbors[1:] {
		shares[labels[n]] += rest
	}
	return shares
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
