// forestserve fits a random forest from CSV training data at startup, then
// serves predictions over HTTP. It only ever calls the estimator's
// fit/predict surface; all model state lives in the external forest engine.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"forestbridge/internal/cfg"
	"forestbridge/internal/engine"
	"forestbridge/internal/metrics"
	"forestbridge/internal/registry"
	"forestbridge/learners"
)

type server struct {
	regressor  *learners.RandomForestRegressor
	classifier *learners.RandomForestClassifier
}

type predictRequest struct {
	Records         [][]float64 `json:"records"`
	WantUncertainty bool        `json:"wantUncertainty,omitempty"`
	WantProba       bool        `json:"wantProba,omitempty"`
}

type predictResponse struct {
	Predictions   []float64   `json:"predictions,omitempty"`
	Uncertainty   []float64   `json:"uncertainty,omitempty"`
	Labels        []int32     `json:"labels,omitempty"`
	Probabilities [][]float64 `json:"probabilities,omitempty"`
	LatencyMs     float64     `json:"latency_ms"`
}

func main() {
	var (
		task      = flag.String("task", "regression", "Task: regression or classification")
		trainPath = flag.String("train", "", "Training CSV (last column is the target)")
		port      = flag.Int("port", 8080, "HTTP listen port")
		trees     = flag.Int("trees", -1, "Number of trees (-1 = engine default)")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *trainPath == "" {
		log.Fatal().Msg("-train is required")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	bridge, err := engine.SharedBridge(engine.GatewayConfig{
		Address:        c.EngineAddress,
		Launch:         c.EngineLaunch,
		StartupTimeout: c.StartupTimeout,
		RequestTimeout: c.RequestTimeout,
		Metrics:        metrics.NewWrapper(m),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine unavailable")
	}
	defer engine.ShutdownShared()

	srv, run, err := fitFromCSV(ctx, bridge, *task, *trainPath, *trees, c)
	if err != nil {
		log.Fatal().Err(err).Msg("initial fit failed")
	}
	m.ModelAge.Set(0)
	recordRun(c, run)
	log.Info().Str("model_id", run.ModelID).Int("rows", run.Rows).Int("cols", run.Cols).Msg("model trained")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", srv.handlePredict)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", httpSrv.Addr).Msg("serving predictions")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func fitFromCSV(ctx context.Context, bridge engine.Bridge, task, trainPath string, trees int, c cfg.Settings) (*server, registry.TrainingRun, error) {
	run := registry.TrainingRun{Family: "random-forest", OutputKind: task}

	x, rawTarget, err := loadTrainingCSV(trainPath)
	if err != nil {
		return nil, run, err
	}
	if len(x) == 0 {
		return nil, run, fmt.Errorf("%s holds no training rows", trainPath)
	}
	run.Rows, run.Cols = len(x), len(x[0])

	forest := learners.DefaultForest()
	forest.NumTrees = trees
	forest.Order = c.ByteOrder

	start := time.Now()
	switch task {
	case "regression":
		rf := learners.NewRandomForestRegressor(bridge, forest)
		if err := rf.Fit(ctx, x, rawTarget, nil); err != nil {
			return nil, run, err
		}
		run.ModelID, run.TrainTime = rf.ModelID(), time.Since(start)
		return &server{regressor: rf}, run, nil
	case "classification":
		y := make([]int32, len(rawTarget))
		for i, v := range rawTarget {
			if v != math.Trunc(v) || v < 0 {
				return nil, run, fmt.Errorf("classification target in row %d is not a non-negative integer: %v", i, v)
			}
			y[i] = int32(v)
		}
		clf := learners.NewRandomForestClassifier(bridge, forest)
		if err := clf.Fit(ctx, x, y, nil); err != nil {
			return nil, run, err
		}
		run.ModelID, run.ClassCount, run.TrainTime = clf.ModelID(), clf.ClassCount(), time.Since(start)
		return &server{classifier: clf}, run, nil
	default:
		return nil, run, fmt.Errorf("unknown task %q", task)
	}
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "records cannot be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var resp predictResponse
	var err error
	switch {
	case s.regressor != nil && req.WantUncertainty:
		resp.Predictions, resp.Uncertainty, err = s.regressor.PredictWithUncertainty(ctx, req.Records)
	case s.regressor != nil:
		resp.Predictions, err = s.regressor.Predict(ctx, req.Records)
	default:
		resp.Labels, err = s.classifier.Predict(ctx, req.Records)
		if err == nil && req.WantProba {
			resp.Probabilities, err = s.classifier.PredictProba(ctx, req.Records)
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		http.Error(w, fmt.Sprintf("prediction failed: %v", err), http.StatusInternalServerError)
		return
	}
	resp.LatencyMs = float64(time.Since(start).Milliseconds())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func recordRun(c cfg.Settings, run registry.TrainingRun) {
	reg, err := registry.Open(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("registry unavailable, run will not be recorded")
		return
	}
	defer reg.Close()

	if err := reg.Record(run); err != nil {
		log.Warn().Err(err).Msg("failed to record training run")
	}
}

func loadTrainingCSV(path string) ([][]float64, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var x [][]float64
	var y []float64
	for i, record := range records {
		if len(record) < 2 {
			return nil, nil, fmt.Errorf("%s row %d: need at least one feature and a target", path, i)
		}
		row := make([]float64, len(record))
		header := false
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				if i == 0 {
					header = true
					break
				}
				return nil, nil, fmt.Errorf("%s row %d col %d: %w", path, i, j, err)
			}
			row[j] = v
		}
		if header {
			continue
		}
		x = append(x, row[:len(row)-1])
		y = append(y, row[len(row)-1])
	}
	return x, y, nil
}
