// forestcli fits a random forest on CSV training data through the external
// forest engine and writes predictions for a second CSV to stdout.
//
// The last column of the training CSV is the target; every other column is a
// feature. Classification targets must be small non-negative integers.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"forestbridge/internal/cfg"
	"forestbridge/internal/codec"
	"forestbridge/internal/engine"
	"forestbridge/internal/registry"
	"forestbridge/learners"
)

func main() {
	var (
		task        = flag.String("task", "regression", "Task: regression or classification")
		trainPath   = flag.String("train", "", "Training CSV (last column is the target)")
		predictPath = flag.String("predict", "", "CSV of feature rows to predict (defaults to the training features)")
		trees       = flag.Int("trees", -1, "Number of trees (-1 = engine default)")
		jackknife   = flag.Bool("jackknife", true, "Enable jackknife uncertainty estimation")
		subset      = flag.Int("subset", 4, "Feature subset strategy code")
		uncertainty = flag.Bool("uncertainty", false, "Also output per-row uncertainty (regression only)")
		proba       = flag.Bool("proba", false, "Also output class probabilities (classification only)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
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

	if err := run(c, *task, *trainPath, *predictPath, forestFlags(*trees, *jackknife, *subset, c.ByteOrder), *uncertainty, *proba); err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}

func forestFlags(trees int, jackknife bool, subset int, order codec.ByteOrder) learners.Forest {
	f := learners.DefaultForest()
	f.NumTrees = trees
	f.UseJackknife = jackknife
	f.SubsetStrategy = subset
	f.Order = order
	return f
}

func run(c cfg.Settings, task, trainPath, predictPath string, forest learners.Forest, uncertainty, proba bool) error {
	bridge, err := engine.SharedBridge(engine.GatewayConfig{
		Address:        c.EngineAddress,
		Launch:         c.EngineLaunch,
		StartupTimeout: c.StartupTimeout,
		RequestTimeout: c.RequestTimeout,
	})
	if err != nil {
		return err
	}
	defer engine.ShutdownShared()

	x, target, err := loadTrainingCSV(trainPath)
	if err != nil {
		return err
	}
	queries := x
	if predictPath != "" {
		queries, err = loadFeatureCSV(predictPath)
		if err != nil {
			return err
		}
	}

	reg, err := registry.Open(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("registry unavailable, runs will not be recorded")
		reg = nil
	} else {
		defer reg.Close()
	}

	ctx := context.Background()
	out := csv.NewWriter(os.Stdout)
	defer out.Flush()

	switch task {
	case "regression":
		return runRegression(ctx, bridge, reg, forest, x, target, queries, uncertainty, out)
	case "classification":
		return runClassification(ctx, bridge, reg, forest, x, target, queries, proba, out)
	default:
		return fmt.Errorf("unknown task %q", task)
	}
}

func runRegression(ctx context.Context, bridge engine.Bridge, reg *registry.Store, forest learners.Forest,
	x [][]float64, target, queries [][]float64, uncertainty bool, out *csv.Writer) error {

	y := make([]float64, len(target))
	for i, row := range target {
		y[i] = row[0]
	}

	rf := learners.NewRandomForestRegressor(bridge, forest)
	start := time.Now()
	if err := rf.Fit(ctx, x, y, nil); err != nil {
		return err
	}
	recordRun(reg, rf.ModelID(), "regression", len(x), len(x[0]), 0, time.Since(start))

	if uncertainty {
		pred, std, err := rf.PredictWithUncertainty(ctx, queries)
		if err != nil {
			return err
		}
		for i := range pred {
			if err := out.Write([]string{formatFloat(pred[i]), formatFloat(std[i])}); err != nil {
				return err
			}
		}
		return nil
	}

	pred, err := rf.Predict(ctx, queries)
	if err != nil {
		return err
	}
	for _, p := range pred {
		if err := out.Write([]string{formatFloat(p)}); err != nil {
			return err
		}
	}
	return nil
}

func runClassification(ctx context.Context, bridge engine.Bridge, reg *registry.Store, forest learners.Forest,
	x [][]float64, target, queries [][]float64, proba bool, out *csv.Writer) error {

	y := make([]int32, len(target))
	for i, row := range target {
		v := row[0]
		if v != math.Trunc(v) || v < 0 {
			return fmt.Errorf("classification target in row %d is not a non-negative integer: %v", i, v)
		}
		y[i] = int32(v)
	}

	clf := learners.NewRandomForestClassifier(bridge, forest)
	start := time.Now()
	if err := clf.Fit(ctx, x, y, nil); err != nil {
		return err
	}
	recordRun(reg, clf.ModelID(), "classification", len(x), len(x[0]), clf.ClassCount(), time.Since(start))

	labels, err := clf.Predict(ctx, queries)
	if err != nil {
		return err
	}

	var probs [][]float64
	if proba {
		if probs, err = clf.PredictProba(ctx, queries); err != nil {
			return err
		}
	}

	for i, label := range labels {
		record := []string{strconv.Itoa(int(label))}
		if proba {
			for _, p := range probs[i] {
				record = append(record, formatFloat(p))
			}
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func recordRun(reg *registry.Store, modelID, kind string, rows, cols, classCount int, elapsed time.Duration) {
	if reg == nil {
		return
	}
	err := reg.Record(registry.TrainingRun{
		ModelID:    modelID,
		Family:     "random-forest",
		OutputKind: kind,
		Rows:       rows,
		Cols:       cols,
		ClassCount: classCount,
		TrainTime:  elapsed,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record training run")
	}
}

func loadTrainingCSV(path string) (features [][]float64, target [][]float64, err error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	for i, row := range rows {
		if len(row) < 2 {
			return nil, nil, fmt.Errorf("%s row %d: need at least one feature and a target", path, i)
		}
		features = append(features, row[:len(row)-1])
		target = append(target, row[len(row)-1:])
	}
	return features, target, nil
}

func loadFeatureCSV(path string) ([][]float64, error) {
	return readCSV(path)
}

func readCSV(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([][]float64, 0, len(records))
	for i, record := range records {
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				if i == 0 {
					// Header row.
					row = nil
					break
				}
				return nil, fmt.Errorf("%s row %d col %d: %w", path, i, j, err)
			}
			row[j] = v
		}
		if row != nil {
			out = append(out, row)
		}
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
