// Package registry keeps a persistent record of training runs: which
// engine-side model a fit produced, what data shaped it, and how long it
// took. The engine owns the models themselves; this is the local audit trail
// that survives restarts.
package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const runsBucket = "training_runs"

// TrainingRun describes one completed fit.
type TrainingRun struct {
	ModelID    string        `json:"model_id"`
	Family     string        `json:"family"`
	OutputKind string        `json:"output_kind"`
	Rows       int           `json:"rows"`
	Cols       int           `json:"cols"`
	ClassCount int           `json:"class_count,omitempty"`
	TrainTime  time.Duration `json:"train_time"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store provides persistent storage for training runs using BoltDB.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the registry database under dataPath.
func Open(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "forestbridge.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores a training run. Keys are time-ordered so range scans walk
// runs chronologically.
func (s *Store) Record(run TrainingRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		key := fmt.Sprintf("%020d_%s", run.CreatedAt.UnixNano(), run.ModelID)
		return b.Put([]byte(key), data)
	})
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]TrainingRun, error) {
	var runs []TrainingRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(runs) < limit; k, v = c.Prev() {
			var run TrainingRun
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}

// Since returns all runs recorded at or after t, oldest first.
func (s *Store) Since(t time.Time) ([]TrainingRun, error) {
	var runs []TrainingRun
	min := []byte(fmt.Sprintf("%020d", t.UnixNano()))
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Seek(min); k != nil; k, v = c.Next() {
			var run TrainingRun
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}
