// Package journal keeps a history of measurement runs in a bbolt database.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is generated when a run is not in the journal
var ErrNotFound = errors.New("run not found")

var bucketRuns = []byte("runs")

// Status of a run
const (
	Running   = "running"
	Completed = "completed"
	Aborted   = "aborted"
	Failed    = "failed"
)

// Record describes one run
type Record struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Dirname    string    `json:"dirname"`
	Comment    string    `json:"comment,omitempty"`
	Dir        string    `json:"dir"`
	Files      []string  `json:"files,omitempty"`
	Points     int       `json:"points"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitempty"`
	Status     string    `json:"status"`
	Iterations int       `json:"iterations,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Journal is a run history backed by a bbolt file
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal at path
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records the start of a run and returns it with its ID and start time
// filled in
func (j *Journal) Begin(r Record) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return r, err
	}
	r.ID = id.String()
	if r.Start.IsZero() {
		r.Start = time.Now()
	}
	r.Status = Running
	return r, j.put(r)
}

// End records the finish of a run.  A nil error with status Running is
// recorded as Completed.
func (j *Journal) End(id, status string, iterations int, runErr error) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		r.End = time.Now()
		r.Status = status
		if r.Status == "" || r.Status == Running {
			r.Status = Completed
		}
		r.Iterations = iterations
		if runErr != nil {
			r.Error = runErr.Error()
		}
		buf, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), buf)
	})
}

func (j *Journal) put(r Record) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(r.ID), buf)
	})
}

// Get returns one run
func (j *Journal) Get(id string) (Record, error) {
	var r Record
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRuns).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &r)
	})
	return r, err
}

// List returns up to limit runs, newest first.  limit <= 0 returns all runs.
func (j *Journal) List(limit int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		// v7 IDs sort by creation time
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}
