package telemetry

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const maxBatch = 256

type record struct {
	at      time.Time
	names   []string
	values  []any
	message string
	console bool
}

// Recorder stores every record of a run in a SQLite database. A single
// goroutine writes queued records in batched transactions.
type Recorder struct {
	db      *sql.DB
	run     string
	queue   chan record
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	once    sync.Once
}

// OpenRecorder opens (or creates) the database at path and registers runID.
func OpenRecorder(path, runID string, queueSize int) (*Recorder, error) {
	if queueSize <= 0 {
		queueSize = 4096
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			started_at        DOUBLE
		);
		CREATE TABLE IF NOT EXISTS params (
			run_id            TEXT,
			ts                DOUBLE,
			name              TEXT,
			value
		);
		CREATE TABLE IF NOT EXISTS console (
			run_id            TEXT,
			ts                DOUBLE,
			message           TEXT
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating telemetry schema: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`, runID, unixSeconds(time.Now())); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering run %s: %w", runID, err)
	}

	r := &Recorder{
		db:    db,
		run:   runID,
		queue: make(chan record, queueSize),
		done:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

// LogParams queues a parameter record.
func (r *Recorder) LogParams(names []string, values []any) {
	r.enqueue(record{at: time.Now(), names: names, values: values})
}

// Print queues a console message.
func (r *Recorder) Print(message string) {
	r.enqueue(record{at: time.Now(), message: message, console: true})
}

// Dropped returns how many records were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	batch := make([]record, 0, maxBatch)
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch[:0], rec)
			batch = r.drain(batch)
			if err := r.write(batch); err != nil {
				log.Printf("telemetry recorder: %v", err)
			}
		case <-r.done:
			batch = r.drain(batch[:0])
			if len(batch) > 0 {
				if err := r.write(batch); err != nil {
					log.Printf("telemetry recorder: %v", err)
				}
			}
			return
		}
	}
}

func (r *Recorder) drain(batch []record) []record {
	for len(batch) < maxBatch {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) write(batch []record) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	for _, rec := range batch {
		ts := unixSeconds(rec.at)
		if rec.console {
			if _, err := tx.Exec(`INSERT INTO console (run_id, ts, message) VALUES (?, ?, ?)`, r.run, ts, rec.message); err != nil {
				tx.Rollback()
				return err
			}
			continue
		}
		for i, name := range rec.names {
			if i >= len(rec.values) {
				break
			}
			if _, err := tx.Exec(`INSERT INTO params (run_id, ts, name, value) VALUES (?, ?, ?, ?)`, r.run, ts, name, sqlValue(rec.values[i])); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

// sqlValue stores numbers as REAL and everything else as TEXT.
func sqlValue(v any) any {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1.0
		}
		return 0.0
	default:
		return fmt.Sprint(v)
	}
}

// Close writes what is still queued and closes the database. Records queued
// after Close are dropped.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		err = r.db.Close()
	})
	return err
}
