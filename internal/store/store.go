// Package store provides persistent storage for constellations, their
// execution results, and scheduler configuration using BoltDB. BoltDB is
// chosen over a server-backed database for easier deployment (pure Go, no
// C dependencies), matching the teacher's WorkflowStore rationale.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/constellation/internal/dag"
)

// ExecutionRecord is a durable summary of one orchestrator.Execute call,
// written once the constellation reaches a terminal state.
type ExecutionRecord struct {
	ConstellationID string
	ConstellationName string
	FinalState      string
	StartedAt       time.Time
	EndedAt         time.Time
	Statistics      dag.Statistics
}

// Store provides persistent storage for constellations and execution
// records using BoltDB. Grounded on the teacher's WorkflowStore: same
// bucket-per-concern layout, a versions bucket for overwrite history, and
// a hot in-memory cache for constellations, minus workflow-specific
// pagination the domain doesn't need.
type Store struct {
	db  *bbolt.DB
	mu  sync.RWMutex
	cache map[string]*dag.Constellation

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

var (
	bucketConstellations = []byte("constellations")
	bucketVersions       = []byte("versions")
	bucketExecutions     = []byte("executions")
	bucketExecIndex      = []byte("executions_by_time")
	bucketSchedules      = []byte("schedules")
)

// Open creates or opens a BoltDB-backed store at dbPath/constellations.db.
// meter may be nil, in which case instruments become no-ops.
func Open(dbPath string, meter metric.Meter, ids *dag.IDManager) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoGrowSync:   false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(dbPath+"/constellations.db", 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketConstellations, bucketVersions, bucketExecutions, bucketExecIndex, bucketSchedules} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Store{db: db, cache: make(map[string]*dag.Constellation)}
	if meter != nil {
		s.readLatency, _ = meter.Float64Histogram("constellation_store_read_ms")
		s.writeLatency, _ = meter.Float64Histogram("constellation_store_write_ms")
		s.cacheHits, _ = meter.Int64Counter("constellation_store_cache_hits_total")
		s.cacheMisses, _ = meter.Int64Counter("constellation_store_cache_misses_total")
	}

	if err := s.warmCache(ids); err != nil {
		db.Close()
		return nil, fmt.Errorf("warm cache: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) recordLatency(h metric.Float64Histogram, ctx context.Context, start time.Time, op string) {
	if h == nil {
		return
	}
	h.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
}

func (s *Store) addCounter(c metric.Int64Counter, ctx context.Context, kind string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

// PutConstellation serializes and writes a constellation, archiving the
// previous version if one already existed under the same ID.
func (s *Store) PutConstellation(ctx context.Context, c *dag.Constellation) error {
	start := time.Now()
	defer s.recordLatency(s.writeLatency, ctx, start, "put_constellation")

	data, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal constellation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConstellations)
		if existing := bucket.Get([]byte(c.ID)); existing != nil {
			versions := tx.Bucket(bucketVersions)
			versionKey := fmt.Sprintf("%s:%d", c.ID, time.Now().UnixNano())
			if err := versions.Put([]byte(versionKey), existing); err != nil {
				return fmt.Errorf("store version: %w", err)
			}
		}
		return bucket.Put([]byte(c.ID), data)
	})
	if err != nil {
		return fmt.Errorf("write constellation: %w", err)
	}

	s.cache[c.ID] = c
	return nil
}

// GetConstellation retrieves a constellation by ID, preferring the
// in-memory cache.
func (s *Store) GetConstellation(ctx context.Context, id string, ids *dag.IDManager) (*dag.Constellation, bool, error) {
	start := time.Now()
	defer s.recordLatency(s.readLatency, ctx, start, "get_constellation")

	s.mu.RLock()
	if c, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		s.addCounter(s.cacheHits, ctx, "constellation")
		return c, true, nil
	}
	s.mu.RUnlock()
	s.addCounter(s.cacheMisses, ctx, "constellation")

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConstellations)
		if v := bucket.Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read constellation: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	c, err := dag.FromJSON(data, ids)
	if err != nil {
		return nil, false, fmt.Errorf("decode constellation: %w", err)
	}

	s.mu.Lock()
	s.cache[id] = c
	s.mu.Unlock()
	return c, true, nil
}

// ListConstellationIDs returns every constellation ID currently persisted.
func (s *Store) ListConstellationIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteConstellation removes a constellation, archiving it first so it
// remains recoverable via the versions bucket.
func (s *Store) DeleteConstellation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConstellations)
		data := bucket.Get([]byte(id))
		if data != nil {
			versions := tx.Bucket(bucketVersions)
			archiveKey := fmt.Sprintf("archive:%s:%d", id, time.Now().UnixNano())
			if err := versions.Put([]byte(archiveKey), data); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete constellation: %w", err)
	}
	delete(s.cache, id)
	return nil
}

// PutExecution records a terminal execution result and indexes it by
// constellation name and start time for range queries.
func (s *Store) PutExecution(ctx context.Context, rec ExecutionRecord) error {
	start := time.Now()
	defer s.recordLatency(s.writeLatency, ctx, start, "put_execution")

	data, err := encodeExecution(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		execBucket := tx.Bucket(bucketExecutions)
		if err := execBucket.Put([]byte(rec.ConstellationID), data); err != nil {
			return err
		}
		indexBucket := tx.Bucket(bucketExecIndex)
		indexKey := fmt.Sprintf("%s:%d:%s", rec.ConstellationName, rec.StartedAt.UnixNano(), rec.ConstellationID)
		return indexBucket.Put([]byte(indexKey), []byte(rec.ConstellationID))
	})
}

// GetExecution retrieves an execution record by constellation ID.
func (s *Store) GetExecution(ctx context.Context, constellationID string) (ExecutionRecord, bool, error) {
	start := time.Now()
	defer s.recordLatency(s.readLatency, ctx, start, "get_execution")

	var rec ExecutionRecord
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketExecutions).Get([]byte(constellationID))
		if data == nil {
			return nil
		}
		found = true
		return decodeExecution(data, &rec)
	})
	if err != nil {
		return ExecutionRecord{}, false, fmt.Errorf("read execution: %w", err)
	}
	return rec, found, nil
}

// ListExecutions returns executions for a constellation name within
// [startTime, endTime], oldest first, up to limit.
func (s *Store) ListExecutions(ctx context.Context, constellationName string, startTime, endTime time.Time, limit int) ([]ExecutionRecord, error) {
	out := make([]ExecutionRecord, 0, limit)

	err := s.db.View(func(tx *bbolt.Tx) error {
		indexBucket := tx.Bucket(bucketExecIndex)
		execBucket := tx.Bucket(bucketExecutions)

		prefix := []byte(constellationName + ":")
		cursor := indexBucket.Cursor()

		for k, v := cursor.Seek(prefix); k != nil && len(out) < limit; k, v = cursor.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			data := execBucket.Get(v)
			if data == nil {
				continue
			}
			var rec ExecutionRecord
			if err := decodeExecution(data, &rec); err != nil {
				continue
			}
			if rec.StartedAt.After(endTime) {
				break
			}
			if rec.StartedAt.Before(startTime) {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// PutSchedule persists raw scheduler configuration bytes under name,
// consumed by internal/scheduler on startup.
func (s *Store) PutSchedule(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(name), data)
	})
}

// ListSchedules returns every persisted schedule's raw bytes, keyed by name.
func (s *Store) ListSchedules(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

// Stats reports bucket sizes and cache occupancy for diagnostics.
func (s *Store) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	s.db.View(func(tx *bbolt.Tx) error {
		stats["db_size_bytes"] = tx.Size()
		for _, b := range [][]byte{bucketConstellations, bucketVersions, bucketExecutions, bucketSchedules} {
			if bucket := tx.Bucket(b); bucket != nil {
				stats[string(b)+"_count"] = bucket.Stats().KeyN
			}
		}
		return nil
	})
	s.mu.RLock()
	stats["cache_constellations"] = len(s.cache)
	s.mu.RUnlock()
	return stats
}

func (s *Store) warmCache(ids *dag.IDManager) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConstellations)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			c, err := dag.FromJSON(v, ids)
			if err != nil {
				return nil // skip invalid entries
			}
			s.cache[string(k)] = c
			return nil
		})
	})
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
