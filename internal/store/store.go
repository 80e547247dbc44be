// Package store provides a BoltDB-backed journal of liveness transitions.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"lullaby/internal/liveness"
)

var transitionsBucket = []byte("transitions")

// Record is one journal entry.
type Record struct {
	At     time.Time       `msgpack:"at" json:"at"`
	Target string          `msgpack:"target" json:"target"`
	From   liveness.Status `msgpack:"from" json:"from"`
	To     liveness.Status `msgpack:"to" json:"to"`
	Reason liveness.Reason `msgpack:"reason" json:"reason"`
}

// Store wraps a bbolt database of transition records keyed by time.
type Store struct {
	db  *bolt.DB
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transitionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating transitions bucket: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "store").Logger()}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// key orders records by time.
func key(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

// Append journals a transition for target.
func (s *Store) Append(target string, tr liveness.Transition) error {
	record := Record{
		At:     tr.At,
		Target: target,
		From:   tr.From,
		To:     tr.To,
		Reason: tr.Reason,
	}

	data, err := msgpack.Marshal(&record)
	if err != nil {
		return fmt.Errorf("marshaling transition: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transitionsBucket)

		// Same-nanosecond records are kept apart by nudging the later one.
		at := tr.At
		for b.Get(key(at)) != nil {
			at = at.Add(time.Nanosecond)
		}

		s.log.Debug().
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Str("reason", string(tr.Reason)).
			Msg("Transition journaled")

		return b.Put(key(at), data)
	})
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) Recent(limit int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(transitionsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var record Record
			if err := msgpack.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Hex("key", k).Msg("Skipping corrupt record")
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Latest returns the newest record, or false if the journal is empty.
func (s *Store) Latest() (Record, bool, error) {
	records, err := s.Recent(1)
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[0], true, nil
}

// RunPrune starts a background goroutine that deletes records older than
// retention, checking at the given interval. It stops when done is closed.
func (s *Store) RunPrune(checkInterval, retention time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := s.prune(time.Now().Add(-retention)); err != nil {
					s.log.Error().Err(err).Msg("Database error during prune")
				}
			}
		}
	}()
}

func (s *Store) prune(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(transitionsBucket).Cursor()
		limit := key(cutoff)
		for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		s.log.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("Pruned journal")
	}
	return removed, err
}
