package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket keys. Each run gets its own top-level bucket named after the run;
// rounds live in a nested bucket keyed by big-endian index so a cursor walks
// them in order.
var (
	bucketRounds = []byte("rounds")
	keyRun       = []byte("run")
	keyState     = []byte("state")
)

// BoltStore is the embedded ledger backend.
type BoltStore struct {
	db      *bolt.DB
	runName string
}

// OpenBolt opens (or creates) a bbolt ledger at path for the given run.
func OpenBolt(path, runName string) (*BoltStore, error) {
	if runName == "" {
		return nil, fmt.Errorf("run name cannot be empty")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &BoltStore{db: db, runName: runName}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func roundKey(index int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

// get copies a value out of the run bucket; bbolt slices are only valid
// inside the transaction.
func (s *BoltStore) get(key []byte, nested []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.runName))
		if b != nil && nested != nil {
			b = b.Bucket(nested)
		}
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// SaveRun writes the run metadata.
func (s *BoltStore) SaveRun(ctx context.Context, run *Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(s.runName))
		if err != nil {
			return err
		}
		return b.Put(keyRun, data)
	})
}

// GetRun reads the run metadata. Returns ErrNotFound if absent.
func (s *BoltStore) GetRun(ctx context.Context) (*Run, error) {
	data, err := s.get(keyRun, nil)
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// CommitRound writes the round, the resume state and the run metadata in a
// single transaction.
func (s *BoltStore) CommitRound(ctx context.Context, run *Run, round *UpdateRound, state *State) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if err := round.Validate(); err != nil {
		return fmt.Errorf("invalid round: %w", err)
	}
	runJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	roundJSON, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	var stateJSON []byte
	if state != nil {
		if stateJSON, err = json.Marshal(state); err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(s.runName))
		if err != nil {
			return err
		}
		rb, err := b.CreateBucketIfNotExists(bucketRounds)
		if err != nil {
			return err
		}
		if err := rb.Put(roundKey(round.Index), roundJSON); err != nil {
			return err
		}
		if stateJSON != nil {
			if err := b.Put(keyState, stateJSON); err != nil {
				return err
			}
		}
		return b.Put(keyRun, runJSON)
	})
	if err != nil {
		return fmt.Errorf("failed to commit round %d: %w", round.Index, err)
	}
	return nil
}

// GetRound reads one round. Returns ErrNotFound if absent.
func (s *BoltStore) GetRound(ctx context.Context, index int) (*UpdateRound, error) {
	data, err := s.get(roundKey(index), bucketRounds)
	if err != nil {
		return nil, err
	}
	var round UpdateRound
	if err := json.Unmarshal(data, &round); err != nil {
		return nil, fmt.Errorf("unmarshal round: %w", err)
	}
	return &round, nil
}

// Rounds returns every committed round in index order.
func (s *BoltStore) Rounds(ctx context.Context) ([]*UpdateRound, error) {
	var rounds []*UpdateRound
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.runName))
		if b == nil {
			return nil
		}
		rb := b.Bucket(bucketRounds)
		if rb == nil {
			return nil
		}
		return rb.ForEach(func(_, v []byte) error {
			var round UpdateRound
			if err := json.Unmarshal(v, &round); err != nil {
				return fmt.Errorf("unmarshal round: %w", err)
			}
			rounds = append(rounds, &round)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if rounds == nil {
		rounds = []*UpdateRound{}
	}
	return rounds, nil
}

// LatestState returns the resume state of the last committed round.
// Returns ErrNotFound if nothing has been committed.
func (s *BoltStore) LatestState(ctx context.Context) (*State, error) {
	data, err := s.get(keyState, nil)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Reset removes every record of the run.
func (s *BoltStore) Reset(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(s.runName)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(s.runName))
	})
}
