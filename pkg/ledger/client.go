package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by the bolt backend when a record does not exist.
// The Redis backend returns redis.Nil; use IsNotFound for either.
var ErrNotFound = errors.New("ledger: not found")

// Client provides run-scoped Redis operations for the ledger.
// All keys are automatically namespaced with the run name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb     *redis.Client
	runName string
}

// NewClient creates a new ledger client for the specified run.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - runName: run identifier (must not be empty)
//
// Returns an error if runName is empty.
func NewClient(redisOpts *redis.Options, runName string) (*Client, error) {
	if runName == "" {
		return nil, fmt.Errorf("run name cannot be empty")
	}

	return &Client{
		rdb:     redis.NewClient(redisOpts),
		runName: runName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(url, runName string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewClient(opts, runName)
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveRun writes the run metadata hash.
func (c *Client) SaveRun(ctx context.Context, run *Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if err := c.rdb.HSet(ctx, RunKey(c.runName), RunToHash(run)).Err(); err != nil {
		return fmt.Errorf("failed to write run to Redis: %w", err)
	}
	return nil
}

// GetRun reads the run metadata.
// Returns (nil, redis.Nil) if the run doesn't exist.
func (c *Client) GetRun(ctx context.Context) (*Run, error) {
	hash, err := c.rdb.HGetAll(ctx, RunKey(c.runName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	run, err := HashToRun(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return run, nil
}

// CommitRound atomically records a closed round, the resume state taken
// after it, and the updated run metadata. Committing the same round index
// twice overwrites it, which keeps a retried commit idempotent.
func (c *Client) CommitRound(ctx context.Context, run *Run, round *UpdateRound, state *State) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if err := round.Validate(); err != nil {
		return fmt.Errorf("invalid round: %w", err)
	}

	hash, err := RoundToHash(round)
	if err != nil {
		return fmt.Errorf("failed to serialize round: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := RoundKey(c.runName, round.Index)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hash)
		pipe.ZAdd(ctx, RoundsKey(c.runName), redis.Z{
			Score:  RoundScore(round.Index),
			Member: strconv.Itoa(round.Index),
		})
		if state != nil {
			pipe.HSet(ctx, StateKey(c.runName), StateToHash(state))
		}
		pipe.HSet(ctx, RunKey(c.runName), RunToHash(run))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit round %d: %w", round.Index, err)
	}
	return nil
}

// GetRound reads one round.
// Returns (nil, redis.Nil) if the round doesn't exist.
func (c *Client) GetRound(ctx context.Context, index int) (*UpdateRound, error) {
	hash, err := c.rdb.HGetAll(ctx, RoundKey(c.runName, index)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read round from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	round, err := HashToRound(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize round: %w", err)
	}
	return round, nil
}

// Rounds returns every committed round in index order.
func (c *Client) Rounds(ctx context.Context) ([]*UpdateRound, error) {
	results, err := c.rdb.ZRangeWithScores(ctx, RoundsKey(c.runName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}

	rounds := make([]*UpdateRound, 0, len(results))
	for _, z := range results {
		round, err := c.GetRound(ctx, IndexFromScore(z.Score))
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// LatestState returns the resume state of the last committed round.
// Returns (nil, redis.Nil) if nothing has been committed.
func (c *Client) LatestState(ctx context.Context) (*State, error) {
	hash, err := c.rdb.HGetAll(ctx, StateKey(c.runName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	state, err := HashToState(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}
	return state, nil
}

// Reset removes every record of the run, so a fresh run does not inherit
// rounds from an earlier one with the same name.
func (c *Client) Reset(ctx context.Context) error {
	indexes, err := c.rdb.ZRange(ctx, RoundsKey(c.runName), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list rounds: %w", err)
	}

	keys := []string{RunKey(c.runName), RoundsKey(c.runName), StateKey(c.runName)}
	for _, member := range indexes {
		index, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		keys = append(keys, RoundKey(c.runName, index))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset run: %w", err)
	}
	return nil
}

// IsNotFound returns true if err reports a missing record from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, ErrNotFound)
}
