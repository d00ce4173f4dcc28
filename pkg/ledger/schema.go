package ledger

import "fmt"

// Redis key pattern helpers
//
// All keys are namespaced by run name so several runs can share a server.
//
// Key pattern: sift:{run_name}:{entity}[:{index}]

// RunKey returns the Redis key for a run's metadata hash.
// Pattern: sift:{run_name}:run
func RunKey(runName string) string {
	return fmt.Sprintf("sift:%s:run", runName)
}

// RoundKey returns the Redis key for one round's hash.
// Pattern: sift:{run_name}:round:{index}
func RoundKey(runName string, index int) string {
	return fmt.Sprintf("sift:%s:round:%d", runName, index)
}

// RoundsKey returns the Redis key for the ZSET indexing committed rounds.
// Members are round indexes, scored by index.
// Pattern: sift:{run_name}:rounds
func RoundsKey(runName string) string {
	return fmt.Sprintf("sift:%s:rounds", runName)
}

// StateKey returns the Redis key for the resume state hash.
// Pattern: sift:{run_name}:state
func StateKey(runName string) string {
	return fmt.Sprintf("sift:%s:state", runName)
}

// RoundScore converts a round index to its ZSET score.
func RoundScore(index int) float64 {
	return float64(index)
}

// IndexFromScore converts a ZSET score back to a round index.
func IndexFromScore(score float64) int {
	return int(score)
}
