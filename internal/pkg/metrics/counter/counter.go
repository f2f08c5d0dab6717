package counter

import (
	"context"
	"strconv"

	"github.com/stablofi/stablo/internal/pkg/cache"
)

// Reconciliation counters live in Redis hashes keyed by operation kind,
// so counts survive restarts and aggregate across instances.
const (
	transitionsKey     = "reconcile:counters:transitions"
	transientErrorsKey = "reconcile:counters:transient_errors"
	forcedFailuresKey  = "reconcile:counters:forced_failures"
	cyclesKey          = "reconcile:counters:cycles"
)

// AddTransition increments the applied-transition counter for a kind
func AddTransition(kind string) error {
	return incr(transitionsKey, kind)
}

// AddTransientError increments the transient-error counter for a kind
func AddTransientError(kind string) error {
	return incr(transientErrorsKey, kind)
}

// AddForcedFailure increments the age-ceiling forced-failure counter
func AddForcedFailure(kind string) error {
	return incr(forcedFailuresKey, kind)
}

// AddCycle increments the completed-cycle counter for a kind
func AddCycle(kind string) error {
	return incr(cyclesKey, kind)
}

func incr(key, field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, key, field, 1).Err()
}

// Stats is a snapshot of all reconciliation counters per kind.
type Stats struct {
	Transitions     map[string]int64 `json:"transitions"`
	TransientErrors map[string]int64 `json:"transient_errors"`
	ForcedFailures  map[string]int64 `json:"forced_failures"`
	Cycles          map[string]int64 `json:"cycles"`
}

// GetStats reads all counters.
func GetStats() (*Stats, error) {
	stats := &Stats{}
	var err error
	if stats.Transitions, err = readHash(transitionsKey); err != nil {
		return nil, err
	}
	if stats.TransientErrors, err = readHash(transientErrorsKey); err != nil {
		return nil, err
	}
	if stats.ForcedFailures, err = readHash(forcedFailuresKey); err != nil {
		return nil, err
	}
	if stats.Cycles, err = readHash(cyclesKey); err != nil {
		return nil, err
	}
	return stats, nil
}

func readHash(key string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(data))
	for field, raw := range data {
		if v, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			result[field] = v
		}
	}
	return result, nil
}
