package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// RunAll runs one cycle per device with at most Config.Workers in flight.
// Results are in deviceIDs order. Devices not started because ctx ended
// carry ctx's error.
func (p *Pipeline) RunAll(ctx context.Context, deviceIDs []string) []CycleResult {
	results := make([]CycleResult, len(deviceIDs))
	sem := semaphore.NewWeighted(int64(p.cfg.Workers))

	var wg sync.WaitGroup
	for i, id := range deviceIDs {
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			for j := i; j < len(deviceIDs); j++ {
				results[j] = CycleResult{DeviceID: deviceIDs[j], Err: err}
			}
			break
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = p.RunCollectionCycle(ctx, id)
		}(i, id)
	}

	wg.Wait()
	return results
}

// Sweep runs a cycle for every registered device.
func (p *Pipeline) Sweep(ctx context.Context) ([]CycleResult, error) {
	ids, err := p.deps.Store.ListDeviceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return p.RunAll(ctx, ids), nil
}
