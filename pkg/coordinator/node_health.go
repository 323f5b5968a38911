package coordinator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"fragstore/pkg/shared"
	"fragstore/pkg/types"

	"go.uber.org/zap"
)

// OnProbe registers fn to be called with the node statuses after every
// probe round. Hooks must be registered before Start.
func (c *Coordinator) OnProbe(fn func([]types.NodeStatus)) {
	c.probeHooks = append(c.probeHooks, fn)
}

// NodeStatuses returns a copy of the last known state of every node, in
// node order.
func (c *Coordinator) NodeStatuses() []types.NodeStatus {
	c.statusMutex.RLock()
	defer c.statusMutex.RUnlock()

	statuses := make([]types.NodeStatus, len(c.nodeStatus))
	copy(statuses, c.nodeStatus)
	return statuses
}

func (c *Coordinator) nodeHealthLoop() {
	c.ProbeNodes(c.ctx)

	ticker := time.NewTicker(c.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.ProbeNodes(c.ctx)
		}
	}
}

// ProbeNodes opens and immediately closes a connection to every node,
// concurrently, and records which ones answered.
func (c *Coordinator) ProbeNodes(ctx context.Context) []types.NodeStatus {
	results := make([]types.NodeStatus, len(c.config.Nodes))

	var wg sync.WaitGroup
	for i, endpoint := range c.config.Nodes {
		wg.Add(1)
		go func(i int, endpoint types.StorageEndpoint) {
			defer wg.Done()

			status := types.NodeStatus{
				Index:     i,
				Address:   endpoint.Address(),
				LastProbe: time.Now().UTC().Format(time.RFC3339),
			}
			if err := shared.Probe(ctx, endpoint.Address(), c.config.NodeTimeout); err != nil {
				status.LastError = err.Error()
			} else {
				status.Reachable = true
			}
			results[i] = status
		}(i, endpoint)
	}
	wg.Wait()

	c.statusMutex.Lock()
	for _, status := range results {
		previous := c.nodeStatus[status.Index]
		if previous.LastProbe != "" && previous.Reachable != status.Reachable {
			if status.Reachable {
				c.logger.Info("Storage node reachable again",
					zap.Int("node", status.Index),
					zap.String("address", status.Address))
			} else {
				c.logger.Warn("Storage node unreachable",
					zap.Int("node", status.Index),
					zap.String("address", status.Address),
					zap.String("error", status.LastError))
			}
		}
		c.nodeStatus[status.Index] = status

		up := 0.0
		if status.Reachable {
			up = 1
		}
		c.metrics.NodeUp.WithLabelValues(strconv.Itoa(status.Index)).Set(up)
	}
	c.statusMutex.Unlock()
	c.metrics.LastNodeProbe.SetToCurrentTime()

	for _, hook := range c.probeHooks {
		hook(results)
	}
	return results
}
