package workflow

import (
	"sync"
	"time"
)

// runState tracks per-node statuses and results for one run. All access is
// guarded; node goroutines write their own results while the executor reads
// at level boundaries.
type runState struct {
	mu      sync.RWMutex
	status  map[string]NodeStatus
	results map[string]*NodeResult
}

func newRunState(w *Workflow) *runState {
	status := make(map[string]NodeStatus, len(w.Nodes))
	for id := range w.Nodes {
		status[id] = NodeStatusPending
	}
	return &runState{
		status:  status,
		results: make(map[string]*NodeResult, len(w.Nodes)),
	}
}

func (rs *runState) markRunning(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status[nodeID] = NodeStatusRunning
}

func (rs *runState) markRetrying(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status[nodeID] = NodeStatusRetrying
}

// commit stores a node's final result and terminal status.
func (rs *runState) commit(result *NodeResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status[result.NodeID] = result.Status
	rs.results[result.NodeID] = result
}

// skip records a SKIPPED result without executing the node.
func (rs *runState) skip(nodeID, reason string) *NodeResult {
	result := &NodeResult{
		NodeID:      nodeID,
		Status:      NodeStatusSkipped,
		SkipReason:  reason,
		CompletedAt: time.Now(),
	}
	rs.commit(result)
	return result
}

// cancelPending marks every node still pending as CANCELLED.
func (rs *runState) cancelPending(reason string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	now := time.Now()
	for id, st := range rs.status {
		if st == NodeStatusPending {
			rs.status[id] = NodeStatusCancelled
			rs.results[id] = &NodeResult{
				NodeID:      id,
				Status:      NodeStatusCancelled,
				SkipReason:  reason,
				CompletedAt: now,
			}
		}
	}
}

func (rs *runState) nodeStatus(nodeID string) NodeStatus {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.status[nodeID]
}

func (rs *runState) result(nodeID string) *NodeResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.results[nodeID]
}

func (rs *runState) counts() (executed, failed, skipped int) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, st := range rs.status {
		switch st {
		case NodeStatusCompleted:
			executed++
		case NodeStatusFailed:
			failed++
		case NodeStatusSkipped:
			skipped++
		}
	}
	return executed, failed, skipped
}
