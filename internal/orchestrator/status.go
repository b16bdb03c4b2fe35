package orchestrator

// Snapshot is a point-in-time view of one parent's queue, intended for
// polling clients. Jobs appear in enqueue order.
type Snapshot struct {
	ParentID string      `json:"parent_id"`
	Status   ParentState `json:"status"`
	Jobs     []Job       `json:"jobs"`
}

// GetParentStatus aggregates the parent's job set into a consistent
// snapshot. The aggregate is computed fresh from the authoritative job
// records on every call and is never cached, so it cannot diverge from
// per-job truth. An unknown (or deleted) parent reports an empty IDLE
// queue.
func (o *Orchestrator) GetParentStatus(parentID string) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{ParentID: parentID, Status: ParentIdle}
	pq := o.parents[parentID]
	if pq == nil {
		return snap
	}
	snap.Jobs = make([]Job, 0, len(pq.jobs))
	for _, job := range pq.jobs {
		snap.Jobs = append(snap.Jobs, *job)
	}
	snap.Status = AggregateStatus(snap.Jobs)
	return snap
}

// AggregateStatus derives the parent-level state from a job set:
// GENERATING while any job is WAITING or RUNNING, PARTIALLY_FAILED when
// none are active but at least one is FAILED, COMPLETED when every job
// is SUCCEEDED or CANCELLED, IDLE for an empty queue.
func AggregateStatus(jobs []Job) ParentState {
	if len(jobs) == 0 {
		return ParentIdle
	}
	var failed bool
	for _, job := range jobs {
		switch job.Status {
		case StatusWaiting, StatusRunning:
			return ParentGenerating
		case StatusFailed:
			failed = true
		}
	}
	if failed {
		return ParentPartiallyFailed
	}
	return ParentCompleted
}
