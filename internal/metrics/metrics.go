package metrics

import (
	"sync"
	"time"
)

// Collector tracks engine counters for the /metrics endpoint.
// Manual tracking without external dependencies; the exposition format
// lives in prometheus.go.
type Collector struct {
	mu sync.RWMutex

	// Generation job metrics
	jobsEnqueued    map[string]int64 // by module key
	jobsFinished    map[string]int64 // by terminal status
	generateCount   int64
	generateDurMs   int64
	dispatchRefused int64 // insufficient-credits refusals

	// Ledger metrics
	ledgerEntries map[string]int64 // by reason
	checkIns      int64
	redemptions   int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		jobsEnqueued:  make(map[string]int64),
		jobsFinished:  make(map[string]int64),
		ledgerEntries: make(map[string]int64),
		startTime:     time.Now(),
	}
}

// RecordJobEnqueued counts one accepted module job.
func (c *Collector) RecordJobEnqueued(moduleKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsEnqueued[moduleKey]++
}

// RecordJobFinished counts one terminal transition. A non-zero duration
// feeds the average generation latency.
func (c *Collector) RecordJobFinished(moduleKey, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsFinished[status]++
	if duration > 0 {
		c.generateCount++
		c.generateDurMs += duration.Milliseconds()
	}
}

// RecordDispatchRefused counts a dispatch refused on a negative balance.
func (c *Collector) RecordDispatchRefused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchRefused++
}

// RecordLedgerEntry counts one committed entry by reason.
func (c *Collector) RecordLedgerEntry(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledgerEntries[reason]++
}

// RecordCheckIn counts one successful daily check-in.
func (c *Collector) RecordCheckIn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkIns++
}

// RecordRedemption counts one successful code redemption.
func (c *Collector) RecordRedemption() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redemptions++
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds   int64
	JobsEnqueued    map[string]int64
	JobsFinished    map[string]int64
	GenerateCount   int64
	GenerateDurMs   int64
	DispatchRefused int64
	LedgerEntries   map[string]int64
	CheckIns        int64
	Redemptions     int64
}

// GetSnapshot returns a copy of the current counters.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		UptimeSeconds:   int64(time.Since(c.startTime).Seconds()),
		JobsEnqueued:    make(map[string]int64, len(c.jobsEnqueued)),
		JobsFinished:    make(map[string]int64, len(c.jobsFinished)),
		GenerateCount:   c.generateCount,
		GenerateDurMs:   c.generateDurMs,
		DispatchRefused: c.dispatchRefused,
		LedgerEntries:   make(map[string]int64, len(c.ledgerEntries)),
		CheckIns:        c.checkIns,
		Redemptions:     c.redemptions,
	}
	for k, v := range c.jobsEnqueued {
		snap.JobsEnqueued[k] = v
	}
	for k, v := range c.jobsFinished {
		snap.JobsFinished[k] = v
	}
	for k, v := range c.ledgerEntries {
		snap.LedgerEntries[k] = v
	}
	return snap
}
