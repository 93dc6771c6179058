package taskdb

import (
	"time"

	"github.com/taskchampion/tc/pkg/metrics"
)

// Collector periodically samples a replica's TaskDb and publishes the
// gauges metrics.go declares. It is optional: a replica works fine
// without one, and cmd/tc never starts one since the CLI process is
// too short-lived for periodic sampling to matter. A long-running
// process like cmd/tc-sync-server's client-facing sibling would start
// one alongside its own server-side metrics.
type Collector struct {
	db     *TaskDb
	stopCh chan struct{}
}

// NewCollector creates a collector for db.
func NewCollector(db *TaskDb) *Collector {
	return &Collector{
		db:     db,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting on a 15 second interval, taking one sample
// immediately before the first tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectOperationMetrics()
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.db.AllTasks()
	if err != nil {
		return
	}

	counts := map[string]int{}
	for _, task := range tasks {
		status := task["status"]
		if status == "" {
			status = "unknown"
		}
		counts[status]++
	}

	for status, count := range counts {
		metrics.TasksTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectOperationMetrics() {
	n, err := c.db.NumOperations()
	if err != nil {
		return
	}
	metrics.PendingOperationsTotal.Set(float64(n))
}
