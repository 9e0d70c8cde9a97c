package status

import (
	"sync"

	"github.com/heitortanoue/rescuebot/pkg/agent"
	"github.com/heitortanoue/rescuebot/pkg/network"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Snapshot is everything the status server shows, captured once per cycle
// on the scheduler goroutine.
type Snapshot struct {
	RunID     string                 `json:"run_id"`
	Cycle     int64                  `json:"cycle"`
	Agent     agent.Snapshot         `json:"agent"`
	Scheduler scheduler.Report       `json:"scheduler"`
	Network   map[string]interface{} `json:"network,omitempty"`
	Peers     []network.Peer         `json:"peers,omitempty"`
	Roster    map[string]interface{} `json:"roster,omitempty"`
}

// Board holds the latest snapshot. HTTP handlers read it; only the
// scheduler goroutine publishes.
type Board struct {
	mutex     sync.RWMutex
	runID     string
	snap      Snapshot
	published bool
}

// NewBoard creates an empty board for one run.
func NewBoard(runID string) *Board {
	return &Board{runID: runID}
}

// RunID returns the run id stamped on every snapshot.
func (b *Board) RunID() string {
	return b.runID
}

// Publish replaces the current snapshot.
func (b *Board) Publish(s Snapshot) {
	s.RunID = b.runID
	b.mutex.Lock()
	b.snap = s
	b.published = true
	b.mutex.Unlock()
}

// Latest returns the current snapshot, false before the first publish.
func (b *Board) Latest() (Snapshot, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.snap, b.published
}
