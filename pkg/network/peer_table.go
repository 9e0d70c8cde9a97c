package network

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/heitortanoue/rescuebot/pkg/protocol"
)

// Peer is the last pose heard from another robot.
type Peer struct {
	ID       int           `json:"id"`
	Pose     protocol.Pose `json:"pose"`
	LastSeen time.Time     `json:"last_seen"`
}

// PeerTable keeps the most recently heard robots. It is bounded: once full,
// the robot heard from least recently is evicted.
type PeerTable struct {
	cache   *lru.Cache
	timeout time.Duration
}

// NewPeerTable holds at most size peers; older entries are evicted.
func NewPeerTable(size int, timeout time.Duration) (*PeerTable, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create peer table")
	}
	return &PeerTable{cache: cache, timeout: timeout}, nil
}

// Update records a pose broadcast by robot id.
func (pt *PeerTable) Update(id int, pose protocol.Pose, at time.Time) {
	pt.cache.Add(id, Peer{ID: id, Pose: pose, LastSeen: at})
}

// Get returns the last entry for robot id.
func (pt *PeerTable) Get(id int) (Peer, bool) {
	v, ok := pt.cache.Peek(id)
	if !ok {
		return Peer{}, false
	}
	return v.(Peer), true
}

// Active returns peers heard within the timeout, ordered by id.
func (pt *PeerTable) Active(now time.Time) []Peer {
	var active []Peer
	for _, key := range pt.cache.Keys() {
		v, ok := pt.cache.Peek(key)
		if !ok {
			continue
		}
		peer := v.(Peer)
		if now.Sub(peer.LastSeen) < pt.timeout {
			active = append(active, peer)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// Count returns how many peers were heard within the timeout.
func (pt *PeerTable) Count(now time.Time) int {
	return len(pt.Active(now))
}

// Len returns every remembered peer, stale ones included.
func (pt *PeerTable) Len() int {
	return pt.cache.Len()
}

// GetStats returns peer counters for the status endpoint.
func (pt *PeerTable) GetStats(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"peers_active":    pt.Count(now),
		"peers_known":     pt.Len(),
		"timeout_seconds": pt.timeout.Seconds(),
	}
}
