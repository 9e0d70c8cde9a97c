package swim

import (
	"fmt"
	"log"
	"net"
	"sort"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/pkg/errors"
)

// rosterEvents logs memberlist join, leave and update events.
type rosterEvents struct {
	name string
}

// NotifyJoin is called when a robot joins the swarm.
func (e *rosterEvents) NotifyJoin(n *memberlist.Node) {
	if n.Name != e.name {
		log.Printf("[SWIM] Robot %s (%s) joined the swarm", n.Name, n.Address())
	}
}

// NotifyLeave is called when a robot leaves or is declared dead.
func (e *rosterEvents) NotifyLeave(n *memberlist.Node) {
	log.Printf("[SWIM] Robot %s left the swarm", n.Name)
}

// NotifyUpdate is called when a robot's metadata changes.
func (e *rosterEvents) NotifyUpdate(n *memberlist.Node) {
	log.Printf("[SWIM] Robot %s updated", n.Name)
}

// RosterConfig configures NewRoster.
type RosterConfig struct {
	RobotID  int
	BindAddr string   // e.g. "0.0.0.0"
	BindPort int      // SWIM port, 0 picks a free one
	UDPPort  int      // port robots listen on for frames
	Seeds    []string // SWIM addresses joined at start
}

// Roster tracks which robots are alive using SWIM. It hands their addresses
// to the UDP server so frames are unicast to live members instead of
// broadcast.
type Roster struct {
	ml      *memberlist.Memberlist
	name    string
	udpPort int
}

// NodeName is the memberlist name of a robot.
func NodeName(robotID int) string {
	return fmt.Sprintf("robot-%d", robotID)
}

// NewRoster starts memberlist and joins any seeds other than itself.
func NewRoster(config RosterConfig) (*Roster, error) {
	name := NodeName(config.RobotID)

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = name
	cfg.BindAddr = config.BindAddr
	cfg.BindPort = config.BindPort
	cfg.AdvertisePort = config.BindPort
	cfg.Events = &rosterEvents{name: name}

	// Longer intervals keep SWIM traffic low on the shared radio.
	cfg.PushPullInterval = 30 * time.Second
	cfg.ProbeTimeout = time.Second
	cfg.ProbeInterval = 5 * time.Second

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create memberlist")
	}

	r := &Roster{ml: ml, name: name, udpPort: config.UDPPort}

	seeds := make([]string, 0, len(config.Seeds))
	for _, seed := range config.Seeds {
		if seed != "" && seed != r.LocalAddr() {
			seeds = append(seeds, seed)
		}
	}
	if len(seeds) > 0 {
		joined, err := ml.Join(seeds)
		if err != nil {
			log.Printf("[SWIM] Warning: could not join seeds %v: %v", seeds, err)
		} else {
			log.Printf("[SWIM] Joined %d seed robots", joined)
		}
	}

	return r, nil
}

// LiveMembers returns live members sorted by name, excluding this robot.
func (r *Roster) LiveMembers() []*memberlist.Node {
	all := r.ml.Members()
	live := make([]*memberlist.Node, 0, len(all))
	for _, member := range all {
		if member.Name != r.name {
			live = append(live, member)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Name < live[j].Name })
	return live
}

// Targets returns the UDP frame address of every live member.
func (r *Roster) Targets() []*net.UDPAddr {
	members := r.LiveMembers()
	targets := make([]*net.UDPAddr, 0, len(members))
	for _, m := range members {
		targets = append(targets, &net.UDPAddr{IP: m.Addr, Port: r.udpPort})
	}
	return targets
}

// Join adds robots at the given SWIM addresses.
func (r *Roster) Join(addrs ...string) (int, error) {
	n, err := r.ml.Join(addrs)
	if err != nil {
		return n, errors.Wrapf(err, "join %v", addrs)
	}
	return n, nil
}

// MemberCount counts live members, this robot included.
func (r *Roster) MemberCount() int {
	return r.ml.NumMembers()
}

// LocalAddr returns the SWIM address of this robot.
func (r *Roster) LocalAddr() string {
	return r.ml.LocalNode().Address()
}

// Name returns this robot's memberlist name.
func (r *Roster) Name() string {
	return r.name
}

// Leave announces departure and shuts the memberlist down.
func (r *Roster) Leave(timeout time.Duration) error {
	if err := r.ml.Leave(timeout); err != nil {
		return errors.Wrap(err, "leave swarm")
	}
	if err := r.ml.Shutdown(); err != nil {
		return errors.Wrap(err, "shutdown memberlist")
	}
	return nil
}

// GetStats returns roster counters for the status endpoint.
func (r *Roster) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"node_name":     r.name,
		"total_members": r.ml.NumMembers(),
		"live_members":  len(r.LiveMembers()),
		"local_addr":    r.LocalAddr(),
	}
}
