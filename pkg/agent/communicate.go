package agent

import (
	"log"
	"time"

	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Communicate broadcasts everything on the send list, one frame per item,
// then drains and routes every pending inbound frame.
func (a *Agent) Communicate() error {
	if !a.enabled[scheduler.TaskCommunicate] {
		return nil
	}
	now := a.clk.Now()

	items := a.sendList.Flush()
	for i, p := range items {
		frame := protocol.Frame{
			RecvID:    protocol.AddrBroadcast,
			SendID:    a.cfg.ID,
			SendTeam:  a.cfg.Team,
			Type:      protocol.FrameData,
			Timestamp: protocol.Timestamp(now),
			SeqNo:     i + 1,
			SeqID:     a.seqID,
			SeqLastID: len(items),
			Payload:   p,
		}
		packet, err := protocol.Encode(frame)
		if err != nil {
			a.counters.EncodeErrors++
			a.logger.LogError("encode "+p.DataType().String(), err)
			continue
		}
		if err := a.transport.Broadcast(packet); err != nil {
			a.counters.SendErrors++
			a.logger.LogError("broadcast", err)
			continue
		}
		a.counters.FramesSent++
	}

	for {
		packet, ok := a.transport.Receive()
		if !ok {
			break
		}
		a.route(packet, now)
	}

	a.seqID++
	return nil
}

// route decodes one inbound packet and hands its payload to the task that
// owns it. Undecodable, self-sent and foreign-team frames are dropped.
func (a *Agent) route(packet []byte, now time.Time) {
	f, err := protocol.Decode(packet, a.cfg.ID, a.cfg.Team)
	if err != nil {
		a.counters.FramesDropped++
		return
	}
	a.counters.FramesReceived++

	switch f.Type {
	case protocol.FrameAck:
	case protocol.FrameGoAhead:
		a.missionQueue.Push(protocol.Command{Op: protocol.CmdGoAhead})
		log.Printf("[COMM] Go-ahead from %d for team %d", f.SendID, f.SendTeam)
	case protocol.FrameData:
		switch p := f.Payload.(type) {
		case protocol.Victim, protocol.Command:
			a.missionQueue.Push(p)
		case protocol.Sector:
			a.navigateQueue.Push(p)
		case protocol.Pose:
			a.counters.PeerPoses++
			if !a.peersSeen[f.SendID] {
				a.peersSeen[f.SendID] = true
				a.logger.LogPeerPose(f.SendID, p)
			}
			if a.peers != nil {
				a.peers.Update(f.SendID, p, now)
			}
		case protocol.StreamChunk:
			a.counters.StreamReceived++
		}
	}
}
