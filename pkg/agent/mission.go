package agent

import (
	"log"
	"time"

	"github.com/heitortanoue/rescuebot/pkg/hardware"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Mission owns the victim list and the go-ahead gate. It applies queued
// victims and supervisor commands, takes the victim handed over by the
// report task and emits telemetry stream chunks at the configured rate.
func (a *Agent) Mission() error {
	if !a.enabled[scheduler.TaskMission] {
		return nil
	}
	now := a.clk.Now()

	if a.cfg.RequireGoAhead && a.goAhead && now.Sub(a.goAheadAt) > a.cfg.GoAheadTTL {
		a.goAhead = false
		log.Printf("[MISSION] Go-ahead expired after %v", now.Sub(a.goAheadAt))
	}

	a.missionQueue.Drain(func(p protocol.Payload) {
		switch v := p.(type) {
		case protocol.Victim:
			a.addVictim(v, "peer")
		case protocol.Command:
			a.applyCommand(v.Op, now)
		default:
			log.Printf("[MISSION] Ignoring %s payload", p.DataType())
		}
	})

	if v, ok := a.reportMission.Take(); ok {
		a.addVictim(v, "rfid")
	}

	a.emitStream(now)
	return nil
}

func (a *Agent) hasVictim(id string) bool {
	for _, v := range a.victims {
		if v.ID == id {
			return true
		}
	}
	return false
}

func (a *Agent) addVictim(v protocol.Victim, source string) {
	if a.hasVictim(v.ID) {
		return
	}
	if a.cfg.MaxVictims > 0 && len(a.victims) >= a.cfg.MaxVictims {
		a.counters.VictimOverflow++
		log.Printf("[MISSION] Victim list full (%d), dropping %s", len(a.victims), v.ID)
		return
	}
	a.victims = append(a.victims, v)
	a.logger.LogVictimFound(v, source)
}

func (a *Agent) applyCommand(op protocol.CommandOp, now time.Time) {
	switch op {
	case protocol.CmdStart:
		a.enableAll()
	case protocol.CmdStop:
		a.enableIdle()
		if err := a.drive(0, hardware.RadiusStraight); err != nil {
			a.logger.LogError("stop base", err)
		}
	case protocol.CmdGoAhead:
		a.goAhead = true
		a.goAheadAt = now
	default:
		log.Printf("[MISSION] Unknown command %d", int(op))
		return
	}
	a.logger.LogCommand(op)
}

// emitStream queues the chunks due since the previous call. The part of
// the elapsed time too short for a whole chunk carries over.
func (a *Agent) emitStream(now time.Time) {
	elapsed := now.Sub(a.streamLast)
	a.streamLast = now
	if a.cfg.StreamRate <= 0 || a.cfg.StreamSize <= 0 || elapsed < 0 {
		return
	}

	interval := time.Second / time.Duration(a.cfg.StreamRate)
	total := a.streamCarry + elapsed
	n := int(total / interval)
	a.streamCarry = total - time.Duration(n)*interval

	for i := 0; i < n; i++ {
		data := make([]byte, a.cfg.StreamSize)
		a.rng.Read(data)
		a.sendList.Push(protocol.StreamChunk{Counter: a.streamCounter, Data: data})
		a.streamCounter++
		a.counters.StreamChunks++
	}
}
