package agent

import (
	"log"

	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Refine reads the landmark sensor. A known tag corrects the filter; an
// unknown one is a victim and goes to the report task.
func (a *Agent) Refine() error {
	if !a.enabled[scheduler.TaskRefine] {
		return nil
	}

	id, err := a.tags.Read()
	if err != nil {
		a.counters.HardwareErrors++
		a.logger.LogError("rfid", err)
		return nil
	}

	idx, status := a.env.Check(id)
	switch status {
	case environment.TagKnown:
		if err := a.filter.WeightByLandmark(idx); err != nil {
			a.logger.LogError("weight landmark", err)
			return nil
		}
		a.filter.Resample()
		a.estimate = a.filter.Estimate()
		if _, err := a.filter.RandomInjection(idx); err != nil {
			a.logger.LogError("inject particles", err)
		}
		a.counters.LandmarkFixes++
	case environment.TagUnknown:
		a.refineReport.Put(id)
	case environment.TagDisabled:
		a.counters.DisabledTags++
		log.Printf("[REFINE] Disabled tag %s read", id)
	}
	return nil
}

// Report turns a victim id from refine into a victim record at the current
// estimate, unless the mission already knows it.
func (a *Agent) Report() error {
	if !a.enabled[scheduler.TaskReport] {
		return nil
	}

	id, ok := a.refineReport.Take()
	if !ok || a.hasVictim(id) {
		return nil
	}

	v := protocol.Victim{X: a.estimate.X, Y: a.estimate.Y, ID: id}
	a.reportMission.Put(v)
	a.sendList.Push(v)
	a.counters.VictimsReported++
	return nil
}
