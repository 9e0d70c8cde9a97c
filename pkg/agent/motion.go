package agent

import (
	"fmt"
	"log"

	"github.com/heitortanoue/rescuebot/pkg/hardware"
	"github.com/heitortanoue/rescuebot/pkg/pheromone"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Drive radii per suggested direction.
const (
	radiusWide  = 200
	radiusSharp = 100
)

// Light bumper codes above this value are fault codes.
const bumperFault = 64

// Navigate merges peer sectors into the pheromone map, deposits at the
// estimate when the filter is confident, queues every sector for broadcast
// and hands the next direction to control.
func (a *Agent) Navigate() error {
	if !a.enabled[scheduler.TaskNavigate] {
		return nil
	}

	a.navigateQueue.Drain(func(p protocol.Payload) {
		s, ok := p.(protocol.Sector)
		if !ok {
			log.Printf("[NAVIGATE] Ignoring %s payload", p.DataType())
			return
		}
		if err := a.pher.MergeSector(s); err != nil {
			a.counters.SectorsRejected++
			log.Printf("[NAVIGATE] Rejected sector %d: %v", s.Num, err)
			return
		}
		a.counters.SectorsMerged++
	})

	a.accuracy = a.filter.Accuracy()
	if a.accuracy > a.cfg.AccuracyLimit {
		a.pher.Deposit(a.estimate.X, a.estimate.Y)
		a.counters.Deposits++
	}

	for _, s := range a.pher.ExtractSectors() {
		a.sendList.Push(s)
	}

	dir := pheromone.DirectionNone
	if a.goAhead {
		dir = a.pher.Sense(a.estimate)
		if dir == pheromone.DirectionAny {
			dir = pheromone.Direction(a.rng.Intn(int(pheromone.DirectionNone)))
		}
	}
	a.navControl.Put(dir)
	return nil
}

// Control pulls odometry into the filter at most once per request period,
// refreshes the estimate, broadcasts it and applies the latest direction.
func (a *Agent) Control() error {
	if !a.enabled[scheduler.TaskControl] {
		return nil
	}
	now := a.clk.Now()

	if now.Sub(a.lastRequest) > a.cfg.RequestPeriod {
		s, err := a.base.SensorsUpdate(hardware.PacketOdometry)
		if err != nil {
			a.counters.HardwareErrors++
			a.logger.LogError("odometry", err)
		} else {
			a.filter.Drive(s.Distance, s.Angle, a.maneuvered)
			a.maneuvered = false
		}
		a.lastRequest = now
	} else {
		a.counters.RateLimited++
	}

	a.estimate = a.filter.Estimate()
	a.accuracy = a.filter.Accuracy()

	speed := a.cfg.Speed
	if a.accuracy < a.cfg.AccuracyLimit {
		speed /= 2
	}

	a.sendList.Push(poseOf(a.estimate))

	if dir, ok := a.navControl.Take(); ok {
		velocity, radius := steer(dir, speed)
		if err := a.drive(velocity, radius); err != nil {
			a.logger.LogError("drive", err)
		}
	}
	return nil
}

// steer maps a direction to a drive command.
func steer(dir pheromone.Direction, speed int) (velocity, radius int) {
	switch dir {
	case pheromone.DirectionLeft:
		return speed, radiusWide
	case pheromone.DirectionTopLeft:
		return speed, radiusSharp
	case pheromone.DirectionTopRight:
		return speed, -radiusSharp
	case pheromone.DirectionRight:
		return speed, -radiusWide
	case pheromone.DirectionNone:
		return 0, 0
	default:
		return speed, hardware.RadiusStraight
	}
}

// Avoid polls the light bumper and turns in place away from obstacles,
// overriding the command control gave this cycle. A fault code that
// persists for FaultCycles polls stops the base and returns
// ErrActuatorFault.
func (a *Agent) Avoid() error {
	if !a.enabled[scheduler.TaskAvoid] {
		return nil
	}

	s, err := a.base.SensorsUpdate(hardware.PacketAll)
	if err != nil {
		a.counters.HardwareErrors++
		a.logger.LogError("light bumper", err)
		return nil
	}

	lb := int(s.LightBumper)
	if lb <= bumperFault {
		a.faultStreak = 0
	}

	switch {
	case lb == 0:
	case lb >= int(hardware.BumperCenterRight) && lb <= int(hardware.BumperRight):
		a.maneuver(hardware.RadiusSpinCCW)
	case lb <= int(hardware.BumperCenterLeft):
		a.maneuver(hardware.RadiusSpinCW)
	case lb > bumperFault:
		a.faultStreak++
		log.Printf("[AVOID] Fault code %d (%d/%d)", lb, a.faultStreak, a.cfg.FaultCycles)
		if a.faultStreak >= a.cfg.FaultCycles {
			if err := a.drive(0, hardware.RadiusStraight); err != nil {
				a.logger.LogError("stop base", err)
			}
			a.logger.LogFault(fmt.Sprintf("light_bumper_code_%d", lb))
			return ErrActuatorFault
		}
	}
	return nil
}

func (a *Agent) maneuver(radius int) {
	if err := a.drive(a.cfg.Speed, radius); err != nil {
		a.logger.LogError("avoid", err)
		return
	}
	a.maneuvered = true
	a.counters.Maneuvers++
}
