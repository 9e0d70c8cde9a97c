package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ttacon/chalk"

	"github.com/heitortanoue/rescuebot/internal/clock"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
)

// AgentLogger writes structured event lines for one robot
type AgentLogger struct {
	robotID string
	runID   string
	logger  *log.Logger
	color   bool
	clk     clock.Clock
}

// NewAgentLogger creates a logger writing to stdout
func NewAgentLogger(robotID int, runID string, color bool) *AgentLogger {
	return NewAgentLoggerTo(os.Stdout, robotID, runID, color)
}

// NewAgentLoggerTo creates a logger writing to out
func NewAgentLoggerTo(out io.Writer, robotID int, runID string, color bool) *AgentLogger {
	id := fmt.Sprintf("robot-%d", robotID)
	return &AgentLogger{
		robotID: id,
		runID:   runID,
		logger:  log.New(out, fmt.Sprintf("[%s] ", id), log.LstdFlags|log.Lmicroseconds),
		color:   color,
		clk:     clock.Real(),
	}
}

// WithClock stamps event times from c instead of the wall clock
func (l *AgentLogger) WithClock(c clock.Clock) *AgentLogger {
	l.clk = c
	return l
}

func (l *AgentLogger) now() int64 {
	return l.clk.Now().UnixMilli()
}

func (l *AgentLogger) tag(c chalk.Color, name string) string {
	if !l.color {
		return name
	}
	return c.Color(name)
}

// LogStartup records the run id and the main timing parameters
func (l *AgentLogger) LogStartup(team int, minor time.Duration, tdmaSlot int) {
	l.logger.Printf("STARTUP: run=%s team=%d minor_cycle_ms=%d tdma_slot=%d started_at=%d",
		l.runID, team, minor.Milliseconds(), tdmaSlot, l.now())
}

// LogVictimFound records a victim added to the mission list
func (l *AgentLogger) LogVictimFound(v protocol.Victim, source string) {
	l.logger.Printf("%s: id=%s x=%d y=%d source=%s found_at=%d",
		l.tag(chalk.Green, "VICTIM_FOUND"), v.ID, v.X, v.Y, source, l.now())
}

// LogCommand records a supervisor command being applied
func (l *AgentLogger) LogCommand(op protocol.CommandOp) {
	l.logger.Printf("%s: op=%s applied_at=%d",
		l.tag(chalk.Cyan, "COMMAND"), op, l.now())
}

// LogOverrun records a minor cycle that ran past its period
func (l *AgentLogger) LogOverrun(cycle int64, late time.Duration) {
	l.logger.Printf("%s: cycle=%d late_us=%d detected_at=%d",
		l.tag(chalk.Yellow, "OVERRUN"), cycle, late.Microseconds(), l.now())
}

// LogTaskTiming records the aggregated execution time of one task
func (l *AgentLogger) LogTaskTiming(task string, runs int64, mean, max time.Duration) {
	l.logger.Printf("TASK_TIMING: task=%s runs=%d mean_us=%d max_us=%d",
		task, runs, mean.Microseconds(), max.Microseconds())
}

// LogSchedulability records the feasibility verdict Σ max <= minor
func (l *AgentLogger) LogSchedulability(sumMax, minor time.Duration, feasible bool) {
	verdict := l.tag(chalk.Green, "FEASIBLE")
	if !feasible {
		verdict = l.tag(chalk.Red, "INFEASIBLE")
	}
	l.logger.Printf("SCHEDULABILITY: sum_max_us=%d minor_us=%d verdict=%s",
		sumMax.Microseconds(), minor.Microseconds(), verdict)
}

// LogFault records an unrecoverable hardware fault
func (l *AgentLogger) LogFault(reason string) {
	l.logger.Printf("%s: reason=%s occurred_at=%d",
		l.tag(chalk.Red, "FAULT"), reason, l.now())
}

// LogPeerPose records the last pose heard from another robot
func (l *AgentLogger) LogPeerPose(peerID int, p protocol.Pose) {
	l.logger.Printf("PEER_POSE: peer=%d x=%d y=%d heading=%.2f heard_at=%d",
		peerID, p.X, p.Y, p.Heading, l.now())
}

// LogError records errors
func (l *AgentLogger) LogError(operation string, err error) {
	l.logger.Printf("%s: operation=%s error=%s occurred_at=%d",
		l.tag(chalk.Red, "ERROR"), operation, err.Error(), l.now())
}
