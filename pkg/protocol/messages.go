package protocol

import "fmt"

// DataType is the discriminant carried on the wire and by every payload.
type DataType int

const (
	DataPose DataType = iota
	DataVictim
	DataSector
	DataCommand
	DataStream
)

func (d DataType) String() string {
	switch d {
	case DataPose:
		return "pose"
	case DataVictim:
		return "victim"
	case DataSector:
		return "sector"
	case DataCommand:
		return "command"
	case DataStream:
		return "stream"
	default:
		return fmt.Sprintf("datatype(%d)", int(d))
	}
}

// Payload is one of Pose, Victim, Sector, Command or StreamChunk. The set
// is closed: only types in this package implement it.
type Payload interface {
	DataType() DataType
	isPayload()
}

// Pose is a robot pose as broadcast to peers.
type Pose struct {
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Heading float64 `json:"heading"` // radians
}

// Victim is a detected victim tag and where it was found.
type Victim struct {
	X  int    `json:"x"`
	Y  int    `json:"y"`
	ID string `json:"id"`
}

// Sector is an independently transmittable slice of the pheromone grid.
// Data holds one age byte per cell.
type Sector struct {
	Num       int    `json:"num"`
	Size      int    `json:"size"`
	Timestamp int    `json:"timestamp"`
	Data      []byte `json:"data"`
}

// CommandOp is a supervisor command opcode, numbered as on the wire.
type CommandOp int

const (
	CmdStart CommandOp = iota
	CmdStop
	CmdGoAhead
)

func (c CommandOp) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdGoAhead:
		return "go-ahead"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Command carries a single supervisor opcode.
type Command struct {
	Op CommandOp `json:"op"`
}

// StreamChunk is one piece of the synthetic telemetry stream.
type StreamChunk struct {
	Counter int64  `json:"counter"`
	Data    []byte `json:"data"`
}

func (Pose) DataType() DataType        { return DataPose }
func (Victim) DataType() DataType      { return DataVictim }
func (Sector) DataType() DataType      { return DataSector }
func (Command) DataType() DataType     { return DataCommand }
func (StreamChunk) DataType() DataType { return DataStream }

func (Pose) isPayload()        {}
func (Victim) isPayload()      {}
func (Sector) isPayload()      {}
func (Command) isPayload()     {}
func (StreamChunk) isPayload() {}
