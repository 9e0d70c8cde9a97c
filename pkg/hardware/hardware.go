// Package hardware talks to the robot base over the iRobot Open Interface
// and to the RFID landmark reader, both over serial ports, and provides an
// in-memory simulator for dry runs.
package hardware

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// SensorPacket is an Open Interface sensor packet id.
type SensorPacket byte

const (
	// PacketOdometry holds buttons, distance and angle.
	PacketOdometry SensorPacket = 2
	// PacketAll holds every sensor, light bumper included.
	PacketAll SensorPacket = 100
)

// Size returns the number of bytes the base answers with.
func (p SensorPacket) Size() int {
	switch p {
	case PacketOdometry:
		return 6
	case PacketAll:
		return 80
	default:
		return 0
	}
}

// Special drive radii.
const (
	RadiusStraight = -32768 // 0x8000
	RadiusSpinCCW  = 1
	RadiusSpinCW   = -1
)

// Light bumper bits, left to right.
const (
	BumperLeft byte = 1 << iota
	BumperFrontLeft
	BumperCenterLeft
	BumperCenterRight
	BumperFrontRight
	BumperRight
)

// Sensors is the subset of base sensor readings the agent uses. Distance
// (mm) and Angle (degrees) are accumulated since the previous request.
type Sensors struct {
	WheeldropBump byte `json:"wheeldrop_bump"`
	Wall          byte `json:"wall"`
	Buttons       byte `json:"buttons"`
	Distance      int  `json:"distance"`
	Angle         int  `json:"angle"`
	WallSignal    int  `json:"wall_signal"`
	CliffLeft     int  `json:"cliff_left_signal"`
	CliffFrontL   int  `json:"cliff_front_left_signal"`
	CliffFrontR   int  `json:"cliff_front_right_signal"`
	CliffRight    int  `json:"cliff_right_signal"`
	LightBumper   byte `json:"light_bumper"`
}

// Base is the mobile base.
type Base interface {
	// Drive sets velocity (mm/s) and turn radius (mm).
	Drive(velocity, radius int) error
	// SensorsUpdate requests one sensor packet.
	SensorsUpdate(packet SensorPacket) (Sensors, error)
	LEDs(play, advance bool, color, intensity byte) error
	Close() error
}

// TagReader reads the RFID landmark sensor. Read returns EmptyTag when no
// tag is in range.
type TagReader interface {
	Read() (string, error)
	Close() error
}

// Port is the part of a serial port the drivers use. serial.Port
// satisfies it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenPort opens a serial device at baud with 8N1 framing.
func OpenPort(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", path)
	}
	return port, nil
}
