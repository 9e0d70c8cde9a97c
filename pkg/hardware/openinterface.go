package hardware

import (
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/heitortanoue/rescuebot/pkg/geom"
)

// Open Interface opcodes.
const (
	opStart       byte = 0x80
	opModeFull    byte = 0x84
	opDrive       byte = 0x89
	opLEDs        byte = 0x8B
	opSensors     byte = 0x8E
	opDriveDirect byte = 0x91
	opStop        byte = 0xAD
)

const (
	// OpenInterfaceBaud is the base serial speed.
	OpenInterfaceBaud = 115200
	sensorTimeout     = time.Second
)

// OpenInterface drives a Create/Roomba base over its serial Open Interface.
type OpenInterface struct {
	port  Port
	mutex sync.Mutex
}

// OpenOpenInterface opens the serial device and puts the base in full mode.
func OpenOpenInterface(path string) (*OpenInterface, error) {
	port, err := OpenPort(path, OpenInterfaceBaud)
	if err != nil {
		return nil, err
	}
	oi, err := NewOpenInterface(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return oi, nil
}

// NewOpenInterface starts the Open Interface on an already open port.
func NewOpenInterface(port Port) (*OpenInterface, error) {
	if err := port.SetReadTimeout(sensorTimeout); err != nil {
		return nil, errors.Wrap(err, "set read timeout")
	}
	oi := &OpenInterface{port: port}
	if err := oi.write(opStart); err != nil {
		return nil, errors.Wrap(err, "start open interface")
	}
	if err := oi.write(opModeFull); err != nil {
		return nil, errors.Wrap(err, "enter full mode")
	}
	log.Printf("[OI] Base started in full mode")
	return oi, nil
}

func (oi *OpenInterface) write(b ...byte) error {
	oi.mutex.Lock()
	defer oi.mutex.Unlock()

	n, err := oi.port.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errors.Errorf("short write: %d of %d bytes", n, len(b))
	}
	return nil
}

// Drive sets velocity in mm/s and radius in mm. RadiusStraight drives
// straight; RadiusSpinCCW and RadiusSpinCW turn in place.
func (oi *OpenInterface) Drive(velocity, radius int) error {
	vh, vl := geom.Int2Bytes(velocity)
	rh, rl := geom.Int2Bytes(radius)
	return errors.Wrap(oi.write(opDrive, vh, vl, rh, rl), "drive")
}

// DriveDirect sets each wheel velocity in mm/s.
func (oi *OpenInterface) DriveDirect(right, left int) error {
	rh, rl := geom.Int2Bytes(right)
	lh, ll := geom.Int2Bytes(left)
	return errors.Wrap(oi.write(opDriveDirect, rh, rl, lh, ll), "drive direct")
}

// LEDs sets the play and advance LEDs and the power LED color/intensity.
func (oi *OpenInterface) LEDs(play, advance bool, color, intensity byte) error {
	var bits byte
	if play {
		bits |= 2
	}
	if advance {
		bits |= 8
	}
	return errors.Wrap(oi.write(opLEDs, bits, color, intensity), "leds")
}

// SensorsUpdate requests a sensor packet and parses the reply.
func (oi *OpenInterface) SensorsUpdate(packet SensorPacket) (Sensors, error) {
	size := packet.Size()
	if size == 0 {
		return Sensors{}, errors.Errorf("unsupported sensor packet %d", packet)
	}

	oi.mutex.Lock()
	defer oi.mutex.Unlock()

	if _, err := oi.port.Write([]byte{opSensors, byte(packet)}); err != nil {
		return Sensors{}, errors.Wrapf(err, "request sensor packet %d", packet)
	}

	data := make([]byte, size)
	read := 0
	for read < size {
		n, err := oi.port.Read(data[read:])
		if err != nil {
			return Sensors{}, errors.Wrapf(err, "read sensor packet %d", packet)
		}
		if n == 0 {
			return Sensors{}, errors.Errorf("sensor packet %d: timeout after %d of %d bytes", packet, read, size)
		}
		read += n
	}
	return ParseSensors(packet, data)
}

// ParseSensors decodes the raw bytes of a sensor packet.
func ParseSensors(packet SensorPacket, data []byte) (Sensors, error) {
	if len(data) < packet.Size() || packet.Size() == 0 {
		return Sensors{}, errors.Errorf("sensor packet %d: got %d bytes", packet, len(data))
	}

	var s Sensors
	switch packet {
	case PacketOdometry:
		s.Buttons = data[1]
		s.Distance = geom.Bytes2Int(data[2], data[3])
		s.Angle = geom.Bytes2Int(data[4], data[5])
	case PacketAll:
		s.WheeldropBump = data[0]
		s.Wall = data[1]
		s.Buttons = data[11]
		s.Distance = geom.Bytes2Int(data[12], data[13])
		s.Angle = geom.Bytes2Int(data[14], data[15])
		s.WallSignal = geom.Bytes2Uint(data[26], data[27])
		s.CliffLeft = geom.Bytes2Uint(data[28], data[29])
		s.CliffFrontL = geom.Bytes2Uint(data[30], data[31])
		s.CliffFrontR = geom.Bytes2Uint(data[32], data[33])
		s.CliffRight = geom.Bytes2Uint(data[34], data[35])
		s.LightBumper = data[56]
	}
	return s, nil
}

// Close stops the wheels, leaves the Open Interface and closes the port.
func (oi *OpenInterface) Close() error {
	var result error
	if err := oi.Drive(0, RadiusStraight); err != nil {
		result = multierror.Append(result, err)
	}
	if err := oi.write(opStop); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "stop open interface"))
	}
	if err := oi.port.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close port"))
	}
	log.Printf("[OI] Base closed")
	return result
}
