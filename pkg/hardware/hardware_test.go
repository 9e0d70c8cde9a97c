package hardware

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/rescuebot/internal/clock"
	"github.com/heitortanoue/rescuebot/pkg/environment"
)

// mockPort records writes and serves reads from a preloaded buffer. An
// empty buffer behaves like a serial read timeout.
type mockPort struct {
	written []byte
	input   []byte
	timeout time.Duration
	closed  bool
	mutex   sync.Mutex
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := copy(p, m.input)
	m.input = m.input[n:]
	return n, nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

func (m *mockPort) SetReadTimeout(t time.Duration) error {
	m.timeout = t
	return nil
}

func (m *mockPort) feed(b ...byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.input = append(m.input, b...)
}

func (m *mockPort) takeWritten() []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := m.written
	m.written = nil
	return out
}

func TestOpenInterface_StartAndDrive(t *testing.T) {
	port := &mockPort{}
	oi, err := NewOpenInterface(port)
	require.NoError(t, err)
	assert.Equal(t, []byte{opStart, opModeFull}, port.takeWritten())
	assert.Equal(t, sensorTimeout, port.timeout)

	require.NoError(t, oi.Drive(300, RadiusStraight))
	assert.Equal(t, []byte{opDrive, 0x01, 0x2C, 0x80, 0x00}, port.takeWritten())

	require.NoError(t, oi.Drive(-200, RadiusSpinCW))
	assert.Equal(t, []byte{opDrive, 0xFF, 0x38, 0xFF, 0xFF}, port.takeWritten())

	require.NoError(t, oi.DriveDirect(100, -100))
	assert.Equal(t, []byte{opDriveDirect, 0x00, 0x64, 0xFF, 0x9C}, port.takeWritten())

	require.NoError(t, oi.LEDs(true, true, 255, 128))
	assert.Equal(t, []byte{opLEDs, 10, 255, 128}, port.takeWritten())
}

func TestOpenInterface_SensorsUpdate(t *testing.T) {
	port := &mockPort{}
	oi, err := NewOpenInterface(port)
	require.NoError(t, err)
	port.takeWritten()

	data := make([]byte, PacketAll.Size())
	data[0] = 0x03
	data[12], data[13] = 0xFF, 0xFB // -5 mm
	data[14], data[15] = 0x00, 0x0F // 15 degrees
	data[26], data[27] = 0x01, 0x00
	data[56] = BumperCenterRight
	port.feed(data...)

	s, err := oi.SensorsUpdate(PacketAll)
	require.NoError(t, err)
	assert.Equal(t, []byte{opSensors, 100}, port.takeWritten())
	assert.Equal(t, byte(3), s.WheeldropBump)
	assert.Equal(t, -5, s.Distance)
	assert.Equal(t, 15, s.Angle)
	assert.Equal(t, 256, s.WallSignal)
	assert.Equal(t, BumperCenterRight, s.LightBumper)

	port.feed(0, 0, 0x00, 0x64, 0xFF, 0xF6)
	s, err = oi.SensorsUpdate(PacketOdometry)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Distance)
	assert.Equal(t, -10, s.Angle)
}

func TestOpenInterface_SensorTimeout(t *testing.T) {
	port := &mockPort{}
	oi, err := NewOpenInterface(port)
	require.NoError(t, err)

	port.feed(1, 2, 3)
	_, err = oi.SensorsUpdate(PacketOdometry)
	assert.Error(t, err)

	_, err = oi.SensorsUpdate(SensorPacket(42))
	assert.Error(t, err)
}

func TestOpenInterface_Close(t *testing.T) {
	port := &mockPort{}
	oi, err := NewOpenInterface(port)
	require.NoError(t, err)
	port.takeWritten()

	require.NoError(t, oi.Close())
	assert.Equal(t, []byte{opDrive, 0, 0, 0x80, 0x00, opStop}, port.takeWritten())
	assert.True(t, port.closed)
}

func TestRFIDReader_Frames(t *testing.T) {
	port := &mockPort{}
	r, err := NewRFIDReader(port)
	require.NoError(t, err)
	assert.Equal(t, rfidPoll, port.timeout)

	id, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, environment.EmptyTag, id, "nothing in range")

	port.feed([]byte("\n0123456789\r")...)
	id, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "0123456789", id)
	assert.Equal(t, "0123456789", r.Last())

	// Noise before the start byte is discarded by the newline.
	port.feed([]byte("xx\n9876543210\r")...)
	id, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "9876543210", id)

	port.feed([]byte("\n0123456789ABCDEF\r")...)
	id, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, environment.EmptyTag, id, "overlong frame")
}

func squareRoom(side float64, tags []environment.Tag) *environment.Environment {
	return environment.New([]orb.Point{{0, 0}, {side, 0}, {side, side}, {0, side}}, tags)
}

func TestSim_StraightOdometry(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	sim := NewSim(squareRoom(1000, nil), clk, 200, 500, 0, 160)

	require.NoError(t, sim.Drive(300, RadiusStraight))
	clk.Advance(time.Second)

	s, err := sim.SensorsUpdate(PacketOdometry)
	require.NoError(t, err)
	assert.Equal(t, 300, s.Distance)
	assert.Equal(t, 0, s.Angle)

	x, y, a := sim.TruePose()
	assert.Equal(t, 500, x)
	assert.Equal(t, 500, y)
	assert.InDelta(t, 0, a, 1e-9)

	s, err = sim.SensorsUpdate(PacketOdometry)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Distance, "odometry resets between requests")
}

func TestSim_SpinInPlace(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	sim := NewSim(squareRoom(1000, nil), clk, 500, 500, 0, 160)

	require.NoError(t, sim.Drive(300, RadiusSpinCCW))
	clk.Advance(time.Second)

	s, err := sim.SensorsUpdate(PacketOdometry)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Distance)
	turned := 300.0 / 160.0 * 180 / math.Pi
	assert.Equal(t, int(turned), s.Angle)
	assert.Equal(t, 107, s.Angle)

	v, r := sim.Command()
	assert.Equal(t, 300, v)
	assert.Equal(t, RadiusSpinCCW, r)
}

func TestSim_LightBumperFacingWall(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))

	facing := NewSim(squareRoom(1000, nil), clk, 500, 850, math.Pi/2, 160)
	s, err := facing.SensorsUpdate(PacketAll)
	require.NoError(t, err)
	assert.Equal(t, BumperCenterRight, s.LightBumper)

	away := NewSim(squareRoom(1000, nil), clk, 500, 850, 3*math.Pi/2, 160)
	s, err = away.SensorsUpdate(PacketAll)
	require.NoError(t, err)
	assert.Equal(t, byte(0), s.LightBumper)

	away.SetLightBumper(200)
	s, _ = away.SensorsUpdate(PacketAll)
	assert.Equal(t, byte(200), s.LightBumper)
	away.ClearLightBumper()
	s, _ = away.SensorsUpdate(PacketAll)
	assert.Equal(t, byte(0), s.LightBumper)
}

func TestSim_ReadsNearbyTags(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	tags := []environment.Tag{{X: 500, Y: 500, ID: "0000000042", Enabled: true}}
	sim := NewSim(squareRoom(1000, tags), clk, 510, 500, 0, 160)

	id, err := sim.Read()
	require.NoError(t, err)
	assert.Equal(t, "0000000042", id)

	sim.QueueTag("1111111111")
	id, _ = sim.Read()
	assert.Equal(t, "1111111111", id)

	far := NewSim(squareRoom(1000, tags), clk, 800, 800, 0, 160)
	id, _ = far.Read()
	assert.Equal(t, environment.EmptyTag, id)
}

func TestSim_FailuresAndClose(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	sim := NewSim(nil, clk, 0, 0, 0, 160)

	boom := errors.New("serial unplugged")
	sim.FailSensors(boom)
	_, err := sim.SensorsUpdate(PacketAll)
	assert.Equal(t, boom, err)
	sim.FailSensors(nil)

	require.NoError(t, sim.Close())
	assert.True(t, sim.Closed())
	assert.Equal(t, ErrClosed, sim.Drive(100, RadiusStraight))
	_, err = sim.SensorsUpdate(PacketAll)
	assert.Equal(t, ErrClosed, err)
}
