package protocol

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PoseFrame(t *testing.T) {
	f, err := Decode([]byte("0,1,1,d,1234,1,0,1,0,100,200,90"), 2, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, f.RecvID)
	assert.Equal(t, 1, f.SendID)
	assert.Equal(t, FrameData, f.Type)
	assert.Equal(t, 1234, f.Timestamp)
	assert.Equal(t, 1, f.SeqNo)
	assert.Equal(t, 0, f.SeqID)
	assert.Equal(t, 1, f.SeqLastID)

	pose, ok := f.Payload.(Pose)
	require.True(t, ok, "expected pose payload, got %T", f.Payload)
	assert.Equal(t, 100, pose.X)
	assert.Equal(t, 200, pose.Y)
	assert.InDelta(t, math.Pi/2, pose.Heading, 1e-9)
}

func TestDecode_DataTypeOneIsVictim(t *testing.T) {
	f, err := Decode([]byte("0,1,1,d,1234,1,0,1,1,100,200,90"), 2, 1)
	require.NoError(t, err)

	v, ok := f.Payload.(Victim)
	require.True(t, ok, "expected victim payload, got %T", f.Payload)
	assert.Equal(t, Victim{X: 100, Y: 200, ID: "90"}, v)
}

func TestDecode_DropsSelfAndForeignTeam(t *testing.T) {
	frame := []byte("99,3,2,d,10,1,0,1,3,0")

	_, err := Decode(frame, 3, 2)
	assert.ErrorIs(t, err, ErrSelfFrame)

	_, err = Decode(frame, 4, 1)
	assert.ErrorIs(t, err, ErrForeignTeam)

	// A receiver in team 0 accepts every team.
	_, err = Decode(frame, 4, TeamAny)
	assert.NoError(t, err)

	// A sender in team 0 is accepted by every team.
	_, err = Decode([]byte("99,3,0,d,10,1,0,1,3,0"), 4, 1)
	assert.NoError(t, err)
}

func TestDecode_ControlFrames(t *testing.T) {
	f, err := Decode([]byte("1,0,1,g,500,0,0,0"), 1, 1)
	// Frames from the server (id 0) are accepted by robot 1.
	require.NoError(t, err)
	assert.Equal(t, FrameGoAhead, f.Type)
	assert.Nil(t, f.Payload)

	f, err = Decode([]byte("1,0,1,a,500,0,0,0"), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, FrameAck, f.Type)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"short header":      "1,2,1,d",
		"bad type":          "1,2,1,x,0,0,0,0",
		"long type":         "1,2,1,dd,0,0,0,0",
		"unknown data type": "1,2,1,d,0,0,0,0,9,1",
		"missing data type": "1,2,1,d,0,0,0,0",
		"non numeric":       "1,2,1,d,0,0,0,0,0,x,1,1",
		"truncated sector":  "1,2,1,d,0,0,0,0,2,0,10,5,abc",
		"negative sector":   "1,2,1,d,0,0,0,0,2,0,-1,5,",
		"missing victim id": "1,2,1,d,0,0,0,0,1,5,5,",
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame), 5, 1)
			assert.Error(t, err)
		})
	}

	_, err := Decode([]byte("1,2,1,d,0,0,0,0,9,1"), 5, 1)
	assert.True(t, errors.Is(err, ErrUnknownDataType))
}

func TestEncode_Layouts(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		encoded string
	}{
		{
			name:    "pose",
			frame:   Frame{RecvID: 99, SendID: 1, SendTeam: 1, Type: FrameData, Timestamp: 1234, SeqNo: 1, SeqID: 7, SeqLastID: 3, Payload: Pose{X: 100, Y: 200, Heading: math.Pi / 2}},
			encoded: "99,1,1,d,1234,1,7,3,0,100,200,90",
		},
		{
			name:    "pose heading truncated",
			frame:   Frame{RecvID: 99, SendID: 1, SendTeam: 1, Type: FrameData, Payload: Pose{X: 1, Y: 2, Heading: 0.8}},
			encoded: "99,1,1,d,0,0,0,0,0,1,2,45",
		},
		{
			name:    "victim",
			frame:   Frame{RecvID: 99, SendID: 1, SendTeam: 1, Type: FrameData, Payload: Victim{X: 5, Y: 6, ID: "0A1B2C3D4E"}},
			encoded: "99,1,1,d,0,0,0,0,1,5,6,0A1B2C3D4E",
		},
		{
			name:    "command",
			frame:   Frame{RecvID: 99, SendID: 1, SendTeam: 1, Type: FrameData, Payload: Command{Op: CmdStop}},
			encoded: "99,1,1,d,0,0,0,0,3,1",
		},
		{
			name:    "ack",
			frame:   Frame{RecvID: 0, SendID: 1, SendTeam: 1, Type: FrameAck, Timestamp: 9},
			encoded: "0,1,1,a,9,0,0,0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Encode(tc.frame)
			require.NoError(t, err)
			assert.Equal(t, tc.encoded, string(out))
		})
	}
}

func TestSector_BinarySafe(t *testing.T) {
	data := []byte{1, ',', 0, 255, ',', ',', 44, 0}
	in := Frame{RecvID: 99, SendID: 2, SendTeam: 1, Type: FrameData, Payload: Sector{Num: 3, Size: len(data), Timestamp: 424242, Data: data}}

	out, err := Encode(in)
	require.NoError(t, err)

	f, err := Decode(out, 1, 1)
	require.NoError(t, err)

	s, ok := f.Payload.(Sector)
	require.True(t, ok)
	assert.Equal(t, 3, s.Num)
	assert.Equal(t, 424242, s.Timestamp)
	assert.Equal(t, data, s.Data)
}

func TestStream_BinarySafe(t *testing.T) {
	data := []byte{',', 0, ',', 'x', 0xFF}
	out, err := Encode(Frame{RecvID: 99, SendID: 2, SendTeam: 1, Type: FrameData, Payload: StreamChunk{Counter: 77, Data: data}})
	require.NoError(t, err)

	f, err := Decode(out, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, StreamChunk{Counter: 77, Data: data}, f.Payload)
}

func TestEncode_Rejects(t *testing.T) {
	_, err := Encode(Frame{Type: FrameData})
	assert.Error(t, err)

	_, err = Encode(Frame{Type: 'z'})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Encode(Frame{Type: FrameData, Payload: Sector{Size: 4, Data: []byte{1}}})
	assert.Error(t, err)

	_, err = Encode(Frame{Type: FrameData, Payload: Victim{ID: "a,b"}})
	assert.Error(t, err)
}

func TestTimestamp(t *testing.T) {
	ts := Timestamp(time.UnixMilli(3*60000 + 1234))
	assert.Equal(t, 1234, ts)
}
