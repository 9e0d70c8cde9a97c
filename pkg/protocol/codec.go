package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/heitortanoue/rescuebot/pkg/geom"
)

// FrameType is the single-character frame kind.
type FrameType byte

const (
	FrameAck     FrameType = 'a'
	FrameData    FrameType = 'd'
	FrameGoAhead FrameType = 'g'
)

const (
	// AddrServer addresses the supervisor.
	AddrServer = 0
	// AddrBroadcast addresses every robot.
	AddrBroadcast = 99
	// TeamAny is the team id that matches every team.
	TeamAny = 0
	// VictimIDLength is the fixed length of a victim (tag) id.
	VictimIDLength = 10
)

var (
	// ErrSelfFrame is returned for frames this robot sent itself.
	ErrSelfFrame = errors.New("frame sent by self")
	// ErrForeignTeam is returned for frames from another team.
	ErrForeignTeam = errors.New("frame from another team")
	// ErrUnknownType is returned for an unrecognised frame type.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrUnknownDataType is returned for an unrecognised payload discriminant.
	ErrUnknownDataType = errors.New("unknown data type")
)

// Frame is one UDP datagram between robots:
//
//	recv_id,send_id,send_team,type,timestamp,seqno,seqid,seq_last_id[,data_type,payload]
type Frame struct {
	RecvID    int
	SendID    int
	SendTeam  int
	Type      FrameType
	Timestamp int // milliseconds modulo one minute
	SeqNo     int
	SeqID     int
	SeqLastID int
	Payload   Payload // set for data frames only
}

// Timestamp returns t as milliseconds within the current minute, the
// resolution carried by frames.
func Timestamp(t time.Time) int {
	return int(t.UnixMilli() % 60000)
}

// Encode serializes a frame. Sector and stream payloads are appended as raw
// bytes after their header fields.
func Encode(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	writeInts(&buf, f.RecvID, f.SendID, f.SendTeam)
	buf.WriteByte(',')
	buf.WriteByte(byte(f.Type))
	buf.WriteByte(',')
	writeInts(&buf, f.Timestamp, f.SeqNo, f.SeqID, f.SeqLastID)

	switch f.Type {
	case FrameAck, FrameGoAhead:
		return buf.Bytes(), nil
	case FrameData:
	default:
		return nil, fmt.Errorf("encode: %w %q", ErrUnknownType, byte(f.Type))
	}

	if f.Payload == nil {
		return nil, fmt.Errorf("encode: data frame without payload")
	}

	buf.WriteByte(',')
	writeInts(&buf, int(f.Payload.DataType()))
	buf.WriteByte(',')

	switch p := f.Payload.(type) {
	case Pose:
		// Heading degrees are truncated toward zero.
		writeInts(&buf, p.X, p.Y, int(geom.Rad2Deg(p.Heading)))
	case Victim:
		if bytes.IndexByte([]byte(p.ID), ',') >= 0 {
			return nil, fmt.Errorf("encode: victim id %q contains a delimiter", p.ID)
		}
		writeInts(&buf, p.X, p.Y)
		buf.WriteByte(',')
		buf.WriteString(p.ID)
	case Sector:
		if len(p.Data) != p.Size {
			return nil, fmt.Errorf("encode: sector %d declares %d bytes but carries %d", p.Num, p.Size, len(p.Data))
		}
		writeInts(&buf, p.Num, p.Size, p.Timestamp)
		buf.WriteByte(',')
		buf.Write(p.Data)
	case Command:
		writeInts(&buf, int(p.Op))
	case StreamChunk:
		buf.WriteString(strconv.FormatInt(p.Counter, 10))
		buf.WriteByte(',')
		buf.Write(p.Data)
	default:
		return nil, fmt.Errorf("encode: %w %T", ErrUnknownDataType, f.Payload)
	}

	return buf.Bytes(), nil
}

// Decode parses a frame received by robot ownID of team ownTeam. Frames sent
// by ownID, or by another team (unless either side is TeamAny), are
// rejected with ErrSelfFrame or ErrForeignTeam.
func Decode(packet []byte, ownID, ownTeam int) (Frame, error) {
	var f Frame
	r := fieldReader{buf: packet}

	var err error
	if f.RecvID, err = r.int("recv_id"); err != nil {
		return f, err
	}
	if f.SendID, err = r.int("send_id"); err != nil {
		return f, err
	}
	if f.SendID == ownID {
		return f, ErrSelfFrame
	}
	if f.SendTeam, err = r.int("send_team"); err != nil {
		return f, err
	}
	if f.SendTeam != ownTeam && ownTeam != TeamAny && f.SendTeam != TeamAny {
		return f, ErrForeignTeam
	}

	kind, err := r.field("type")
	if err != nil {
		return f, err
	}
	if len(kind) != 1 {
		return f, fmt.Errorf("decode: %w %q", ErrUnknownType, kind)
	}
	f.Type = FrameType(kind[0])

	if f.Timestamp, err = r.int("timestamp"); err != nil {
		return f, err
	}
	if f.SeqNo, err = r.int("seqno"); err != nil {
		return f, err
	}
	if f.SeqID, err = r.int("seqid"); err != nil {
		return f, err
	}
	if f.SeqLastID, err = r.int("seq_last_id"); err != nil {
		return f, err
	}

	switch f.Type {
	case FrameAck, FrameGoAhead:
		return f, nil
	case FrameData:
	default:
		return f, fmt.Errorf("decode: %w %q", ErrUnknownType, kind)
	}

	dt, err := r.int("data_type")
	if err != nil {
		return f, err
	}

	f.Payload, err = decodePayload(DataType(dt), &r)
	return f, err
}

func decodePayload(dt DataType, r *fieldReader) (Payload, error) {
	switch dt {
	case DataPose:
		x, y, err := r.pair()
		if err != nil {
			return nil, err
		}
		deg, err := r.int("heading")
		if err != nil {
			return nil, err
		}
		return Pose{X: x, Y: y, Heading: geom.WrapAngle(geom.Deg2Rad(float64(deg)))}, nil

	case DataVictim:
		x, y, err := r.pair()
		if err != nil {
			return nil, err
		}
		id, err := r.field("victim id")
		if err != nil {
			return nil, err
		}
		if len(id) > VictimIDLength {
			id = id[:VictimIDLength]
		}
		return Victim{X: x, Y: y, ID: string(id)}, nil

	case DataSector:
		var s Sector
		var err error
		if s.Num, err = r.int("sector num"); err != nil {
			return nil, err
		}
		if s.Size, err = r.int("sector size"); err != nil {
			return nil, err
		}
		if s.Size < 0 {
			return nil, fmt.Errorf("decode: negative sector size %d", s.Size)
		}
		if s.Timestamp, err = r.int("sector timestamp"); err != nil {
			return nil, err
		}
		raw, err := r.raw(s.Size)
		if err != nil {
			return nil, err
		}
		s.Data = append([]byte(nil), raw...)
		return s, nil

	case DataCommand:
		op, err := r.int("command")
		if err != nil {
			return nil, err
		}
		return Command{Op: CommandOp(op)}, nil

	case DataStream:
		counter, err := r.field("stream counter")
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(string(counter), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode: stream counter: %v", err)
		}
		return StreamChunk{Counter: n, Data: append([]byte(nil), r.rest()...)}, nil

	default:
		return nil, fmt.Errorf("decode: %w %d", ErrUnknownDataType, int(dt))
	}
}

func writeInts(buf *bytes.Buffer, vals ...int) {
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(v))
	}
}

// fieldReader walks comma separated fields without copying, so raw byte
// payloads can be taken verbatim by length.
type fieldReader struct {
	buf []byte
	pos int
}

func (r *fieldReader) field(name string) ([]byte, error) {
	if r.pos > len(r.buf) {
		return nil, fmt.Errorf("decode: missing %s", name)
	}
	rest := r.buf[r.pos:]
	if i := bytes.IndexByte(rest, ','); i >= 0 {
		r.pos += i + 1
		return rest[:i], nil
	}
	r.pos = len(r.buf) + 1
	if len(rest) == 0 {
		return nil, fmt.Errorf("decode: missing %s", name)
	}
	return rest, nil
}

func (r *fieldReader) int(name string) (int, error) {
	f, err := r.field(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(bytes.TrimRight(f, "\x00\r\n")))
	if err != nil {
		return 0, fmt.Errorf("decode: %s: %v", name, err)
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("decode: %s out of range", name)
	}
	return v, nil
}

func (r *fieldReader) pair() (int, int, error) {
	x, err := r.int("x")
	if err != nil {
		return 0, 0, err
	}
	y, err := r.int("y")
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func (r *fieldReader) raw(n int) ([]byte, error) {
	if r.pos > len(r.buf) || len(r.buf)-r.pos < n {
		return nil, fmt.Errorf("decode: need %d raw bytes", n)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *fieldReader) rest() []byte {
	if r.pos > len(r.buf) {
		return nil
	}
	out := r.buf[r.pos:]
	r.pos = len(r.buf) + 1
	return out
}
