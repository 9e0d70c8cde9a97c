package hardware

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/heitortanoue/rescuebot/pkg/environment"
)

const (
	// RFIDBaud is the reader serial speed.
	RFIDBaud = 2400
	// rfidPoll bounds how long one Read waits for the first byte.
	rfidPoll = 10 * time.Millisecond
)

// RFIDReader reads tag ids framed as "\n" + 10 characters + "\r".
type RFIDReader struct {
	port  Port
	last  string
	mutex sync.Mutex
}

// OpenRFIDReader opens the reader serial device.
func OpenRFIDReader(path string) (*RFIDReader, error) {
	port, err := OpenPort(path, RFIDBaud)
	if err != nil {
		return nil, err
	}
	r, err := NewRFIDReader(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return r, nil
}

// NewRFIDReader wraps an already open port.
func NewRFIDReader(port Port) (*RFIDReader, error) {
	if err := port.SetReadTimeout(rfidPoll); err != nil {
		return nil, errors.Wrap(err, "set read timeout")
	}
	return &RFIDReader{port: port, last: environment.EmptyTag}, nil
}

// Read returns the next complete tag id, or EmptyTag when nothing arrives
// within the poll timeout or the frame is malformed.
func (r *RFIDReader) Read() (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var (
		one [1]byte
		buf = make([]byte, 0, environment.TagIDLength+1)
	)
	for {
		n, err := r.port.Read(one[:])
		if err == io.EOF || (err == nil && n == 0) {
			return environment.EmptyTag, nil
		}
		if err != nil {
			return environment.EmptyTag, errors.Wrap(err, "read rfid")
		}

		switch c := one[0]; c {
		case '\n':
			buf = buf[:0]
		case '\r':
			if len(buf) == environment.TagIDLength {
				r.last = string(buf)
				return r.last, nil
			}
		default:
			if len(buf) > environment.TagIDLength {
				return environment.EmptyTag, nil
			}
			buf = append(buf, c)
		}
	}
}

// Last returns the last complete id read.
func (r *RFIDReader) Last() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.last
}

// Close closes the serial port.
func (r *RFIDReader) Close() error {
	return errors.Wrap(r.port.Close(), "close rfid port")
}
