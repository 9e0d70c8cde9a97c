// Package report persists a mission summary as CBOR when the agent stops.
package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/heitortanoue/rescuebot/pkg/agent"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("report: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("report: CBOR decoder initialization failed: " + err.Error())
	}
}

// Mission is what one robot found during one run.
type Mission struct {
	RunID     string            `cbor:"run_id"`
	RobotID   int               `cbor:"robot_id"`
	Team      int               `cbor:"team"`
	StartedAt time.Time         `cbor:"started_at"`
	EndedAt   time.Time         `cbor:"ended_at"`
	Reason    string            `cbor:"reason"`
	Victims   []protocol.Victim `cbor:"victims"`
	Schedule  scheduler.Report  `cbor:"schedule"`
	Counters  agent.Counters    `cbor:"counters"`
}

// Duration is how long the mission ran.
func (m Mission) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// Marshal encodes a mission deterministically.
func Marshal(m Mission) ([]byte, error) {
	data, err := encMode.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode mission report")
	}
	return data, nil
}

// Unmarshal decodes a mission written by Marshal.
func Unmarshal(data []byte) (Mission, error) {
	var m Mission
	if err := decMode.Unmarshal(data, &m); err != nil {
		return Mission{}, errors.Wrap(err, "decode mission report")
	}
	return m, nil
}

// Write stores the report at path, replacing any previous file only once
// the new one is complete.
func Write(path string, m Mission) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create report file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename report to %s", path)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mission{}, errors.Wrap(err, "read mission report")
	}
	return Unmarshal(data)
}
