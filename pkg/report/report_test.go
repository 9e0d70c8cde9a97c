package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/rescuebot/pkg/agent"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

func sampleMission() Mission {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return Mission{
		RunID:     "5f0c2d6e-0000-4000-8000-000000000001",
		RobotID:   2,
		Team:      1,
		StartedAt: start,
		EndedAt:   start.Add(90*time.Second + 250*time.Millisecond),
		Reason:    "signal",
		Victims: []protocol.Victim{
			{X: 100, Y: 200, ID: "00000000A1"},
			{X: 640, Y: 80, ID: "00000000B7"},
		},
		Schedule: scheduler.Report{
			Minor:    100 * time.Millisecond,
			Cycles:   902,
			Overruns: 3,
			Tasks: []scheduler.TaskTiming{
				{Name: "control", Runs: 902, Mean: 4 * time.Millisecond, Max: 11 * time.Millisecond},
			},
			SumMax:   11 * time.Millisecond,
			Feasible: true,
		},
		Counters: agent.Counters{FramesSent: 1804, VictimsReported: 2},
	}
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.cbor")
	m := sampleMission()

	require.NoError(t, Write(path, m))
	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, m.RobotID, got.RobotID)
	assert.True(t, m.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, 90*time.Second+250*time.Millisecond, got.Duration())
	assert.Equal(t, m.Victims, got.Victims)
	assert.Equal(t, m.Schedule.Tasks[0].Name, got.Schedule.Tasks[0].Name)
	assert.Equal(t, m.Schedule.SumMax, got.Schedule.SumMax)
	assert.Equal(t, int64(3), got.Schedule.Overruns)
	assert.Equal(t, m.Counters, got.Counters)
}

func TestMarshalDeterministic(t *testing.T) {
	a, err := Marshal(sampleMission())
	require.NoError(t, err)
	b, err := Marshal(sampleMission())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.cbor")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, Write(path, sampleMission()))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, got.Victims, 2)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing.cbor"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.cbor")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0x00}, 0o644))
	_, err = Read(bad)
	assert.Error(t, err)
}
