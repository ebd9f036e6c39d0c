package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/chargectl/src/charge"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func transition(from, to charge.ControlState, at time.Time, level int) charge.Transition {
	return charge.Transition{
		From:       from,
		To:         to,
		At:         at,
		Connection: charge.Connected,
		Sample:     charge.BatterySample{LevelPercent: level, IsCharging: true, At: at},
		HaveSample: true,
	}
}

func TestRecordAndRecent(t *testing.T) {
	j, _ := openTemp(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	_, err := j.Record(transition(charge.StateUnknown, charge.StateCharging, base, 70))
	require.NoError(t, err)
	_, err = j.Record(transition(charge.StateCharging, charge.StateStop, base.Add(time.Hour), 80))
	require.NoError(t, err)
	last, err := j.Record(transition(charge.StateStop, charge.StateBoost, base.Add(2*time.Hour), 79))
	require.NoError(t, err)
	assert.NotEmpty(t, last.ID)

	entries, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, last, entries[0])
	assert.Equal(t, "charging", entries[1].From)
	assert.Equal(t, "stop", entries[1].To)
	assert.Equal(t, 80, entries[1].Level)
	assert.True(t, entries[1].At.Equal(base.Add(time.Hour)))

	all, err := j.Recent(10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecentNewestFirstWithEqualTimes(t *testing.T) {
	j, _ := openTemp(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for _, to := range []charge.ControlState{charge.StateCharging, charge.StateStop, charge.StateCharging} {
		_, err := j.Record(transition(charge.StateUnknown, to, at, 50))
		require.NoError(t, err)
	}

	entries, err := j.Recent(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"charging", "stop", "charging"}, []string{entries[0].To, entries[1].To, entries[2].To})

	n, err := j.CountTo(charge.StateCharging)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordWithoutSample(t *testing.T) {
	j, _ := openTemp(t)

	_, err := j.Record(charge.Transition{From: charge.StateUnknown, To: charge.StateDisabled, At: time.Now()})
	require.NoError(t, err)

	entries, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -1, entries[0].Level)
	assert.Equal(t, "unknown", entries[0].Connection)
}

func TestRecordSampleWithoutTimestamp(t *testing.T) {
	j, _ := openTemp(t)

	_, err := j.Record(charge.Transition{
		From:       charge.StateCharging,
		To:         charge.StateStop,
		At:         time.Now(),
		Connection: charge.Connected,
		Sample:     charge.BatterySample{LevelPercent: 80},
		HaveSample: true,
	})
	require.NoError(t, err)

	entries, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 80, entries[0].Level)
}

func TestRecentZero(t *testing.T) {
	j, _ := openTemp(t)
	entries, err := j.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Record(transition(charge.StateUnknown, charge.StateStop, time.Now(), 90))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Recent(5)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	var versions int
	require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&versions))
	assert.Equal(t, 1, versions)
}
