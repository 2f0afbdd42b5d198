package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "reports.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testReport(channel string, nr uint8, rxlev uint8, at time.Time) *MeasurementReport {
	return &MeasurementReport{
		Channel:     channel,
		ChanNr:      0x09,
		ResultNr:    nr,
		ULRxLevFull: rxlev,
		ULRxLevSub:  rxlev,
		BSPowerDB:   4,
		CreatedAt:   at,
	}
}

func TestNewDBRejectsEmptyPath(t *testing.T) {
	_, err := NewDB(Config{}, nil)
	assert.Error(t, err)
}

func TestDBHealth(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Health())
	assert.NoError(t, db.Reports().HealthCheck())
	assert.Contains(t, db.Path(), "reports.db")
}

func TestReportRepositorySave(t *testing.T) {
	db := newTestDB(t)
	repo := db.Reports()

	assert.Error(t, repo.Save(nil))
	assert.Error(t, repo.Save(&MeasurementReport{}))

	offs := uint8(12)
	r := testReport("TCH/F ts1 ss0", 7, 30, time.Time{})
	r.MSTimingOffset = &offs
	r.L3 = []byte{0x06, 0x15, 0x1e, 0x1e, 0x00}
	require.NoError(t, repo.Save(r))
	assert.NotZero(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := repo.Latest("TCH/F ts1 ss0")
	require.NoError(t, err)
	assert.Equal(t, uint8(7), got.ResultNr)
	require.NotNil(t, got.MSTimingOffset)
	assert.Equal(t, uint8(12), *got.MSTimingOffset)
	assert.Equal(t, r.L3, got.L3)

	_, err = repo.Latest("SDCCH/8 ts0 ss0")
	assert.Error(t, err)
}

func TestReportRepositoryQueries(t *testing.T) {
	db := newTestDB(t)
	repo := db.Reports()

	base := time.Now().Add(-time.Hour)
	batch := []MeasurementReport{
		*testReport("TCH/F ts1 ss0", 0, 20, base),
		*testReport("TCH/F ts1 ss0", 1, 30, base.Add(time.Minute)),
		*testReport("TCH/F ts1 ss0", 2, 40, base.Add(2*time.Minute)),
		*testReport("SDCCH/8 ts0 ss3", 0, 10, base.Add(3*time.Minute)),
		{ResultNr: 99}, // no channel, skipped
	}
	require.NoError(t, repo.SaveBatch(batch))
	require.NoError(t, repo.SaveBatch(nil))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	count, err = repo.CountByChannel("TCH/F ts1 ss0")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	recent, err := repo.GetRecentByChannel("TCH/F ts1 ss0", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint8(2), recent[0].ResultNr)
	assert.Equal(t, uint8(1), recent[1].ResultNr)

	stats, err := repo.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats["total_reports"])
	channels, ok := stats["channels"].([]ChannelStats)
	require.True(t, ok)
	require.Len(t, channels, 2)
	assert.Equal(t, "SDCCH/8 ts0 ss3", channels[0].Channel)
	assert.Equal(t, int64(3), channels[1].Count)
	assert.InDelta(t, 30.0, channels[1].AvgULRxLevFull, 0.001)

	removed, err := repo.DeleteOlderThan(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err = repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMeasurementReportString(t *testing.T) {
	offs := uint8(3)
	r := MeasurementReport{
		Channel:        "TCH/H ts2 ss1",
		ResultNr:       5,
		ULRxLevFull:    30,
		ULRxLevSub:     31,
		ULRxQualFull:   1,
		BSPowerDB:      6,
		L1Valid:        true,
		MSPower:        5,
		TA:             2,
		MSTimingOffset: &offs,
	}
	assert.Equal(t, "TCH/H ts2 ss1 #5 UL RXLEV 30/31 RXQUAL 1/0, BS -6 dB [MS PWR 5, TA 2] [MS TO 3]", r.String())
	assert.True(t, r.IsValid())
	assert.False(t, MeasurementReport{Channel: "  "}.IsValid())
}
