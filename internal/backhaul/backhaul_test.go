package backhaul

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/gsmmeas/internal/database"
	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/protocol/sacch"
)

type collectSink struct {
	mu      sync.Mutex
	reports []*Report
	err     error
}

func (c *collectSink) Deliver(r *Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.reports = append(c.reports, r)
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

func testReport() *Report {
	offs := uint8(7)
	return &Report{
		ResultNr:       3,
		Channel:        "TCH/F ts1 ss0",
		ChanNr:         0x09,
		ULFull:         measurement.Level{RxLev: 30, RxQual: 1},
		ULSub:          measurement.Level{RxLev: 31, RxQual: 0},
		BSPowerDB:      4,
		L1:             &sacch.L1Header{MSPower: 5, TA: 2, SRRSRO: true},
		L3:             []byte{0x06, 0x15, 0x1e, 0x1e, 0x00},
		MSTimingOffset: &offs,
		Ext:            &measurement.ExtStats{TOA256Min: -10, TOA256Max: 40, TOA256StdDev: 21, Valid: true},
	}
}

func TestLinkDownRefusesReports(t *testing.T) {
	sink := &collectSink{}
	link := NewLink(nil, sink)

	assert.False(t, link.IsUp())
	assert.ErrorIs(t, link.SendMeasResult(testReport()), ErrLinkDown)
	assert.Equal(t, 0, sink.count())

	link.LinkUp()
	require.NoError(t, link.SendMeasResult(testReport()))
	assert.Equal(t, 1, sink.count())
	assert.False(t, sink.reports[0].Timestamp.IsZero())

	link.LinkDown()
	assert.ErrorIs(t, link.SendMeasResult(testReport()), ErrLinkDown)

	sent, failed := link.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(2), failed)
}

func TestLinkJoinsSinkErrors(t *testing.T) {
	boom := errors.New("boom")
	good := &collectSink{}
	link := NewLink(nil, &collectSink{err: boom})
	link.AddSink(good)
	link.LinkUp()

	err := link.SendMeasResult(testReport())
	assert.ErrorIs(t, err, boom)
	// the other sinks still get the report
	assert.Equal(t, 1, good.count())
}

func TestLinkQueueFullDoesNotFailSend(t *testing.T) {
	transport := &collectSink{}
	store := &collectSink{}
	q := NewQueueSink(store, 1, nil)
	link := NewLink(nil, transport, q)
	link.LinkUp()

	require.NoError(t, link.SendMeasResult(testReport()))
	// the queue is full now, the transport must still see the report
	require.NoError(t, link.SendMeasResult(testReport()))
	assert.Equal(t, 2, transport.count())

	sent, failed := link.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.Zero(t, failed)
	assert.Equal(t, uint64(1), link.Dropped())
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 1, q.Pending())
}

func TestSinkFunc(t *testing.T) {
	var got *Report
	link := NewLink(nil, SinkFunc(func(r *Report) error {
		got = r
		return nil
	}))
	link.LinkUp()
	require.NoError(t, link.SendMeasResult(testReport()))
	require.NotNil(t, got)
	assert.Equal(t, uint8(3), got.ResultNr)
}

func TestQueueSinkForwards(t *testing.T) {
	out := &collectSink{}
	q := NewQueueSink(out, 2, nil)

	require.NoError(t, q.Deliver(testReport()))
	require.NoError(t, q.Deliver(testReport()))
	assert.ErrorIs(t, q.Deliver(testReport()), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return out.count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Deliver(testReport()))
	cancel()
	<-done
	assert.Equal(t, 3, out.count())
}

func TestQueueSinkCopiesReport(t *testing.T) {
	out := &collectSink{}
	q := NewQueueSink(out, 1, nil)

	r := testReport()
	require.NoError(t, q.Deliver(r))
	r.ResultNr = 99

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	require.Equal(t, 1, out.count())
	assert.Equal(t, uint8(3), out.reports[0].ResultNr)
}

func TestStoreSink(t *testing.T) {
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "reports.db")}, nil)
	require.NoError(t, err)
	defer db.Close()

	link := NewLink(nil, NewStoreSink(db.Reports()))
	link.LinkUp()
	require.NoError(t, link.SendMeasResult(testReport()))

	got, err := db.Reports().Latest("TCH/F ts1 ss0")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x09), got.ChanNr)
	assert.True(t, got.L1Valid)
	assert.True(t, got.SRR)
	assert.Equal(t, uint8(2), got.TA)
	assert.True(t, got.ExtValid)
	assert.Equal(t, uint32(21), got.TOA256StdDev)
	require.NotNil(t, got.MSTimingOffset)
	assert.Equal(t, uint8(7), *got.MSTimingOffset)
}

func TestToRecordOptionalParts(t *testing.T) {
	r := &Report{Channel: "SDCCH/8 ts0 ss3", Ext: &measurement.ExtStats{Valid: false}}
	rec := ToRecord(r)
	assert.False(t, rec.L1Valid)
	assert.False(t, rec.ExtValid)
	assert.Nil(t, rec.MSTimingOffset)
	assert.Nil(t, rec.L3)
}

func TestReportString(t *testing.T) {
	s := testReport().String()
	assert.Contains(t, s, "TCH/F ts1 ss0 res_nr=3")
	assert.Contains(t, s, "L1(pwr=5 ta=2)")
	assert.Contains(t, s, "ms_to=7")
	assert.Contains(t, s, "sd=21")

	assert.NoError(t, NewLogSink(nil).Deliver(testReport()))
}
