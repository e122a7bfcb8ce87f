package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	calls atomic.Int32
	n     int64
	err   error
	at    time.Time
}

func (f *fakePurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	f.calls.Add(1)
	f.at = now
	return f.n, f.err
}

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) Sweep() int {
	f.calls.Add(1)
	return 2
}

func TestRunOnceLogsPurgedCount(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{n: 3}
	sw := &fakeSweeper{}

	s := New(p, sw, log, func() time.Time { return fixed })
	s.RunOnce()

	assert.EqualValues(t, 1, p.calls.Load())
	assert.Equal(t, fixed, p.at)
	assert.EqualValues(t, 1, sw.calls.Load())

	var purged *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "purged expired reset tokens" {
			purged = e
		}
	}
	require.NotNil(t, purged)
	assert.EqualValues(t, 3, purged.Data["count"])
}

func TestRunOnceLogsErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := New(&fakePurger{err: errors.New("db down")}, nil, log, nil)
	s.RunOnce()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := New(&fakePurger{}, nil, log, nil)
	assert.Error(t, s.Schedule("not a schedule"))
	assert.NoError(t, s.Schedule("@every 10m"))
}

func TestStartStop(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &fakePurger{}
	s := New(p, nil, log, nil)
	require.NoError(t, s.Schedule("@every 1s"))
	s.Start()

	assert.Eventually(t, func() bool { return p.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}
