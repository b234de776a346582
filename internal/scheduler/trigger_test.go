package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRunner) RunDueBatch(context.Context, time.Time) (int, error) {
	f.calls.Add(1)
	return 2, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrigger_RunsImmediatelyAndPeriodically(t *testing.T) {
	runner := &fakeRunner{}
	trig := NewTrigger(runner, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := trig.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, runner.calls.Load(), int32(2), "expected the immediate run plus at least one tick")
}

func TestTrigger_BatchErrorDoesNotStopLoop(t *testing.T) {
	runner := &fakeRunner{err: errors.New("store down")}
	trig := NewTrigger(runner, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = trig.Start(ctx)
	require.GreaterOrEqual(t, runner.calls.Load(), int32(2), "failed runs must not stop the ticker")
}
