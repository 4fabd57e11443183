package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/ladder"
)

type fakeLadder struct {
	anomalies  []ladder.Anomaly
	verifyErr  error
	rebuildErr error
	verified   atomic.Int32
	rebuilt    atomic.Int32
}

func (f *fakeLadder) VerifyLadder(context.Context) ([]ladder.Anomaly, error) {
	f.verified.Add(1)
	return f.anomalies, f.verifyErr
}

func (f *fakeLadder) RebuildStandings(context.Context) (int, error) {
	f.rebuilt.Add(1)
	return 7, f.rebuildErr
}

func newTestWorker(l Ladder, interval time.Duration) *SyncWorker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSyncWorker(l, &config.SyncConfig{Interval: interval, Enabled: true}, logger)
}

func TestRunOnceRebuildsHealthyLadder(t *testing.T) {
	l := &fakeLadder{}
	result := newTestWorker(l, time.Minute).RunOnce(context.Background())

	assert.Empty(t, result.Anomalies)
	assert.Equal(t, 7, result.Rebuilt)
	assert.EqualValues(t, 1, l.rebuilt.Load())
}

func TestRunOnceSkipsRebuildOnAnomalies(t *testing.T) {
	l := &fakeLadder{anomalies: []ladder.Anomaly{{PlayerID: "p1", Rank: -1, Problem: "rank is not positive"}}}
	result := newTestWorker(l, time.Minute).RunOnce(context.Background())

	assert.Len(t, result.Anomalies, 1)
	assert.Zero(t, result.Rebuilt)
	assert.Zero(t, l.rebuilt.Load())
}

func TestRunOnceVerifyFailure(t *testing.T) {
	l := &fakeLadder{verifyErr: errors.New("connection refused")}
	result := newTestWorker(l, time.Minute).RunOnce(context.Background())

	assert.Zero(t, result.Rebuilt)
	assert.Zero(t, l.rebuilt.Load())
}

func TestRunOnceRebuildFailure(t *testing.T) {
	l := &fakeLadder{rebuildErr: errors.New("redis down")}
	result := newTestWorker(l, time.Minute).RunOnce(context.Background())
	assert.Zero(t, result.Rebuilt)
}

func TestStartStop(t *testing.T) {
	l := &fakeLadder{}
	w := newTestWorker(l, 5*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	require.Eventually(t, func() bool { return l.rebuilt.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}
