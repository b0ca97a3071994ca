package renderer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/render-bridge/internal/avtransport"
	"go2tv.app/render-bridge/internal/domain"
	"go2tv.app/render-bridge/internal/eventing"
	"go2tv.app/render-bridge/internal/playback"
)

type fakeRecorder struct {
	mu       sync.Mutex
	launches []Launch
	err      error
}

func (f *fakeRecorder) RecordLaunch(_ context.Context, l Launch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, l)
	return f.err
}

type fixture struct {
	dispatcher *Dispatcher
	machine    *avtransport.Machine
	handle     *playback.Handle
	engine     *playback.Mock
	queue      *eventing.Queue
	history    *fakeRecorder
	logs       *bytes.Buffer
}

func newFixture(t *testing.T, bindEngine bool) *fixture {
	t.Helper()
	f := &fixture{
		machine: avtransport.NewMachine(nil),
		handle:  playback.NewHandle(),
		engine:  playback.NewMock(),
		queue:   eventing.NewQueue(0),
		history: &fakeRecorder{},
		logs:    &bytes.Buffer{},
	}
	if bindEngine {
		f.handle.Bind(f.engine)
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.dispatcher = New(f.machine, f.handle, f.queue, Config{Logger: logger, History: f.history})
	return f
}

func TestDispatcherSetURIThenPlay(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/video.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))

	inst := f.machine.Query()
	assert.Equal(t, avtransport.Playing, inst.State)
	assert.Equal(t, "http://x/video.mp4", inst.CurrentURI)
	assert.Equal(t, "1", inst.Speed)
	assert.Equal(t, []string{"http://x/video.mp4"}, f.engine.PlayCalls())

	require.Len(t, f.history.launches, 1)
	assert.Equal(t, "http://x/video.mp4", f.history.launches[0].URI)
}

func TestDispatcherRepeatedPlayDoesNotRelaunch(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/video.mp4", ""))

	for i := 0; i < 3; i++ {
		require.NoError(t, f.dispatcher.Play(0, "1"))
	}

	assert.Len(t, f.engine.PlayCalls(), 1)
	assert.Equal(t, 2, f.engine.ResumeCalls())
}

func TestDispatcherNewURIRelaunches(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/b.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))

	assert.Equal(t, []string{"http://x/a.mp4", "http://x/b.mp4"}, f.engine.PlayCalls())
}

func TestDispatcherSameURIAfterSetURIDoesNotRelaunch(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))

	assert.Len(t, f.engine.PlayCalls(), 1)
}

func TestDispatcherRebindRelaunches(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))

	next := playback.NewMock()
	f.handle.Bind(next)
	require.NoError(t, f.dispatcher.Play(0, "1"))

	assert.Len(t, f.engine.PlayCalls(), 1)
	assert.Equal(t, []string{"http://x/a.mp4"}, next.PlayCalls())
}

func TestDispatcherStopKeepsSourceAndResumes(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", "meta"))
	require.NoError(t, f.dispatcher.Play(0, "1"))

	require.NoError(t, f.dispatcher.Stop(0))

	inst := f.machine.Query()
	assert.Equal(t, avtransport.Stopped, inst.State)
	assert.Equal(t, "http://x/a.mp4", inst.CurrentURI)
	assert.Equal(t, "meta", inst.CurrentURIMetaData)
	assert.Equal(t, 1, f.engine.StopCalls())

	require.NoError(t, f.dispatcher.Play(0, "1"))
	assert.Len(t, f.engine.PlayCalls(), 1)
	assert.Equal(t, 1, f.engine.ResumeCalls())
	assert.Equal(t, playback.Playing, f.engine.State())
}

func TestDispatcherPauseForwardsToEngine(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))
	require.NoError(t, f.dispatcher.Play(0, "1"))

	require.NoError(t, f.dispatcher.Pause(0))

	assert.Equal(t, avtransport.Paused, f.machine.Query().State)
	assert.Equal(t, 1, f.engine.PauseCalls())
}

func TestDispatcherPlayWithoutEngineIsSoftFailure(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))

	err := f.dispatcher.Play(0, "1")

	require.NoError(t, err)
	assert.Equal(t, avtransport.Playing, f.machine.Query().State)
	assert.Contains(t, f.logs.String(), `"msg":"engine_unavailable"`)
	assert.Contains(t, f.logs.String(), `"level":"WARN"`)
	assert.Empty(t, f.history.launches)

	// Binding later and playing again starts the source.
	f.handle.Bind(f.engine)
	require.NoError(t, f.dispatcher.Play(0, "1"))
	assert.Equal(t, []string{"http://x/a.mp4"}, f.engine.PlayCalls())
}

func TestDispatcherSoftFailureWarningsAreThrottled(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))

	for i := 0; i < 5; i++ {
		require.NoError(t, f.dispatcher.Play(0, "1"))
	}

	warnings := 0
	for _, line := range strings.Split(f.logs.String(), "\n") {
		if strings.Contains(line, "engine_unavailable") && strings.Contains(line, `"level":"WARN"`) {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestDispatcherPlayWithoutURIDoesNotLaunch(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.dispatcher.Play(0, "1"))

	assert.Empty(t, f.engine.PlayCalls())
	assert.Equal(t, avtransport.Stopped, f.machine.Query().State)
}

func TestDispatcherInvalidInstanceNeverReachesMachine(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))
	f.machine.ChangeLog().Flush()

	calls := map[string]func() error{
		"SetAVTransportURI": func() error { return f.dispatcher.SetAVTransportURI(1, "http://x/b.mp4", "") },
		"Play":              func() error { return f.dispatcher.Play(2, "1") },
		"Pause":             func() error { return f.dispatcher.Pause(3) },
		"Stop":              func() error { return f.dispatcher.Stop(4) },
		"GetTransportInfo": func() error {
			_, err := f.dispatcher.GetTransportInfo(5)
			return err
		},
		"GetMediaInfo": func() error {
			_, err := f.dispatcher.GetMediaInfo(6)
			return err
		},
		"GetPositionInfo": func() error {
			_, err := f.dispatcher.GetPositionInfo(7)
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			var fault *domain.Fault
			require.True(t, errors.As(err, &fault), "expected a fault, got %v", err)
			assert.Equal(t, domain.FaultInvalidInstanceID, fault.Code)
		})
	}

	assert.Zero(t, f.machine.ChangeLog().Len())
	assert.Equal(t, "http://x/a.mp4", f.machine.Query().CurrentURI)
	assert.Empty(t, f.engine.PlayCalls())
}

func TestDispatcherQueries(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", "meta"))
	require.NoError(t, f.dispatcher.Play(0, "2"))
	f.machine.Reconcile(playback.Snapshot{State: playback.Paused, PositionMS: 30_000, DurationMS: 90_000})

	transport, err := f.dispatcher.GetTransportInfo(0)
	require.NoError(t, err)
	assert.Equal(t, TransportInfo{
		CurrentTransportState:  "PAUSED_PLAYBACK",
		CurrentTransportStatus: "OK",
		CurrentSpeed:           "2",
	}, transport)

	media, err := f.dispatcher.GetMediaInfo(0)
	require.NoError(t, err)
	assert.Equal(t, "http://x/a.mp4", media.CurrentURI)
	assert.Equal(t, "meta", media.CurrentURIMetaData)
	assert.Equal(t, "00:01:30", media.MediaDuration)

	position, err := f.dispatcher.GetPositionInfo(0)
	require.NoError(t, err)
	assert.Equal(t, "00:00:30", position.RelTime)
	assert.Equal(t, "00:01:30", position.TrackDuration)
}

func TestDispatcherPollLastChange(t *testing.T) {
	f := newFixture(t, true)
	assert.Nil(t, f.dispatcher.PollLastChange())

	f.queue.Publish([]byte("<Event/>"))
	assert.Equal(t, []byte("<Event/>"), f.dispatcher.PollLastChange())
	assert.Nil(t, f.dispatcher.PollLastChange())
}

func TestDispatcherHistoryFailureIsLogged(t *testing.T) {
	f := newFixture(t, true)
	f.history.err = errors.New("disk full")
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))

	require.NoError(t, f.dispatcher.Play(0, "1"))

	assert.Contains(t, f.logs.String(), "history_write_failed")
	assert.Len(t, f.engine.PlayCalls(), 1)
}

type panickingEngine struct{ *playback.Mock }

func (panickingEngine) PlayAt(string) { panic("surface gone") }

func TestDispatcherEnginePanicIsContained(t *testing.T) {
	f := newFixture(t, false)
	f.handle.Bind(panickingEngine{playback.NewMock()})
	require.NoError(t, f.dispatcher.SetAVTransportURI(0, "http://x/a.mp4", ""))

	assert.NotPanics(t, func() {
		require.NoError(t, f.dispatcher.Play(0, "1"))
	})
	assert.Contains(t, f.logs.String(), "engine_call_failed")
}
