package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/testutil"
)

const waitTimeout = 10 * time.Second

// blockingEngine holds every request until release is closed.
type blockingEngine struct {
	release chan struct{}
	once    sync.Once
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{release: make(chan struct{})}
}

func (b *blockingEngine) open() { b.once.Do(func() { close(b.release) }) }

func (b *blockingEngine) Compress(ctx context.Context, req compressor.Request, progress compressor.ProgressFunc) (*compressor.Result, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &compressor.Result{
		RequestID:    req.ID,
		Output:       []byte{0xff, 0xd8},
		OriginalSize: int64(len(req.Source)),
		OutputSize:   2,
		Quality:      req.Quality,
		WithinBudget: true,
	}, nil
}

func defaultCompression() config.CompressionConfig {
	return config.DefaultConfig().Compression
}

func newRealSession(t *testing.T) *Session {
	t.Helper()
	log := logger.Discard()
	engine := compressor.NewEngine(log, extractor.NewEXIFExtractor(log), true)
	s := New("s1", defaultCompression(), engine, log, statistics.NewStatistics())
	t.Cleanup(s.Close)
	return s
}

func collect(s *Session) chan Event {
	ch := make(chan Event, 256)
	s.Subscribe(func(ev Event) { ch <- ev })
	return ch
}

func waitFor(t *testing.T, ch chan Event, types ...EventType) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-ch:
			for _, typ := range types {
				if ev.Type == typ {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", types)
			return Event{}
		}
	}
}

func TestNew_InitialView(t *testing.T) {
	s := newRealSession(t)
	v := s.View()

	assert.Equal(t, "s1", v.ID)
	assert.Equal(t, 80, v.Quality)
	assert.False(t, v.HasSource)
	assert.False(t, v.Loading)
	assert.Nil(t, s.Result())
}

func TestSetQuality(t *testing.T) {
	s := newRealSession(t)

	assert.ErrorIs(t, s.SetQuality(5), compressor.ErrInvalidQuality)
	assert.ErrorIs(t, s.SetQuality(101), compressor.ErrInvalidQuality)
	assert.Equal(t, 80, s.View().Quality)

	require.NoError(t, s.SetQuality(50))
	v := s.View()
	assert.Equal(t, 50, v.Quality)
	assert.False(t, v.Loading, "no source means nothing to compress")
	assert.Equal(t, int64(0), v.RequestID)
}

func TestSetSource_RequiresData(t *testing.T) {
	s := newRealSession(t)
	assert.ErrorIs(t, s.SetSource(nil), ErrNoSource)
	assert.ErrorIs(t, s.Recompress(), ErrNoSource)
}

func TestSetSource_DeliversResult(t *testing.T) {
	s := newRealSession(t)
	events := collect(s)

	src := testutil.JPEG(t, testutil.Noisy(1600, 1200, 3), 95)
	require.NoError(t, s.SetSource(src))

	ev := waitFor(t, events, EventCompleted, EventFailed)
	require.Equal(t, EventCompleted, ev.Type, ev.View.Error)
	assert.Equal(t, "s1", ev.SessionID)

	v := s.View()
	assert.False(t, v.Loading)
	assert.True(t, v.HasSource)
	assert.Equal(t, 1024, v.Width)
	assert.Equal(t, 768, v.Height)
	assert.Equal(t, int64(len(src)), v.OriginalSize)
	assert.Equal(t, compressor.FormatMiB(int64(len(src))), v.OriginalMiB)
	assert.NotEmpty(t, v.OutputMiB)
	assert.Empty(t, v.Error)

	r := s.Result()
	require.NotNil(t, r)
	assert.Equal(t, 0.8, r.Quality)

	require.NoError(t, s.SetQuality(40))
	waitFor(t, events, EventCompleted)
	assert.Equal(t, 0.4, s.Result().Quality)
	assert.Equal(t, 40, s.View().Quality)
}

func TestFailureClearsPreviousResult(t *testing.T) {
	s := newRealSession(t)
	events := collect(s)

	require.NoError(t, s.SetSource(testutil.JPEG(t, testutil.Gradient(200, 100), 90)))
	waitFor(t, events, EventCompleted)
	require.NotNil(t, s.Result())

	require.NoError(t, s.SetSource([]byte("definitely not an image")))
	ev := waitFor(t, events, EventCompleted, EventFailed)
	assert.Equal(t, EventFailed, ev.Type)

	v := s.View()
	assert.Nil(t, s.Result())
	assert.False(t, v.Loading)
	assert.NotEmpty(t, v.Error)
	assert.Empty(t, v.OutputMiB)
}

func TestQualityBurstYieldsOneOutcome(t *testing.T) {
	engine := newBlockingEngine()
	s := New("burst", defaultCompression(), engine, logger.Discard(), nil)
	defer s.Close()
	events := collect(s)

	require.NoError(t, s.SetSource([]byte("source bytes")))
	require.NoError(t, s.SetQuality(50))
	require.NoError(t, s.SetQuality(30))
	assert.True(t, s.Loading())

	engine.open()
	ev := waitFor(t, events, EventCompleted, EventFailed)
	require.Equal(t, EventCompleted, ev.Type)
	assert.Equal(t, int64(3), ev.RequestID)
	assert.Equal(t, 30, ev.View.Quality)
	assert.Equal(t, 0.3, s.Result().Quality)

	s.Close()
	for {
		select {
		case ev := <-events:
			assert.NotEqual(t, EventCompleted, ev.Type, "request %d", ev.RequestID)
			assert.NotEqual(t, EventFailed, ev.Type)
			continue
		default:
		}
		break
	}
	assert.False(t, s.Loading())
}

func TestEventsFollowRequestOrder(t *testing.T) {
	engine := newBlockingEngine()
	engine.open()
	s := New("order", defaultCompression(), engine, logger.Discard(), nil)
	defer s.Close()
	events := collect(s)

	require.NoError(t, s.SetSource([]byte("source bytes")))
	for _, q := range []int{70, 60, 50, 40, 30} {
		require.NoError(t, s.SetQuality(q))
	}

	started := make(map[int64]bool)
	var lastDone int64
	deadline := time.After(waitTimeout)
	for lastDone != 6 {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventStarted:
				started[ev.RequestID] = true
			case EventCompleted, EventFailed:
				require.True(t, started[ev.RequestID], "request %d finished before it started", ev.RequestID)
				require.Greater(t, ev.RequestID, lastDone)
				lastDone = ev.RequestID
			}
		case <-deadline:
			t.Fatalf("timed out, last finished request %d", lastDone)
		}
	}
	assert.Len(t, started, 6)
	assert.Equal(t, 30, s.View().Quality)
}

func TestSlowSubscriberDoesNotBlockSetQuality(t *testing.T) {
	engine := newBlockingEngine()
	s := New("slow", defaultCompression(), engine, logger.Discard(), nil)
	defer s.Close()

	var once sync.Once
	stalled := make(chan struct{})
	s.Subscribe(func(Event) {
		once.Do(func() {
			close(stalled)
			time.Sleep(time.Second)
		})
	})
	events := collect(s)

	require.NoError(t, s.SetSource([]byte("source bytes")))
	<-stalled

	start := time.Now()
	require.NoError(t, s.SetQuality(50))
	require.NoError(t, s.SetQuality(30))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(3), s.View().RequestID)

	engine.open()
	ev := waitFor(t, events, EventCompleted)
	assert.Equal(t, int64(3), ev.RequestID)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	engine := newBlockingEngine()
	engine.open()
	s := New("sub", defaultCompression(), engine, nil, nil)
	defer s.Close()

	var mu sync.Mutex
	count := 0
	unsubscribe := s.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	events := collect(s)

	require.NoError(t, s.SetSource([]byte("x")))
	waitFor(t, events, EventCompleted)
	unsubscribe()

	mu.Lock()
	seen := count
	mu.Unlock()
	assert.GreaterOrEqual(t, seen, 1)

	require.NoError(t, s.Recompress())
	waitFor(t, events, EventCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, count)
}

func TestManager(t *testing.T) {
	engine := newBlockingEngine()
	engine.open()
	m := NewManager(defaultCompression(), engine, logger.Discard(), nil)

	a := m.Create()
	b := m.Create()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, m.Len())
	assert.Len(t, m.IDs(), 2)
	assert.NotNil(t, m.Statistics())

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, m.Delete(a.ID()))
	_, err = m.Get(a.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(a.ID()), ErrSessionNotFound)

	m.CloseAll()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.Busy())
}
