// Package session holds the presentation state of one interactive compression:
// the chosen source, the quality slider, the loading flag and the last outcome.
// All state changes after a submission are driven by coordinator outcomes.
package session

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/coordinator"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/statistics"
)

// ErrNoSource is returned when an operation needs a source image and none is set.
var ErrNoSource = errors.New("no source image")

// EventType names a session event pushed to subscribers.
type EventType string

const (
	EventStarted   EventType = "compress_started"
	EventProgress  EventType = "compress_progress"
	EventCompleted EventType = "compress_completed"
	EventFailed    EventType = "compress_failed"
)

// Event is delivered to subscribers whenever the visible state changes.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	RequestID int64     `json:"request_id"`
	Stage     string    `json:"stage,omitempty"`
	View      *View     `json:"view,omitempty"`
}

// View is the rendering-ready state of a session.
type View struct {
	ID           string  `json:"id"`
	Quality      int     `json:"quality"`
	HasSource    bool    `json:"has_source"`
	Loading      bool    `json:"loading"`
	RequestID    int64   `json:"request_id"`
	OriginalSize int64   `json:"original_size,omitempty"`
	OriginalMiB  string  `json:"original_mib,omitempty"`
	OutputSize   int64   `json:"output_size,omitempty"`
	OutputMiB    string  `json:"output_mib,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	WithinBudget bool    `json:"within_budget"`
	SavedPercent float64 `json:"saved_percent,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Session is safe for concurrent use.
type Session struct {
	id    string
	cfg   config.CompressionConfig
	log   *logrus.Entry
	coord *coordinator.Coordinator

	// mu is held across coordinator submission, which only takes the
	// coordinator's own lock briefly, so latestID always matches the stream.
	mu        sync.RWMutex
	source    []byte
	quality   float64
	loading   bool
	result    *compressor.Result
	lastErr   string
	latestID  int64
	updatedAt time.Time
	closed    bool

	// events are queued under mu in the order state changed and published
	// by a single publisher goroutine.
	events     []Event
	publishing bool
	publishWG  sync.WaitGroup

	listenersMu  sync.RWMutex
	listeners    map[int]func(Event)
	nextListener int
}

// New creates a session with its own coordinator stream.
func New(id string, cfg config.CompressionConfig, engine compressor.Compressor, log *logrus.Logger, stats *statistics.Statistics) *Session {
	if log == nil {
		log = logger.Discard()
	}
	quality := cfg.InitialQuality
	if quality <= 0 {
		quality = compressor.DefaultQuality
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       logger.WithSession(log, id),
		quality:   quality,
		listeners: make(map[int]func(Event)),
		updatedAt: time.Now(),
	}
	s.coord = coordinator.New(engine, log, stats, s.handleOutcome,
		coordinator.WithName(id),
		coordinator.WithProgress(s.handleProgress),
	)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SetSource replaces the source image and starts compressing it at the
// current quality. The previous result is dropped.
func (s *Session) SetSource(data []byte) error {
	if len(data) == 0 {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = data
	s.result = nil
	s.lastErr = ""
	s.log.WithField("size", len(data)).Debug("Source replaced")
	return s.submitLocked()
}

// SetQuality updates the quality slider. percent must be within [10,100].
// With a source present, a new compression is started.
func (s *Session) SetQuality(percent int) error {
	q, err := compressor.QualityFromPercent(percent)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.quality = q
	s.updatedAt = time.Now()
	if s.source == nil {
		return nil
	}
	return s.submitLocked()
}

// Recompress resubmits the current source and quality.
func (s *Session) Recompress() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked()
}

// submitLocked hands the current inputs to the coordinator and queues the
// started event ahead of anything the new request can produce. s.mu must be held.
func (s *Session) submitLocked() error {
	if s.source == nil {
		return ErrNoSource
	}

	id, err := s.coord.SubmitNew(s.source, s.quality, s.cfg.MaxEdgePixels, s.cfg.MaxOutputBytes)
	if err != nil {
		return err
	}

	s.latestID = id
	s.loading = true
	s.updatedAt = time.Now()
	v := s.viewLocked()
	s.enqueueLocked(Event{Type: EventStarted, RequestID: id, View: &v})
	return nil
}

func (s *Session) handleOutcome(o coordinator.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.RequestID < s.latestID {
		return
	}
	s.loading = false
	s.updatedAt = time.Now()

	ev := Event{RequestID: o.RequestID}
	switch o.Kind {
	case coordinator.OutcomeResult:
		s.result = o.Result
		s.lastErr = ""
		ev.Type = EventCompleted
	case coordinator.OutcomeFailure:
		// a failed request never leaves an older output on display
		s.result = nil
		s.lastErr = o.Message
		ev.Type = EventFailed
	default:
		return
	}
	v := s.viewLocked()
	ev.View = &v
	s.enqueueLocked(ev)
}

func (s *Session) handleProgress(id int64, stage compressor.ProgressStage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < s.latestID {
		return
	}
	s.enqueueLocked(Event{Type: EventProgress, RequestID: id, Stage: string(stage)})
}

// enqueueLocked queues ev and starts the publisher if it is idle. s.mu must be held.
func (s *Session) enqueueLocked(ev Event) {
	if s.closed {
		return
	}
	ev.SessionID = s.id
	s.events = append(s.events, ev)
	if s.publishing {
		return
	}
	s.publishing = true
	s.publishWG.Add(1)
	go s.publish()
}

func (s *Session) publish() {
	defer s.publishWG.Done()

	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.closed {
			s.events = nil
			s.publishing = false
			s.mu.Unlock()
			return
		}
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()

		s.listenersMu.RLock()
		fns := make([]func(Event), 0, len(s.listeners))
		for _, fn := range s.listeners {
			fns = append(fns, fn)
		}
		s.listenersMu.RUnlock()

		for _, fn := range fns {
			fn(ev)
		}
	}
}

// View returns the current state.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:        s.id,
		Quality:   int(math.Round(s.quality * 100)),
		HasSource: s.source != nil,
		Loading:   s.loading,
		RequestID: s.latestID,
		Error:     s.lastErr,
	}
	if s.source != nil {
		v.OriginalSize = int64(len(s.source))
		v.OriginalMiB = compressor.FormatMiB(v.OriginalSize)
	}
	if r := s.result; r != nil {
		v.OriginalSize = r.OriginalSize
		v.OriginalMiB = compressor.FormatMiB(r.OriginalSize)
		v.OutputSize = r.OutputSize
		v.OutputMiB = compressor.FormatMiB(r.OutputSize)
		v.Width = r.Width
		v.Height = r.Height
		v.WithinBudget = r.WithinBudget
		v.SavedPercent = math.Round(r.SavedPercent()*100) / 100
	}
	return v
}

// Result returns the last delivered result, or nil.
func (s *Session) Result() *compressor.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Loading reports whether a compression is outstanding.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// UpdatedAt returns the time of the last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Subscribe registers fn for session events and returns a function that
// removes it. Events arrive in order on a publisher goroutine; a slow fn
// delays later events of this session but never SetSource or SetQuality.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Close stops the coordinator, drops undelivered events and all subscribers.
func (s *Session) Close() {
	s.coord.Close()

	s.mu.Lock()
	s.closed = true
	s.loading = false
	s.mu.Unlock()
	s.publishWG.Wait()

	s.listenersMu.Lock()
	s.listeners = make(map[int]func(Event))
	s.listenersMu.Unlock()
	s.log.Debug("Session closed")
}
