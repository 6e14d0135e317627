// Package coordinator runs compression requests off the caller's goroutine and
// makes sure only the newest request of a stream ever produces a visible outcome.
//
// A stream is either Idle or Running. While Running, a newly submitted request
// becomes the pending-latest one (replacing any older pending request, which
// is never executed) and the in-flight worker is left to finish; its outcome is
// discarded if a newer request exists by then. At most one stale computation
// is wasted per burst of submissions, and the stream always converges on the
// most recent input.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/statistics"
)

var (
	// ErrStaleRequest is returned when a request ID is not above every ID
	// the stream has already seen.
	ErrStaleRequest = errors.New("stale request id")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("coordinator closed")
)

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	OutcomeResult OutcomeKind = iota
	OutcomeFailure
	OutcomeSuperseded
)

// String returns the name of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResult:
		return "result"
	case OutcomeFailure:
		return "failure"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Outcome is what a request ends in.
type Outcome struct {
	Kind      OutcomeKind
	RequestID int64

	// Result is set for OutcomeResult.
	Result *compressor.Result

	// ErrKind, Message and Err are set for OutcomeFailure.
	ErrKind compressor.ErrorKind
	Message string
	Err     error
}

// OutcomeFunc receives outcomes.
type OutcomeFunc func(Outcome)

// ProgressFunc receives pipeline stages of the current latest request.
type ProgressFunc func(requestID int64, stage compressor.ProgressStage)

// State is a snapshot of a stream's bookkeeping.
type State struct {
	Running  bool
	InFlight int64
	Highest  int64
	Pending  int64
	Closed   bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithName labels the stream in logs.
func WithName(name string) Option {
	return func(c *Coordinator) { c.name = name }
}

// WithProgress forwards engine stages for the latest request only.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Coordinator) { c.onProgress = fn }
}

// WithSupersededHook observes discarded requests. The hook may be called
// concurrently with the outcome handler and must not block.
func WithSupersededHook(fn OutcomeFunc) Option {
	return func(c *Coordinator) { c.onSuperseded = fn }
}

// Coordinator is the work coordinator for one logical request stream.
type Coordinator struct {
	name         string
	engine       compressor.Compressor
	logger       *logrus.Logger
	stats        *statistics.Statistics
	onOutcome    OutcomeFunc
	onProgress   ProgressFunc
	onSuperseded OutcomeFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	inFlight int64
	highest  int64
	pending  *compressor.Request
	closed   bool

	// outbox holds decided outcomes in completion order. A single drain
	// goroutine, alive while delivering is set, hands them to onOutcome.
	outbox     []Outcome
	delivering bool
}

// New creates an idle Coordinator. onOutcome receives every Result and
// Failure in increasing ID order, one at a time, on a delivery goroutine.
// It may call Submit and State; it must not call Close. A slow handler
// delays later outcomes but never blocks Submit.
func New(engine compressor.Compressor, log *logrus.Logger, stats *statistics.Statistics, onOutcome OutcomeFunc, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		name:      "default",
		engine:    engine,
		logger:    log,
		stats:     stats,
		onOutcome: onOutcome,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit accepts req for asynchronous execution. req.ID must be greater
// than every ID previously seen by this stream.
func (c *Coordinator) Submit(req compressor.Request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if req.ID <= c.highest {
		highest := c.highest
		c.mu.Unlock()
		return fmt.Errorf("%w: %d is not above %d", ErrStaleRequest, req.ID, highest)
	}
	dropped := c.submitLocked(req)
	c.mu.Unlock()

	if dropped != nil {
		c.supersede(dropped.ID, "replaced while pending")
	}
	return nil
}

// SubmitNew allocates the next request ID for this stream and submits a
// request built from the given parameters. It returns the allocated ID.
func (c *Coordinator) SubmitNew(source []byte, quality float64, maxEdgePixels int, maxOutputBytes int64) (int64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	req := compressor.NewRequest(c.highest+1, source, quality, maxEdgePixels, maxOutputBytes)
	dropped := c.submitLocked(req)
	c.mu.Unlock()

	if dropped != nil {
		c.supersede(dropped.ID, "replaced while pending")
	}
	return req.ID, nil
}

// submitLocked records req as the newest request and returns a pending
// request it displaced, if any. c.mu must be held.
func (c *Coordinator) submitLocked(req compressor.Request) *compressor.Request {
	c.highest = req.ID
	c.stats.IncrementSubmitted()

	if !c.running {
		c.running = true
		c.inFlight = req.ID
		c.dispatchLocked(req)
		return nil
	}

	dropped := c.pending
	c.pending = &req
	logger.WithRequest(c.logger, c.name, req.ID).Debugf("Queued behind in-flight request %d", c.inFlight)
	return dropped
}

// dispatchLocked starts req on its own goroutine. c.mu must be held.
func (c *Coordinator) dispatchLocked(req compressor.Request) {
	c.wg.Add(1)
	c.stats.IncrementDispatched()
	logger.WithRequest(c.logger, c.name, req.ID).WithField("quality", req.Quality).Debug("Dispatching request")
	go c.run(req)
}

func (c *Coordinator) run(req compressor.Request) {
	defer c.wg.Done()

	var (
		res *compressor.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("request %d: compressor panic: %v", req.ID, r)
			}
		}()
		res, err = c.engine.Compress(c.ctx, req, c.forwardProgress)
	}()

	c.complete(req, res, err)
}

func (c *Coordinator) forwardProgress(id int64, stage compressor.ProgressStage) {
	if c.onProgress == nil {
		return
	}
	c.mu.Lock()
	latest := id == c.highest && !c.closed
	c.mu.Unlock()
	if latest {
		c.onProgress(id, stage)
	}
}

// complete applies the completion transition: queue the outcome if req is
// still the newest, otherwise discard it; then dispatch pending-latest or go
// idle. It never waits on the outcome handler.
func (c *Coordinator) complete(req compressor.Request, res *compressor.Result, err error) {
	c.stats.IncrementCompleted()

	c.mu.Lock()
	closed := c.closed
	latest := req.ID == c.highest && !closed
	if c.pending != nil && !closed {
		next := *c.pending
		c.pending = nil
		c.inFlight = next.ID
		c.dispatchLocked(next)
	} else {
		c.running = false
		c.inFlight = 0
	}
	if latest {
		c.enqueueLocked(newOutcome(req, res, err))
	}
	c.mu.Unlock()

	switch {
	case closed:
		logger.WithRequest(c.logger, c.name, req.ID).Debug("Discarding outcome after close")
	case !latest:
		c.supersede(req.ID, "completed after a newer request")
	}
}

// enqueueLocked appends o to the outbox and starts the drain goroutine if
// none is running. c.mu must be held.
func (c *Coordinator) enqueueLocked(o Outcome) {
	c.outbox = append(c.outbox, o)
	if c.delivering {
		return
	}
	c.delivering = true
	c.wg.Add(1)
	go c.drain()
}

// drain delivers queued outcomes one at a time. An outcome whose request
// stopped being the newest while it waited is superseded instead.
func (c *Coordinator) drain() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(c.outbox) == 0 || c.closed {
			c.outbox = nil
			c.delivering = false
			c.mu.Unlock()
			return
		}
		o := c.outbox[0]
		c.outbox = c.outbox[1:]
		latest := o.RequestID == c.highest
		c.mu.Unlock()

		if !latest {
			c.supersede(o.RequestID, "newer request arrived before delivery")
			continue
		}
		c.deliver(logger.WithRequest(c.logger, c.name, o.RequestID), o)
	}
}

func (c *Coordinator) deliver(log *logrus.Entry, o Outcome) {
	switch o.Kind {
	case OutcomeResult:
		c.stats.RecordResult(o.Result.OriginalSize, o.Result.OutputSize, o.Result.WithinBudget)
		if o.Result.Resized {
			c.stats.IncrementResized()
		}
		log.WithFields(logrus.Fields{
			"width":         o.Result.Width,
			"height":        o.Result.Height,
			"original_size": o.Result.OriginalSize,
			"output_size":   o.Result.OutputSize,
			"within_budget": o.Result.WithinBudget,
		}).Info("Delivering result")
	case OutcomeFailure:
		c.stats.RecordFailure(o.RequestID, o.ErrKind.String(), o.Message)
		log.WithField("kind", o.ErrKind.String()).Warnf("Delivering failure: %s", o.Message)
	}

	if c.onOutcome != nil {
		c.onOutcome(o)
	}
}

func (c *Coordinator) supersede(id int64, reason string) {
	c.stats.IncrementSuperseded()
	logger.WithRequest(c.logger, c.name, id).Debugf("Request superseded: %s", reason)
	if c.onSuperseded != nil {
		c.onSuperseded(Outcome{Kind: OutcomeSuperseded, RequestID: id, Message: reason})
	}
}

func newOutcome(req compressor.Request, res *compressor.Result, err error) Outcome {
	if err == nil && res == nil {
		err = fmt.Errorf("request %d: compressor returned no result", req.ID)
	}
	if err != nil {
		return Outcome{
			Kind:      OutcomeFailure,
			RequestID: req.ID,
			ErrKind:   compressor.KindOf(err),
			Message:   err.Error(),
			Err:       err,
		}
	}
	return Outcome{Kind: OutcomeResult, RequestID: req.ID, Result: res}
}

// State returns a snapshot of the stream.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Running:  c.running,
		InFlight: c.inFlight,
		Highest:  c.highest,
		Closed:   c.closed,
	}
	if c.pending != nil {
		s.Pending = c.pending.ID
	}
	return s
}

// Close drops any pending request and undelivered outcomes, cancels the
// in-flight one and waits for its worker and any running delivery to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dropped := c.pending
	c.pending = nil
	c.outbox = nil
	c.mu.Unlock()

	if dropped != nil {
		logger.WithRequest(c.logger, c.name, dropped.ID).Debug("Dropping pending request on close")
	}
	c.cancel()
	c.wg.Wait()
}
