package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for compression activity. All counters are
// safe for concurrent use.
type Statistics struct {
	RequestsSubmitted  int64
	RequestsDispatched int64
	RequestsCompleted  int64
	RequestsSuperseded int64

	ResultsDelivered  int64
	FailuresDelivered int64
	DecodeErrors      int64
	EncodeErrors      int64
	OverBudget        int64
	Resized           int64

	BytesIn  int64
	BytesOut int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents a failure delivered to a caller.
type StatError struct {
	RequestID int64
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// IncrementSubmitted counts a request accepted by a coordinator.
func (s *Statistics) IncrementSubmitted() {
	atomic.AddInt64(&s.RequestsSubmitted, 1)
}

// IncrementDispatched counts a request handed to a worker goroutine.
func (s *Statistics) IncrementDispatched() {
	atomic.AddInt64(&s.RequestsDispatched, 1)
}

// IncrementCompleted counts a worker that finished, delivered or not.
func (s *Statistics) IncrementCompleted() {
	atomic.AddInt64(&s.RequestsCompleted, 1)
}

// IncrementSuperseded counts a request whose outcome was discarded.
func (s *Statistics) IncrementSuperseded() {
	atomic.AddInt64(&s.RequestsSuperseded, 1)
}

// IncrementResized counts a result that needed resampling.
func (s *Statistics) IncrementResized() {
	atomic.AddInt64(&s.Resized, 1)
}

// RecordResult records a delivered result and its byte sizes.
func (s *Statistics) RecordResult(originalSize, outputSize int64, withinBudget bool) {
	atomic.AddInt64(&s.ResultsDelivered, 1)
	atomic.AddInt64(&s.BytesIn, originalSize)
	atomic.AddInt64(&s.BytesOut, outputSize)
	if !withinBudget {
		atomic.AddInt64(&s.OverBudget, 1)
	}
}

// RecordFailure records a delivered failure. kind is "decode", "encode" or anything else.
func (s *Statistics) RecordFailure(requestID int64, kind, message string) {
	atomic.AddInt64(&s.FailuresDelivered, 1)
	switch kind {
	case "decode":
		atomic.AddInt64(&s.DecodeErrors, 1)
	case "encode":
		atomic.AddInt64(&s.EncodeErrors, 1)
	}
	s.AddError(requestID, kind, message)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(requestID int64, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		RequestID: requestID,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize stamps the end time and duration.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SavedRatio returns the fraction of input bytes saved across delivered results.
func (s *Statistics) SavedRatio() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(in-atomic.LoadInt64(&s.BytesOut)) / float64(in)
}

// Snapshot returns the counters as a map suitable for JSON encoding.
func (s *Statistics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"submitted":          atomic.LoadInt64(&s.RequestsSubmitted),
		"dispatched":         atomic.LoadInt64(&s.RequestsDispatched),
		"completed":          atomic.LoadInt64(&s.RequestsCompleted),
		"superseded":         atomic.LoadInt64(&s.RequestsSuperseded),
		"results_delivered":  atomic.LoadInt64(&s.ResultsDelivered),
		"failures_delivered": atomic.LoadInt64(&s.FailuresDelivered),
		"decode_errors":      atomic.LoadInt64(&s.DecodeErrors),
		"encode_errors":      atomic.LoadInt64(&s.EncodeErrors),
		"over_budget":        atomic.LoadInt64(&s.OverBudget),
		"resized":            atomic.LoadInt64(&s.Resized),
		"bytes_in":           atomic.LoadInt64(&s.BytesIn),
		"bytes_out":          atomic.LoadInt64(&s.BytesOut),
		"saved_ratio":        s.SavedRatio(),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	s.mutex.RUnlock()

	return fmt.Sprintf(`Image Compressor Statistics Summary:

Requests:
		Submitted: %d
		Dispatched: %d
		Completed: %d
		Superseded: %d

Outcomes:
		Results: %d
		Failures: %d
		Decode Errors: %d
		Encode Errors: %d
		Over Budget: %d
		Resized: %d

Bytes:
		In: %s
		Out: %s
		Saved: %.2f%%

Performance:
		Duration: %v`,
		atomic.LoadInt64(&s.RequestsSubmitted),
		atomic.LoadInt64(&s.RequestsDispatched),
		atomic.LoadInt64(&s.RequestsCompleted),
		atomic.LoadInt64(&s.RequestsSuperseded),
		atomic.LoadInt64(&s.ResultsDelivered),
		atomic.LoadInt64(&s.FailuresDelivered),
		atomic.LoadInt64(&s.DecodeErrors),
		atomic.LoadInt64(&s.EncodeErrors),
		atomic.LoadInt64(&s.OverBudget),
		atomic.LoadInt64(&s.Resized),
		FormatBytes(atomic.LoadInt64(&s.BytesIn)),
		FormatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.SavedRatio()*100,
		duration)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: request %d - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.RequestID,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
