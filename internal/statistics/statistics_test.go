package statistics

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordResultAndFailure(t *testing.T) {
	s := NewStatistics()
	s.RecordResult(1000, 250, true)
	s.RecordResult(1000, 1500, false)
	s.RecordFailure(3, "decode", "not an image")
	s.RecordFailure(4, "encode", "bad quality")

	assert.Equal(t, int64(2), s.ResultsDelivered)
	assert.Equal(t, int64(1), s.OverBudget)
	assert.Equal(t, int64(2), s.FailuresDelivered)
	assert.Equal(t, int64(1), s.DecodeErrors)
	assert.Equal(t, int64(1), s.EncodeErrors)
	assert.InDelta(t, 0.125, s.SavedRatio(), 1e-9)
	assert.Len(t, s.Errors, 2)
	assert.Contains(t, s.GetErrorSummary(), "request 3 - not an image")
}

func TestConcurrentCounters(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementSubmitted()
			s.IncrementSuperseded()
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(50), snap["submitted"])
	assert.Equal(t, int64(50), snap["superseded"])
}

func TestGetSummary(t *testing.T) {
	s := NewStatistics()
	s.RecordResult(2048, 1024, true)
	s.Finalize()

	summary := s.GetSummary()
	assert.True(t, strings.HasPrefix(summary, "Image Compressor Statistics Summary"))
	assert.Contains(t, summary, "In: 2.0 KB")
	assert.Contains(t, summary, "Saved: 50.00%")
	assert.Equal(t, "No errors occurred during processing", s.GetErrorSummary())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "5.0 MB", FormatBytes(5*1024*1024))
}
