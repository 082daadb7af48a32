package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics tracks worker-local chunk throughput.
type ServiceMetrics struct {
	chunksProcessed int64
	chunksFailed    int64
	recipientsSent  int64
	recipientsFail  int64
	totalDurationNs int64
	lastResetNs     int64
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *ServiceMetrics) RecordChunk(duration time.Duration, sent, failed int) {
	atomic.AddInt64(&m.chunksProcessed, 1)
	atomic.AddInt64(&m.recipientsSent, int64(sent))
	atomic.AddInt64(&m.recipientsFail, int64(failed))
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *ServiceMetrics) RecordChunkFailure() {
	atomic.AddInt64(&m.chunksFailed, 1)
}

func (m *ServiceMetrics) GetStats() map[string]interface{} {
	chunks := atomic.LoadInt64(&m.chunksProcessed)
	failed := atomic.LoadInt64(&m.chunksFailed)
	sent := atomic.LoadInt64(&m.recipientsSent)
	recipFailed := atomic.LoadInt64(&m.recipientsFail)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	lastResetNs := atomic.LoadInt64(&m.lastResetNs)

	elapsed := time.Since(time.Unix(0, lastResetNs)).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(sent+recipFailed) / elapsed
	}

	avgDuration := time.Duration(0)
	if chunks > 0 {
		avgDuration = time.Duration(durationNs / chunks)
	}

	return map[string]interface{}{
		"chunks_processed":  chunks,
		"chunks_failed":     failed,
		"recipients_sent":   sent,
		"recipients_failed": recipFailed,
		"rate_per_second":   rate,
		"avg_chunk_ms":      avgDuration.Milliseconds(),
		"uptime_seconds":    elapsed,
	}
}

func (m *ServiceMetrics) Reset() {
	atomic.StoreInt64(&m.chunksProcessed, 0)
	atomic.StoreInt64(&m.chunksFailed, 0)
	atomic.StoreInt64(&m.recipientsSent, 0)
	atomic.StoreInt64(&m.recipientsFail, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())
}
