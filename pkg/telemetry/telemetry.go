// Package telemetry records lightweight request timings. Requests slower
// than the slow threshold are always logged; a small sample of requests
// additionally carries per-operation spans. Records are appended as JSON
// lines under the state telemetry directory.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"relaydb/pkg/state"
	"relaydb/pkg/utils"
)

type ctxKey struct{}

var (
	writerOnce sync.Once
	writerCh   chan []byte
	requestCtr uint64

	sampleEvery   int64 = 1000 // one full trace per N requests
	slowThreshold       = 200 * time.Millisecond
)

// Span is a timed sub-operation relative to request start, in milliseconds.
type Span struct {
	Op       string `json:"op"`
	StartMs  int64  `json:"start_ms"`
	Duration int64  `json:"duration_ms"`
}

type trace struct {
	RequestID string `json:"request_id"`
	Op        string `json:"op"`
	Duration  int64  `json:"duration_ms"`
	Status    int    `json:"status"`
	Slow      bool   `json:"slow,omitempty"`
	Spans     []Span `json:"spans,omitempty"`

	start time.Time
	mu    sync.Mutex
}

// SetSlowThreshold sets the duration above which every request is recorded.
func SetSlowThreshold(d time.Duration) {
	if d > 0 {
		slowThreshold = d
	}
}

// SetSampleEvery records a full span trace for one request in every n.
// Zero disables sampling; slow requests are still recorded.
func SetSampleEvery(n int64) { sampleEvery = n }

func initWriter() {
	writerCh = make(chan []byte, 1024)
	dir := filepath.Join("state", "telemetry")
	if state.PathsVar.State != "" {
		dir = filepath.Join(state.PathsVar.State, "telemetry")
	}
	go func() {
		_ = os.MkdirAll(dir, 0o755)
		f, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		for b := range writerCh {
			_, _ = f.Write(append(b, '\n'))
		}
	}()
}

func enqueue(t *trace) {
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	writerOnce.Do(initWriter)
	select {
	case writerCh <- b:
	default:
		// drop rather than block the request path
	}
}

// Middleware records request timing. Sampled requests carry spans opened
// with StartSpan; unsampled requests are recorded only when slow.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		n := atomic.AddUint64(&requestCtr, 1)
		sampled := sampleEvery > 0 && int64(n)%sampleEvery == 0

		t := &trace{
			RequestID: "req-" + utils.ShortID(),
			Op:        r.Method + " " + r.URL.Path,
			start:     start,
		}
		if sampled {
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, t))
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		dur := time.Since(start)
		if !sampled && dur <= slowThreshold {
			return
		}
		t.mu.Lock()
		t.Status = sw.status
		t.Duration = dur.Milliseconds()
		t.Slow = dur > slowThreshold
		t.mu.Unlock()
		enqueue(t)
	})
}

// StartSpan opens a span on the current request's trace and returns the
// function that closes it. A no-op closer is returned when the request is
// not sampled, so call sites never need to check.
func StartSpan(ctx context.Context, op string) func() {
	t, ok := ctx.Value(ctxKey{}).(*trace)
	if !ok {
		return func() {}
	}
	startRel := time.Since(t.start).Milliseconds()
	t.mu.Lock()
	t.Spans = append(t.Spans, Span{Op: op, StartMs: startRel})
	idx := len(t.Spans) - 1
	t.mu.Unlock()
	return func() {
		endRel := time.Since(t.start).Milliseconds()
		t.mu.Lock()
		t.Spans[idx].Duration = endRel - t.Spans[idx].StartMs
		t.mu.Unlock()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
