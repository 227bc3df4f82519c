package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

func TestObserveCycle(t *testing.T) {
	m := New()

	m.ObserveCycle(pipeline.CycleMetrics{
		Source:     pipeline.SourceAudio,
		Outcome:    pipeline.OutcomeComplete,
		STTLatency: 200 * time.Millisecond,
		FirstChunk: 400 * time.Millisecond,
		LLMLatency: time.Second,
		TTSLatency: 300 * time.Millisecond,
		Total:      1300 * time.Millisecond,
		Chunks:     5,
		AudioOut:   1,
		SamplesOut: 22050,
	})
	m.ObserveCycle(pipeline.CycleMetrics{
		Source:      pipeline.SourceText,
		Outcome:     pipeline.OutcomeError,
		FailedStage: pipeline.StageLLM,
		Total:       50 * time.Millisecond,
	})

	if got := testutil.ToFloat64(m.Cycles.WithLabelValues("audio", "complete")); got != 1 {
		t.Errorf("audio/complete cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.Cycles.WithLabelValues("text", "error")); got != 1 {
		t.Errorf("text/error cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("llm")); got != 1 {
		t.Errorf("llm failures = %v", got)
	}
	if got := testutil.ToFloat64(m.SamplesOut); got != 22050 {
		t.Errorf("samples = %v", got)
	}
	if n := testutil.CollectAndCount(m.STTLatency); n != 1 {
		t.Errorf("stt latency series = %d", n)
	}
}

func TestSessionObserver(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(3 * time.Second)
	m.MessageReceived(protocol.TypeText)
	m.MessageReceived(protocol.MessageType("bogus"))
	m.MessageSent(protocol.TypeComplete)
	m.ProtocolError(protocol.CodeProtocol)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsOpened); got != 2 {
		t.Errorf("opened = %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("unknown")); got != 1 {
		t.Errorf("unknown types = %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesSent.WithLabelValues("complete")); got != 1 {
		t.Errorf("complete sent = %v", got)
	}
	if got := testutil.ToFloat64(m.ProtocolErrors.WithLabelValues(string(protocol.CodeProtocol))); got != 1 {
		t.Errorf("protocol errors = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"voicelink_active_sessions 1", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.SessionOpened()
	if got := testutil.ToFloat64(b.SessionsOpened); got != 0 {
		t.Errorf("registries shared: %v", got)
	}
}
