package pipeline

import (
	"sync"
	"time"
)

// Source identifies what started a cycle.
type Source string

const (
	SourceAudio Source = "audio"
	SourceText  Source = "text"
)

// Outcome is the terminal result of a cycle.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeEmpty    Outcome = "empty" // no speech recognized
	OutcomeError    Outcome = "error"
)

// CycleMetrics records latency at each stage of one cycle.
// Durations are measured from the moment the cycle acquired the pipeline.
type CycleMetrics struct {
	Source  Source
	Outcome Outcome

	// FailedStage is set when an adapter failed. It is empty for
	// configuration, readiness and cancellation failures.
	FailedStage Stage

	STTLatency time.Duration // time to transcript
	FirstChunk time.Duration // time to first LLM fragment
	LLMLatency time.Duration // time to end of LLM stream
	TTSLatency time.Duration // time spent synthesizing
	Total      time.Duration

	Chunks       int // LLM fragments forwarded
	AudioOut     int // OnAudio calls
	SamplesOut   int // total synthesized samples
	ResponseSize int // bytes of accumulated response
}

// Observer receives the metrics of every finished cycle.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveCycle(m CycleMetrics)
}

// cycleClock accumulates metrics for the cycle in progress.
type cycleClock struct {
	start time.Time
	m     CycleMetrics
}

func startClock(src Source) *cycleClock {
	return &cycleClock{start: time.Now(), m: CycleMetrics{Source: src}}
}

func (c *cycleClock) since() time.Duration {
	return time.Since(c.start)
}

func (c *cycleClock) markTranscript() {
	c.m.STTLatency = c.since()
}

func (c *cycleClock) markChunk(n int) {
	if c.m.Chunks == 0 {
		c.m.FirstChunk = c.since()
	}
	c.m.Chunks++
	c.m.ResponseSize += n
}

func (c *cycleClock) markStreamDone() {
	c.m.LLMLatency = c.since()
}

func (c *cycleClock) addTTS(d time.Duration, samples int) {
	c.m.TTSLatency += d
	c.m.AudioOut++
	c.m.SamplesOut += samples
}

func (c *cycleClock) finish(outcome Outcome) CycleMetrics {
	c.m.Outcome = outcome
	c.m.Total = c.since()
	return c.m
}

// FormatLatency returns a one-line summary of the stage latencies.
func (m CycleMetrics) FormatLatency() string {
	return formatDuration(m.STTLatency) + " STT | " +
		formatDuration(m.FirstChunk) + " LLM first | " +
		formatDuration(m.LLMLatency) + " LLM | " +
		formatDuration(m.TTSLatency) + " TTS | " +
		formatDuration(m.Total) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

// Recorder keeps the most recent cycles for averaging. It implements Observer.
type Recorder struct {
	mu      sync.Mutex
	size    int
	history []CycleMetrics
}

// NewRecorder creates a recorder holding up to size cycles.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 100
	}
	return &Recorder{size: size, history: make([]CycleMetrics, 0, size)}
}

// ObserveCycle records m.
func (r *Recorder) ObserveCycle(m CycleMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, m)
	if len(r.history) > r.size {
		r.history = r.history[1:]
	}
}

// Last returns the most recently recorded cycle.
func (r *Recorder) Last() (CycleMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return CycleMetrics{}, false
	}
	return r.history[len(r.history)-1], true
}

// Count returns the number of recorded cycles.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// Average returns average latencies over the recorded cycles that completed,
// and how many there were.
func (r *Recorder) Average() (CycleMetrics, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var avg CycleMetrics
	n := 0
	for _, h := range r.history {
		if h.Outcome != OutcomeComplete {
			continue
		}
		avg.STTLatency += h.STTLatency
		avg.FirstChunk += h.FirstChunk
		avg.LLMLatency += h.LLMLatency
		avg.TTSLatency += h.TTSLatency
		avg.Total += h.Total
		n++
	}
	if n == 0 {
		return CycleMetrics{}, 0
	}

	d := time.Duration(n)
	avg.STTLatency /= d
	avg.FirstChunk /= d
	avg.LLMLatency /= d
	avg.TTSLatency /= d
	avg.Total /= d
	avg.Outcome = OutcomeComplete
	return avg, n
}
