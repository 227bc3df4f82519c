package pipeline

// Sinks receives the ordered events of one cycle. Nil fields are skipped.
//
// For a successful cycle the events fire as
// OnTranscript? -> OnResponseChunk* -> OnAudio? -> OnComplete.
// A failed cycle ends with exactly one OnError and no OnComplete.
type Sinks struct {
	OnTranscript    func(text string)
	OnResponseChunk func(text string)
	OnAudio         func(samples []int16, sampleRate int)
	OnComplete      func()
	OnError         func(err error)
}

func (s Sinks) transcript(text string) {
	if s.OnTranscript != nil {
		s.OnTranscript(text)
	}
}

func (s Sinks) chunk(text string) {
	if s.OnResponseChunk != nil {
		s.OnResponseChunk(text)
	}
}

func (s Sinks) audio(samples []int16, rate int) {
	if s.OnAudio != nil {
		s.OnAudio(samples, rate)
	}
}

func (s Sinks) complete() {
	if s.OnComplete != nil {
		s.OnComplete()
	}
}

func (s Sinks) fail(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}
