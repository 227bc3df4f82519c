package pipeline

import (
	"context"
	"sync"
)

// Exclusive wraps every present adapter so that overlapping calls from
// different pipelines are serialized. Use it for engines backed by a single
// local model instance.
func Exclusive(s Slots) Slots {
	out := Slots{}
	if s.STT != nil {
		out.STT = ExclusiveSTT(s.STT)
	}
	if s.LLM != nil {
		out.LLM = ExclusiveLLM(s.LLM)
	}
	if s.TTS != nil {
		out.TTS = ExclusiveTTS(s.TTS)
	}
	return out
}

// ExclusiveSTT serializes Transcribe calls.
func ExclusiveSTT(inner STT) STT {
	return &exclusiveSTT{inner: inner, sem: newSemaphore()}
}

type exclusiveSTT struct {
	inner STT
	sem   semaphore
}

func (e *exclusiveSTT) Initialize(ctx context.Context) error {
	if err := e.sem.acquire(ctx); err != nil {
		return err
	}
	defer e.sem.release()
	return e.inner.Initialize(ctx)
}

func (e *exclusiveSTT) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if err := e.sem.acquire(ctx); err != nil {
		return "", err
	}
	defer e.sem.release()
	return e.inner.Transcribe(ctx, samples, sampleRate)
}

// ExclusiveLLM serializes generations. The lock is held from Generate until
// the returned stream is closed.
func ExclusiveLLM(inner LLM) LLM {
	return &exclusiveLLM{inner: inner, sem: newSemaphore()}
}

type exclusiveLLM struct {
	inner LLM
	sem   semaphore
}

func (e *exclusiveLLM) Initialize(ctx context.Context) error {
	if err := e.sem.acquire(ctx); err != nil {
		return err
	}
	defer e.sem.release()
	return e.inner.Initialize(ctx)
}

func (e *exclusiveLLM) Generate(ctx context.Context, history []Message) (TokenStream, error) {
	if err := e.sem.acquire(ctx); err != nil {
		return nil, err
	}
	stream, err := e.inner.Generate(ctx, history)
	if err != nil {
		e.sem.release()
		return nil, err
	}
	return &lockedStream{TokenStream: stream, release: e.sem.release}, nil
}

type lockedStream struct {
	TokenStream
	once    sync.Once
	release func()
}

func (s *lockedStream) Close() error {
	err := s.TokenStream.Close()
	s.once.Do(s.release)
	return err
}

// ExclusiveTTS serializes Synthesize calls.
func ExclusiveTTS(inner TTS) TTS {
	return &exclusiveTTS{inner: inner, sem: newSemaphore()}
}

type exclusiveTTS struct {
	inner TTS
	sem   semaphore
}

func (e *exclusiveTTS) Initialize(ctx context.Context) error {
	if err := e.sem.acquire(ctx); err != nil {
		return err
	}
	defer e.sem.release()
	return e.inner.Initialize(ctx)
}

func (e *exclusiveTTS) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	if err := e.sem.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer e.sem.release()
	return e.inner.Synthesize(ctx, text)
}
