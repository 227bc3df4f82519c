package audio

import (
	"errors"
	"sync"
)

// ErrReleased is returned by Append after Release.
var ErrReleased = errors.New("audio: assembler released")

// Assembler accumulates the audio fragments of one utterance.
//
// Fragments are kept by reference until Flush so Append is O(1) amortized.
// Callers must not modify a fragment after appending it.
type Assembler struct {
	mu        sync.Mutex
	fragments [][]int16
	samples   int
	released  bool
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Append stores one fragment. Empty fragments are ignored.
func (a *Assembler) Append(fragment []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ErrReleased
	}
	if len(fragment) == 0 {
		return nil
	}
	a.fragments = append(a.fragments, fragment)
	a.samples += len(fragment)
	return nil
}

// Flush concatenates every stored fragment in arrival order and resets the
// assembler. It returns an empty, non-nil slice when nothing was appended.
func (a *Assembler) Flush() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int16, 0, a.samples)
	for _, f := range a.fragments {
		out = append(out, f...)
	}
	a.fragments = nil
	a.samples = 0
	return out
}

// Len returns the number of buffered samples.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samples
}

// Fragments returns the number of buffered fragments.
func (a *Assembler) Fragments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments)
}

// Release drops the buffer and rejects further appends. It is idempotent.
func (a *Assembler) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragments = nil
	a.samples = 0
	a.released = true
}
