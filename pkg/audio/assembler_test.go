package audio

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestAssemblerConcatenatesInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		a := NewAssembler()
		var want []int16
		n := rng.Intn(20)
		for i := 0; i < n; i++ {
			frag := make([]int16, rng.Intn(700))
			for j := range frag {
				frag[j] = int16(rng.Intn(65536) - 32768)
			}
			want = append(want, frag...)
			if err := a.Append(frag); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		got := a.Flush()
		if len(want) == 0 {
			want = []int16{}
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: flush mismatch (%d vs %d samples)", trial, len(got), len(want))
		}
		if a.Len() != 0 || a.Fragments() != 0 {
			t.Fatalf("trial %d: assembler not empty after flush", trial)
		}
	}
}

func TestAssemblerEmptyFlush(t *testing.T) {
	a := NewAssembler()
	got := a.Flush()
	if got == nil || len(got) != 0 {
		t.Errorf("Flush() = %v, want empty non-nil slice", got)
	}
}

func TestAssemblerDoesNotCarryAcrossTurns(t *testing.T) {
	a := NewAssembler()
	_ = a.Append([]int16{1, 2})
	_ = a.Flush()
	_ = a.Append([]int16{3})
	if got := a.Flush(); !reflect.DeepEqual(got, []int16{3}) {
		t.Errorf("second turn = %v, want [3]", got)
	}
}

func TestAssemblerRelease(t *testing.T) {
	a := NewAssembler()
	_ = a.Append([]int16{1, 2, 3})
	a.Release()
	a.Release()

	if a.Len() != 0 {
		t.Errorf("Len() after Release = %d", a.Len())
	}
	if err := a.Append([]int16{4}); !errors.Is(err, ErrReleased) {
		t.Errorf("Append() after Release error = %v, want ErrReleased", err)
	}
}
