package tts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicelink/pkg/tts"
)

func TestMock(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	result, err := mock.Synthesize(ctx, "Hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CharCount != 11 || result.SampleRate != tts.SampleRatePiper {
		t.Errorf("result = %d chars at %d Hz", result.CharCount, result.SampleRate)
	}
	if result.Duration != 220*time.Millisecond {
		t.Errorf("expected 220ms, got %v", result.Duration)
	}
	if err := mock.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
	if got := mock.Texts(); len(got) != 1 || got[0] != "Hello world" {
		t.Errorf("Texts = %v", got)
	}
	if mock.HealthChecks() != 1 {
		t.Errorf("HealthChecks = %d", mock.HealthChecks())
	}
	mock.Close()
	if !mock.Closed() {
		t.Error("Close not recorded")
	}
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)
	ctx := context.Background()

	if _, err := mock.Synthesize(ctx, "Hello"); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if err := mock.Health(ctx); err == nil {
		t.Error("expected error")
	}
}

func TestMockDelay(t *testing.T) {
	mock := tts.NewMock()
	mock.Delay = 50 * time.Millisecond

	t.Run("waits", func(t *testing.T) {
		start := time.Now()
		if _, err := mock.Synthesize(context.Background(), "Hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("expected at least 50ms latency, got %v", elapsed)
		}
	})

	t.Run("honours context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := mock.Synthesize(ctx, "Hello"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline error, got %v", err)
		}
	})
}

func TestFunctionalOptions(t *testing.T) {
	cfg := tts.DefaultConfig()
	cfg.Apply(
		tts.WithVoice("test-voice"),
		tts.WithModel("test-model"),
		tts.WithTimeout(5*time.Second),
		tts.WithSpeed(1.25),
		tts.WithRetry(0, time.Second),
		tts.WithLogger(nil),
	)

	if cfg.VoiceID != "test-voice" {
		t.Errorf("expected voice test-voice, got %s", cfg.VoiceID)
	}
	if cfg.ModelID != "test-model" {
		t.Errorf("expected model test-model, got %s", cfg.ModelID)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.Speed != 1.25 {
		t.Errorf("expected speed 1.25, got %v", cfg.Speed)
	}
	if cfg.MaxRetries != 0 || cfg.RetryDelay != time.Second {
		t.Errorf("retry = %d, %v", cfg.MaxRetries, cfg.RetryDelay)
	}
	if cfg.Logger == nil {
		t.Error("Apply should default a nil logger")
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("Validate requires API key", func(t *testing.T) {
		cfg := tts.DefaultConfig()
		if err := cfg.Validate(); err != tts.ErrNoAPIKey {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("ValidateWithVoice requires voice", func(t *testing.T) {
		cfg := tts.DefaultConfig()
		cfg.APIKey = "test-key"
		if err := cfg.ValidateWithVoice(); err != tts.ErrNoVoiceID {
			t.Errorf("expected ErrNoVoiceID, got %v", err)
		}
	})

	t.Run("ValidateWithVoice passes with both", func(t *testing.T) {
		cfg := tts.DefaultConfig()
		cfg.APIKey = "test-key"
		cfg.VoiceID = "test-voice"
		if err := cfg.ValidateWithVoice(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestAPIError(t *testing.T) {
	t.Run("IsRateLimited", func(t *testing.T) {
		err := &tts.APIError{StatusCode: 429, Message: "rate limited"}
		if !err.IsRateLimited() {
			t.Error("expected IsRateLimited true")
		}
		if err.IsUnauthorized() {
			t.Error("expected IsUnauthorized false")
		}
	})

	t.Run("IsServerError", func(t *testing.T) {
		for _, code := range []int{500, 502, 503, 504} {
			err := &tts.APIError{StatusCode: code}
			if !err.IsServerError() || !err.IsRetryable() {
				t.Errorf("expected server error and retryable for %d", code)
			}
		}
	})

	t.Run("Error message format", func(t *testing.T) {
		err := &tts.APIError{
			StatusCode: 400,
			Message:    "bad request",
			Code:       "invalid_input",
			Provider:   "piper",
		}
		if msg := err.Error(); msg != "tts [piper]: API error 400 (invalid_input): bad request" {
			t.Errorf("unexpected error message: %s", msg)
		}
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("first provider succeeds", func(t *testing.T) {
		m1, m2 := tts.NewMock(), tts.NewMock()
		chain, err := tts.NewChain(m1, m2)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := chain.Synthesize(ctx, "hi"); err != nil {
			t.Fatal(err)
		}
		if len(m2.Texts()) != 0 {
			t.Error("second provider should not be called")
		}
	})

	t.Run("falls back and sticks", func(t *testing.T) {
		failing := tts.WithError(errors.New("down"))
		working := tts.NewMock()
		chain, _ := tts.NewChainWithLogger(nil, failing, working)

		for _, text := range []string{"one.", "two."} {
			result, err := chain.Synthesize(ctx, text)
			if err != nil || len(result.Samples) == 0 {
				t.Fatalf("Synthesize(%q) = %v, %v", text, result, err)
			}
		}
		if n := len(failing.Texts()); n != 1 {
			t.Errorf("failed provider called %d times, want 1", n)
		}
		if chain.Current() != working {
			t.Error("chain should stay on the working provider")
		}
	})

	t.Run("wraps around to the primary", func(t *testing.T) {
		var secondDown bool
		primary := tts.NewMock()
		primary.SynthesizeFunc = func(context.Context, string) (*tts.AudioResult, error) {
			if !secondDown {
				return nil, errors.New("primary down")
			}
			return &tts.AudioResult{Samples: []int16{1}, SampleRate: 16000}, nil
		}
		secondary := tts.NewMock()
		chain, _ := tts.NewChain(primary, secondary)

		if _, err := chain.Synthesize(ctx, "a"); err != nil {
			t.Fatal(err)
		}
		secondDown = true
		secondary.SynthesizeFunc = func(context.Context, string) (*tts.AudioResult, error) {
			return nil, errors.New("secondary down")
		}
		if _, err := chain.Synthesize(ctx, "b"); err != nil {
			t.Fatal(err)
		}
		if chain.Current() != primary {
			t.Error("chain should have wrapped back to the primary")
		}
	})

	t.Run("all fail", func(t *testing.T) {
		e1, e2 := errors.New("one"), errors.New("two")
		chain, _ := tts.NewChain(tts.WithError(e1), tts.WithError(e2))

		_, err := chain.Synthesize(ctx, "hi")
		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Fatalf("err = %v", err)
		}
		if !errors.Is(err, e1) || !errors.Is(err, e2) {
			t.Error("ChainError should match every provider error")
		}
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		second := tts.NewMock()
		chain, _ := tts.NewChain(tts.NewMock(), second)
		if _, err := chain.Synthesize(cctx, "hi"); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if len(second.Texts()) != 0 {
			t.Error("second provider should not be tried after cancellation")
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		if _, err := tts.NewChain(); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("health picks the first healthy", func(t *testing.T) {
		healthy := tts.NewMock()
		chain, _ := tts.NewChain(tts.WithError(errors.New("down")), healthy)
		if err := chain.Health(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if chain.Current() != healthy {
			t.Error("Health should make the healthy provider current")
		}
	})

	t.Run("close closes all", func(t *testing.T) {
		m1, m2 := tts.NewMock(), tts.NewMock()
		chain, _ := tts.NewChain(m1, m2)
		if err := chain.Close(); err != nil {
			t.Fatal(err)
		}
		if !m1.Closed() || !m2.Closed() {
			t.Error("every provider should be closed")
		}
	})
}

func TestProviderError(t *testing.T) {
	base := errors.New("connection refused")
	err := tts.WrapError("piper", base)

	var pe *tts.ProviderError
	if !errors.As(err, &pe) || pe.Provider != "piper" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match base")
	}
	if tts.WrapError("other", err) != err {
		t.Error("WrapError should not wrap twice")
	}
	if tts.WrapError("x", nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}
