package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/teslashibe/go-voicelink/pkg/audio"
)

func TestWhisperTranscribe(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "de" {
			t.Errorf("language = %q", got)
		}

		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file: %v", err)
		}
		data, _ := io.ReadAll(f)
		got, rate, err := audio.DecodeWAV(data)
		if err != nil {
			t.Fatalf("uploaded file is not WAV: %v", err)
		}
		if rate != 16000 || len(got) != len(samples) {
			t.Errorf("uploaded %d samples at %d Hz", len(got), rate)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"  hallo welt  "}`)
	}))
	defer server.Close()

	w, err := NewWhisper(WithBaseURL(server.URL+"/v1"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	result, err := w.Transcribe(context.Background(), &Request{Samples: samples, SampleRate: 16000, Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "hallo welt" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestWhisperEmptyUtterance(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	w, _ := NewWhisper(WithBaseURL(server.URL))
	result, err := w.Transcribe(context.Background(), &Request{SampleRate: 16000})
	if err != nil || result.Text != "" {
		t.Errorf("Transcribe(empty) = %+v, %v", result, err)
	}
	if calls.Load() != 0 {
		t.Error("empty utterance should not reach the backend")
	}
}

func TestWhisperInvalidRate(t *testing.T) {
	w, _ := NewWhisper(WithBaseURL("http://127.0.0.1:1"))
	_, err := w.Transcribe(context.Background(), &Request{Samples: []int16{1}})
	if !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("err = %v, want ErrInvalidAudio", err)
	}
}

func TestWhisperAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	w, _ := NewWhisper(WithBaseURL(server.URL), WithAPIKey("nope"), WithMaxRetries(0))
	_, err := w.Transcribe(context.Background(), &Request{Samples: []int16{1, 2}, SampleRate: 16000})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T %v, want *APIError", err, err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Provider != "whisper" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewWhisper(WithModel("")); !errors.Is(err, ErrNoModel) {
		t.Errorf("err = %v, want ErrNoModel", err)
	}
	if _, err := NewWhisper(WithBaseURL("")); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("err = %v, want ErrNoBaseURL", err)
	}
}
