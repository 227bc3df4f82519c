package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/adapter"
	"github.com/teslashibe/go-voicelink/pkg/metrics"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
	"github.com/teslashibe/go-voicelink/pkg/session"
)

type testServer struct {
	srv *Server
	url string
}

func startServer(t *testing.T, slots pipeline.Slots, mutate func(*Config, *session.HandlerConfig)) *testServer {
	t.Helper()

	m := metrics.New()
	hcfg := session.HandlerConfig{
		Slots:           slots,
		PipelineOptions: []pipeline.Option{pipeline.WithSystemPrompt("sys"), pipeline.WithLogger(log.Discard()), pipeline.WithObserver(m)},
		Observer:        m,
		Logger:          log.Discard(),
	}
	cfg := Config{Version: "test"}
	if mutate != nil {
		mutate(&cfg, &hcfg)
	}
	handler := session.NewHandler(hcfg)
	if err := handler.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	srv := New(cfg, handler, m, log.Discard())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &testServer{srv: srv, url: "ws://" + ln.Addr().String() + "/ws"}
}

func (ts *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := ts.url
	if query != "" {
		url += "?" + query
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn, codec protocol.Codec) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if codec.Binary() != (kind == websocket.BinaryMessage) {
		t.Errorf("frame kind %d does not match codec %s", kind, codec.Name())
	}
	m, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return m
}

func send(t *testing.T, ws *websocket.Conn, codec protocol.Codec, m *protocol.Message) {
	t.Helper()
	data, err := codec.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	kind := websocket.TextMessage
	if codec.Binary() {
		kind = websocket.BinaryMessage
	}
	if err := ws.WriteMessage(kind, data); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

// readCycle reads until a terminal message and returns the types seen.
func readCycle(t *testing.T, ws *websocket.Conn, codec protocol.Codec) ([]*protocol.Message, string) {
	t.Helper()
	var msgs []*protocol.Message
	var types []string
	for {
		m := read(t, ws, codec)
		msgs = append(msgs, m)
		types = append(types, string(m.Type))
		if m.Type.Terminal() {
			return msgs, strings.Join(types, ",")
		}
	}
}

func expectAnnouncement(t *testing.T, ws *websocket.Conn, codec protocol.Codec, want pipeline.Capabilities) {
	t.Helper()
	m := read(t, ws, codec)
	if m.Type != protocol.TypeCapabilities {
		t.Fatalf("first message = %s, want capabilities", m.Type)
	}
	stt, llm, tts, ok := m.DeclaredCapabilities()
	if !ok || stt != want.HasSTT || llm != want.HasLLM || tts != want.HasTTS {
		t.Errorf("announcement = %v %v %v, want %s", stt, llm, tts, want)
	}
}

func TestTextCycle(t *testing.T) {
	slots := pipeline.Slots{LLM: adapter.NewMockLLM("Hello ", "world."), TTS: adapter.NewMockTTS()}
	ts := startServer(t, slots, nil)
	ws := ts.dial(t, "")

	expectAnnouncement(t, ws, protocol.JSON, slots.Capabilities())
	send(t, ws, protocol.JSON, protocol.NewTextMessage("hi"))

	msgs, types := readCycle(t, ws, protocol.JSON)
	if types != "response_chunk,response_chunk,audio,complete" {
		t.Fatalf("types = %s", types)
	}
	if msgs[0].Text != "Hello " || msgs[1].Text != "world." {
		t.Errorf("chunks = %q %q", msgs[0].Text, msgs[1].Text)
	}
	if msgs[2].SampleRate != 22050 || msgs[2].Data == "" {
		t.Errorf("audio = rate %d, %d bytes", msgs[2].SampleRate, len(msgs[2].Data))
	}
}

func TestAudioCycle(t *testing.T) {
	stt := adapter.NewMockSTT("what time is it")
	slots := pipeline.Slots{STT: stt, LLM: adapter.NewMockLLM("Noon."), TTS: adapter.NewMockTTS()}
	ts := startServer(t, slots, nil)
	ws := ts.dial(t, "")

	expectAnnouncement(t, ws, protocol.JSON, slots.Capabilities())
	send(t, ws, protocol.JSON, protocol.NewAudioMessage(make([]int16, 800), 16000))
	send(t, ws, protocol.JSON, protocol.NewAudioMessage(make([]int16, 800), 16000))
	send(t, ws, protocol.JSON, protocol.NewEndAudioMessage())

	msgs, types := readCycle(t, ws, protocol.JSON)
	if types != "transcript,response_chunk,audio,complete" {
		t.Fatalf("types = %s", types)
	}
	if msgs[0].Text != "what time is it" {
		t.Errorf("transcript = %q", msgs[0].Text)
	}
	got := stt.Received()
	if len(got) != 1 || len(got[0]) != 1600 {
		t.Errorf("utterance lengths = %d", len(got))
	}
}

func TestMsgpackCodec(t *testing.T) {
	slots := pipeline.Slots{LLM: adapter.NewMockLLM("ok")}
	ts := startServer(t, slots, nil)
	ws := ts.dial(t, "codec=msgpack")

	expectAnnouncement(t, ws, protocol.Msgpack, slots.Capabilities())
	send(t, ws, protocol.Msgpack, protocol.NewTextMessage("hi"))
	if _, types := readCycle(t, ws, protocol.Msgpack); types != "response_chunk,complete" {
		t.Fatalf("types = %s", types)
	}
}

func TestUnknownCodec(t *testing.T) {
	ts := startServer(t, pipeline.Slots{LLM: adapter.NewMockLLM("ok")}, nil)
	ws := ts.dial(t, "codec=xml")

	m := read(t, ws, protocol.JSON)
	if m.Type != protocol.TypeError || m.Code != protocol.CodeProtocol {
		t.Fatalf("got %s/%s, want protocol error", m.Type, m.Code)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Errorf("expected close 1003, got %v", err)
	}
}

func TestMalformedFrameKeepsSession(t *testing.T) {
	ts := startServer(t, pipeline.Slots{LLM: adapter.NewMockLLM("ok")}, nil)
	ws := ts.dial(t, "")
	read(t, ws, protocol.JSON) // announcement

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	m := read(t, ws, protocol.JSON)
	if m.Type != protocol.TypeError || m.Code != protocol.CodeProtocol {
		t.Fatalf("got %s/%s, want protocol error", m.Type, m.Code)
	}

	send(t, ws, protocol.JSON, protocol.NewTextMessage("still there?"))
	if _, types := readCycle(t, ws, protocol.JSON); types != "response_chunk,complete" {
		t.Fatalf("types = %s", types)
	}
}

func TestMessagesHandledInOrder(t *testing.T) {
	llm := adapter.NewMockLLM("done")
	llm.Delay = 20 * time.Millisecond
	ts := startServer(t, pipeline.Slots{LLM: llm}, nil)
	ws := ts.dial(t, "")
	read(t, ws, protocol.JSON)

	// The second message arrives while the first cycle runs and must wait.
	send(t, ws, protocol.JSON, protocol.NewTextMessage("one"))
	send(t, ws, protocol.JSON, protocol.NewTextMessage("two"))

	for i := 0; i < 2; i++ {
		if _, types := readCycle(t, ws, protocol.JSON); types != "response_chunk,complete" {
			t.Fatalf("cycle %d types = %s", i, types)
		}
	}
	hist := llm.Histories()
	if len(hist) != 2 || hist[1][len(hist[1])-2].Content != "done" {
		t.Errorf("second cycle did not see the first response: %+v", hist)
	}
}

func TestMaxSessions(t *testing.T) {
	ts := startServer(t, pipeline.Slots{LLM: adapter.NewMockLLM("ok")}, func(c *Config, h *session.HandlerConfig) {
		h.MaxSessions = 1
	})
	first := ts.dial(t, "")
	read(t, first, protocol.JSON)

	second := ts.dial(t, "")
	m := read(t, second, protocol.JSON)
	if m.Type != protocol.TypeError {
		t.Fatalf("second session got %s, want error", m.Type)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("second connection left open")
	}
}

func TestDisconnectClosesSession(t *testing.T) {
	ts := startServer(t, pipeline.Slots{LLM: adapter.NewMockLLM("ok")}, nil)
	ws := ts.dial(t, "")
	read(t, ws, protocol.JSON)
	if n := ts.srv.handler.Count(); n != 1 {
		t.Fatalf("sessions = %d", n)
	}

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ts.srv.handler.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not closed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	ts := startServer(t, pipeline.Slots{LLM: adapter.NewMockLLM("ok")}, nil)
	ws := ts.dial(t, "")
	read(t, ws, protocol.JSON)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ts.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func newHTTPServer(t *testing.T) *Server {
	t.Helper()
	m := metrics.New()
	handler := session.NewHandler(session.HandlerConfig{
		Slots:    pipeline.Slots{LLM: adapter.NewMockLLM("ok")},
		Observer: m,
		Logger:   log.Discard(),
	})
	if err := handler.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(Config{Version: "1.2.3"}, handler, m, log.Discard())
}

func TestHealth(t *testing.T) {
	srv := newHTTPServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Ready    bool   `json:"ready"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Version != "1.2.3" || !body.Ready || body.Sessions != 0 {
		t.Errorf("body = %+v", body)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
}

func TestCapabilitiesEndpoint(t *testing.T) {
	srv := newHTTPServer(t)
	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/capabilities", nil))
	if err != nil {
		t.Fatal(err)
	}
	var info session.HandlerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Capabilities.HasSTT || !info.Capabilities.HasLLM || info.Capabilities.HasTTS {
		t.Errorf("capabilities = %s", info.Capabilities)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	srv := newHTTPServer(t)
	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/sessions", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newHTTPServer(t)
	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "voicelink_active_sessions") {
		t.Error("metrics exposition missing voicelink series")
	}
}

func TestUpgradeRequired(t *testing.T) {
	srv := newHTTPServer(t)
	resp, err := srv.App().Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
