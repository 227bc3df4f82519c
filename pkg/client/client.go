// Package client is a WebSocket client for a voicelink server.
//
// Example usage:
//
//	c, _ := client.Dial(ctx, "ws://localhost:8000/ws")
//	defer c.Close()
//
//	reply, _ := c.Ask(ctx, "What's the weather like on Mars?")
//	fmt.Println(reply.Text)
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicelink/internal/log"
	"github.com/teslashibe/go-voicelink/pkg/audio"
	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// eventBuffer bounds events not yet consumed
	eventBuffer = 256

	// defaultChunk is the audio fragment size: 100ms at 16 kHz.
	defaultChunk = 1600
)

// ErrClosed is returned after the connection has gone away.
var ErrClosed = errors.New("client: connection closed")

// Option configures Dial.
type Option func(*Client)

// WithCodec selects the wire codec. The server is asked for it with
// ?codec=.
func WithCodec(c protocol.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) Option {
	return func(cl *Client) { cl.header = h }
}

// WithInputRate resamples outgoing audio to rate before sending.
func WithInputRate(rate int) Option {
	return func(cl *Client) { cl.inputRate = rate }
}

// WithChunkSize sets the number of samples per audio message.
func WithChunkSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.chunk = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// Client is one connection to a voicelink server. Send methods are safe for
// concurrent use; events are delivered in arrival order on Events.
type Client struct {
	ws        *websocket.Conn
	codec     protocol.Codec
	header    http.Header
	inputRate int
	chunk     int
	logger    *slog.Logger

	writeMu sync.Mutex

	events chan *protocol.Message
	done   chan struct{}
	quit   chan struct{}

	mu       sync.Mutex
	server   *pipeline.Capabilities
	announce chan struct{}
	readErr  error
	closed   bool
}

// Dial connects to the server at rawURL.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	c := &Client{
		codec:     protocol.JSON,
		inputRate: audio.DefaultInputRate,
		chunk:     defaultChunk,
		logger:    log.Component("client"),
		events:    make(chan *protocol.Message, eventBuffer),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
		announce:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	target, err := c.url(rawURL)
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("client: dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}
	c.ws = ws

	go c.readPump()
	return c, nil
}

func (c *Client) url(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("client: invalid url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if c.codec.Name() != protocol.JSON.Name() {
		q := u.Query()
		q.Set("codec", c.codec.Name())
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// readPump decodes frames into events until the connection fails. The
// server announcement is recorded and forwarded like any other event.
func (c *Client) readPump() {
	defer close(c.events)
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.readErr = err
			}
			c.mu.Unlock()
			return
		}
		m, err := c.codec.Unmarshal(data)
		if err != nil {
			c.logger.Warn("undecodable frame", "error", err)
			continue
		}
		if m.Type == protocol.TypeCapabilities {
			c.recordAnnouncement(m)
		}
		select {
		case c.events <- m:
		case <-c.quit:
			return
		}
	}
}

func (c *Client) recordAnnouncement(m *protocol.Message) {
	stt, llm, tts, ok := m.DeclaredCapabilities()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	first := c.server == nil
	c.server = &pipeline.Capabilities{HasSTT: stt, HasLLM: llm, HasTTS: tts}
	if first {
		close(c.announce)
	}
}

// Events returns the inbound message stream. It is closed when the
// connection ends.
func (c *Client) Events() <-chan *protocol.Message { return c.events }

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// ServerCapabilities waits for the server's announcement.
func (c *Client) ServerCapabilities(ctx context.Context) (pipeline.Capabilities, error) {
	select {
	case <-c.announce:
		c.mu.Lock()
		defer c.mu.Unlock()
		return *c.server, nil
	case <-c.done:
		return pipeline.Capabilities{}, ErrClosed
	case <-ctx.Done():
		return pipeline.Capabilities{}, ctx.Err()
	}
}

// Send writes one message.
func (c *Client) Send(m *protocol.Message) error {
	data, err := c.codec.Marshal(m)
	if err != nil {
		return err
	}
	kind := websocket.TextMessage
	if c.codec.Binary() {
		kind = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("client: send %s: %w", m.Type, err)
	}
	return nil
}

// Announce declares which stages this client performs.
func (c *Client) Announce(caps pipeline.Capabilities) error {
	return c.Send(protocol.NewCapabilitiesMessage(caps.HasSTT, caps.HasLLM, caps.HasTTS))
}

// SendAudio streams samples at rate, split into audio messages. Audio is
// resampled to the configured input rate first.
func (c *Client) SendAudio(samples []int16, rate int) error {
	if rate != c.inputRate && c.inputRate > 0 {
		resampled, err := audio.Resample(samples, rate, c.inputRate)
		if err != nil {
			return fmt.Errorf("client: resample: %w", err)
		}
		samples, rate = resampled, c.inputRate
	}
	for _, part := range audio.Split(samples, c.chunk) {
		if err := c.Send(protocol.NewAudioMessage(part, rate)); err != nil {
			return err
		}
	}
	return nil
}

// EndAudio marks the end of the current utterance.
func (c *Client) EndAudio() error {
	return c.Send(protocol.NewEndAudioMessage())
}

// SendText sends already-transcribed user input.
func (c *Client) SendText(text string) error {
	return c.Send(protocol.NewTextMessage(text))
}

// ClearHistory resets the conversation.
func (c *Client) ClearHistory() error {
	return c.Send(protocol.NewClearHistoryMessage())
}

// Reply is the collected output of one cycle.
type Reply struct {
	Transcript string
	Text       string
	Chunks     int
	Audio      []int16
	SampleRate int
	Latency    time.Duration
}

// ServerError is an error message received from the server.
type ServerError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}

// Talk sends one utterance and collects the reply.
func (c *Client) Talk(ctx context.Context, samples []int16, rate int) (*Reply, error) {
	start := time.Now()
	if err := c.SendAudio(samples, rate); err != nil {
		return nil, err
	}
	if err := c.EndAudio(); err != nil {
		return nil, err
	}
	return c.collect(ctx, start)
}

// Ask sends text and collects the reply.
func (c *Client) Ask(ctx context.Context, text string) (*Reply, error) {
	start := time.Now()
	if err := c.SendText(text); err != nil {
		return nil, err
	}
	return c.collect(ctx, start)
}

// collect consumes events until the cycle's terminal message.
func (c *Client) collect(ctx context.Context, start time.Time) (*Reply, error) {
	reply := &Reply{}
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrClosed, err)
				}
				return nil, ErrClosed
			}
			switch m.Type {
			case protocol.TypeTranscript:
				reply.Transcript = m.Text
			case protocol.TypeResponseChunk:
				reply.Chunks++
				text.WriteString(m.Text)
			case protocol.TypeAudio:
				samples, rate, err := m.Samples()
				if err != nil {
					return nil, err
				}
				if reply.SampleRate == 0 {
					reply.SampleRate = rate
				}
				// A TTS fallback can change the rate mid-reply.
				if rate != reply.SampleRate {
					if samples, err = audio.Resample(samples, rate, reply.SampleRate); err != nil {
						return nil, fmt.Errorf("client: resample reply: %w", err)
					}
				}
				reply.Audio = append(reply.Audio, samples...)
			case protocol.TypeComplete:
				reply.Text = text.String()
				reply.Latency = time.Since(start)
				return reply, nil
			case protocol.TypeError:
				return nil, &ServerError{Code: m.Code, Message: m.Message}
			}
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.quit)

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}
