// Package livetest runs an in-process stand-in for the BidiGenerateContent
// websocket endpoint.
package livetest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// ClientMessage is the union of frames a client may send.
type ClientMessage struct {
	Setup         *genai.LiveClientSetup        `json:"setup,omitempty"`
	ClientContent *genai.LiveClientContent      `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput                `json:"realtimeInput,omitempty"`
	ToolResponse  *genai.LiveClientToolResponse `json:"toolResponse,omitempty"`
}

type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// APIKey, when set, rejects connections without a matching header.
	APIKey string
	// SkipSetupComplete leaves clients waiting in the handshake.
	SkipSetupComplete bool

	conns chan *Conn
}

func NewServer() *Server {
	s := &Server{conns: make(chan *Conn, 8)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the websocket endpoint to dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
}

func (s *Server) Close() { s.srv.Close() }

// Accept returns the next connection that completed setup, or nil after
// timeout.
func (s *Server) Accept(timeout time.Duration) *Conn {
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		return nil
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.APIKey != "" && r.Header.Get("x-goog-api-key") != s.APIKey {
		http.Error(w, "invalid api key", http.StatusForbidden)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var first ClientMessage
	if err := ws.ReadJSON(&first); err != nil || first.Setup == nil {
		ws.Close()
		return
	}

	c := &Conn{
		ws:       ws,
		Setup:    *first.Setup,
		audio:    make(chan MediaChunk, 1024),
		acks:     make(chan *genai.FunctionResponse, 64),
		contents: make(chan *genai.LiveClientContent, 8),
		closed:   make(chan struct{}),
	}
	if !s.SkipSetupComplete {
		if err := c.Send(map[string]any{"setupComplete": map[string]any{}}); err != nil {
			ws.Close()
			return
		}
	}
	s.conns <- c
	c.readLoop()
}

// Conn is the server side of one client session.
type Conn struct {
	ws    *websocket.Conn
	Setup genai.LiveClientSetup

	writeMu  sync.Mutex
	audio    chan MediaChunk
	acks     chan *genai.FunctionResponse
	contents chan *genai.LiveClientContent
	closed   chan struct{}
	closeErr error
}

func (c *Conn) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeErr = err
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch {
		case msg.RealtimeInput != nil:
			for _, ch := range msg.RealtimeInput.MediaChunks {
				select {
				case c.audio <- ch:
				default:
				}
			}
		case msg.ToolResponse != nil:
			for _, r := range msg.ToolResponse.FunctionResponses {
				c.acks <- r
			}
		case msg.ClientContent != nil:
			select {
			case c.contents <- msg.ClientContent:
			default:
			}
		}
	}
}

// Send writes one JSON frame.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func serverContent(v map[string]any) map[string]any {
	return map[string]any{"serverContent": v}
}

func (c *Conn) SendInputTranscript(text string) error {
	return c.Send(serverContent(map[string]any{"inputTranscription": map[string]any{"text": text}}))
}

func (c *Conn) SendOutputTranscript(text string) error {
	return c.Send(serverContent(map[string]any{"outputTranscription": map[string]any{"text": text}}))
}

// SendAudio sends samples as one 24 kHz PCM inline-data part.
func (c *Conn) SendAudio(samples []int16) error {
	return c.SendRawAudio("audio/pcm;rate=24000", EncodePCM(samples))
}

func (c *Conn) SendRawAudio(mimeType, data string) error {
	return c.Send(serverContent(map[string]any{
		"modelTurn": map[string]any{
			"parts": []any{map[string]any{"inlineData": map[string]any{"mimeType": mimeType, "data": data}}},
		},
	}))
}

func (c *Conn) SendTurnComplete() error {
	return c.Send(serverContent(map[string]any{"turnComplete": true}))
}

func (c *Conn) SendInterrupted() error {
	return c.Send(serverContent(map[string]any{"interrupted": true}))
}

// SendToolCall invokes the moderation tool with the given reason code.
func (c *Conn) SendToolCall(id, name, reasonCode string) error {
	return c.Send(map[string]any{
		"toolCall": map[string]any{
			"functionCalls": []any{map[string]any{
				"id":   id,
				"name": name,
				"args": map[string]any{"reasonCode": reasonCode},
			}},
		},
	})
}

// CloseWith sends a close frame with code and drops the connection.
func (c *Conn) CloseWith(code int, reason string) {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	select {
	case <-c.closed:
	case <-time.After(time.Second):
	}
	c.ws.Close()
}

// Drop closes the TCP connection without a close frame.
func (c *Conn) Drop() { c.ws.Close() }

// NextAudio waits for the next audio chunk from the client.
func (c *Conn) NextAudio(timeout time.Duration) (MediaChunk, bool) {
	select {
	case ch := <-c.audio:
		return ch, true
	case <-time.After(timeout):
		return MediaChunk{}, false
	}
}

// NextAck waits for the next tool response from the client.
func (c *Conn) NextAck(timeout time.Duration) (*genai.FunctionResponse, bool) {
	select {
	case r := <-c.acks:
		return r, true
	case <-time.After(timeout):
		return nil, false
	}
}

// NextContent waits for the next clientContent turn.
func (c *Conn) NextContent(timeout time.Duration) (*genai.LiveClientContent, bool) {
	select {
	case r := <-c.contents:
		return r, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Closed is closed when the client side goes away.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// CloseErr is the read error that ended the connection; valid after Closed.
func (c *Conn) CloseErr() error { return c.closeErr }

// EncodePCM base64-encodes S16LE samples.
func EncodePCM(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
