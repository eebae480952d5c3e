package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"jobm8/encoder"
	"jobm8/log"
)

const (
	audioQueueSize = 64
	ctrlQueueSize  = 16
	closeGrace     = time.Second
)

var (
	ErrNotOpen = errors.New("live: connection not open")
	ErrClosed  = errors.New("live: connection closed")
)

// Handler receives inbound traffic. HandleEvent is called from the receive
// loop in arrival order; HandleClose is called exactly once per Conn, with
// nil for a normal close (either side) and the cause otherwise.
type Handler interface {
	HandleEvent(Event)
	HandleClose(err error)
}

type Config struct {
	APIKey   string
	Endpoint string // full websocket URL; derived from APIVersion when empty
	Dialer   *websocket.Dialer
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = Endpoint("")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		}
	}
	return &Client{cfg: cfg}
}

const (
	stateOpening int32 = iota
	stateOpen
	stateClosed
)

// Stats counts traffic on one Conn.
type Stats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	Dropped      int
	ToolAcks     int
	RecvMessages int
	RecvAudio    int
}

// Conn is one open BidiGenerateContent session.
type Conn struct {
	ws      *websocket.Conn
	handler Handler

	state   atomic.Int32
	audioCh chan []byte
	ctrlCh  chan []byte

	closing   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
	recvDone  chan struct{}
	done      chan struct{}

	mu    sync.Mutex
	stats Stats
}

// Open dials the backend, sends setup and waits for setupComplete. It is
// the only blocking step of a session; ctx bounds it. Once Open returns,
// inbound events flow to h until HandleClose.
func (c *Client) Open(ctx context.Context, setup Setup, h Handler) (*Conn, error) {
	start := time.Now()
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live endpoint: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	conn := &Conn{
		ws:       ws,
		handler:  h,
		audioCh:  make(chan []byte, audioQueueSize),
		ctrlCh:   make(chan []byte, ctrlQueueSize),
		closed:   make(chan struct{}),
		recvDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	conn.state.Store(stateOpening)

	if err := conn.handshake(ctx, setup); err != nil {
		conn.state.Store(stateClosed)
		ws.Close()
		return nil, err
	}

	conn.mu.Lock()
	conn.stats.ConnectDur = time.Since(start)
	conn.mu.Unlock()

	conn.state.Store(stateOpen)
	go conn.run()
	return conn, nil
}

func (c *Conn) handshake(ctx context.Context, setup Setup) error {
	stop := context.AfterFunc(ctx, func() {
		c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := c.writeJSON(clientMessage{Setup: setup.message()}); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("await setup complete: %w", ctxErr)
			}
			return fmt.Errorf("await setup complete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode setup reply: %w", err)
		}
		if msg.SetupComplete != nil {
			break
		}
		log.Warnf("live: ignoring message before setupComplete")
	}
	c.ws.SetReadDeadline(time.Time{})

	if setup.Opening != "" {
		opening := &genai.LiveClientContent{
			Turns:        []*genai.Content{genai.NewContentFromText(setup.Opening, genai.RoleUser)},
			TurnComplete: true,
		}
		if err := c.writeJSON(clientMessage{ClientContent: opening}); err != nil {
			return fmt.Errorf("send opening turn: %w", err)
		}
	}
	return nil
}

func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) run() {
	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return c.runSender(gctx) })
	g.Go(c.runReceiver)
	err := g.Wait()

	c.state.Store(stateClosed)
	c.ws.Close()
	if c.closing.Load() {
		err = nil
	}
	c.handler.HandleClose(err)
	close(c.done)
}

// runSender owns every write after the handshake. Tool responses go ahead
// of queued audio.
func (c *Conn) runSender(ctx context.Context) error {
	for {
		var msg []byte
		select {
		case msg = <-c.ctrlCh:
		default:
			select {
			case msg = <-c.ctrlCh:
			case msg = <-c.audioCh:
			case <-c.closed:
				c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(closeGrace))
				select {
				case <-c.recvDone:
				case <-time.After(closeGrace):
				}
				c.ws.Close()
				return nil
			case <-c.recvDone:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			if c.closing.Load() {
				return nil
			}
			return fmt.Errorf("live write: %w", err)
		}
	}
}

func (c *Conn) runReceiver() error {
	defer close(c.recvDone)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("live read: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("live decode: %w", err)
		}

		events := msg.events()
		c.mu.Lock()
		c.stats.RecvMessages++
		for _, ev := range events {
			if _, ok := ev.(Audio); ok {
				c.stats.RecvAudio++
			}
		}
		c.mu.Unlock()

		for _, ev := range events {
			c.handler.HandleEvent(ev)
		}
	}
}

// SendAudio queues one chunk. It never blocks: chunks are dropped while the
// connection is not open or when the queue is full.
func (c *Conn) SendAudio(chunk encoder.Chunk) bool {
	if c.state.Load() != stateOpen {
		return false
	}
	data, err := json.Marshal(clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []mediaChunk{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
	}})
	if err != nil {
		return false
	}
	select {
	case c.audioCh <- data:
		c.mu.Lock()
		c.stats.SentChunks++
		c.stats.SentBytes += uint64(len(chunk.PCM) * 2)
		c.mu.Unlock()
		return true
	default:
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		return false
	}
}

// SendToolResponse queues acknowledgements ahead of any pending audio.
func (c *Conn) SendToolResponse(responses ...*genai.FunctionResponse) error {
	if c.state.Load() != stateOpen {
		return ErrNotOpen
	}
	data, err := json.Marshal(clientMessage{ToolResponse: &genai.LiveClientToolResponse{
		FunctionResponses: responses,
	}})
	if err != nil {
		return fmt.Errorf("encode tool response: %w", err)
	}
	select {
	case c.ctrlCh <- data:
		c.mu.Lock()
		c.stats.ToolAcks += len(responses)
		c.mu.Unlock()
		return nil
	case <-c.closed:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	}
}

// Close ends the session with a normal close frame. Safe to call more than
// once and from any goroutine other than the Handler's HandleEvent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.state.Store(stateClosed)
		close(c.closed)
	})
	select {
	case <-c.done:
	case <-time.After(3 * closeGrace):
		log.Warn("live: connection drain timeout")
		c.ws.Close()
	}
	return nil
}

// Done is closed after HandleClose returns.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
