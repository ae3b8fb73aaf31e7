package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue full")
)

const defaultPingInterval = 15 * time.Second

type Config struct {
	URL string
	// Header is sent with the handshake; see BasicAuth.
	Header http.Header
	// PingInterval defaults to 15s; negative disables pings.
	PingInterval time.Duration
	// OutQueue bounds the outbound buffer; Send drops when it is full.
	OutQueue int
	InQueue  int
	Logger   *log.Logger
}

// Client is a websocket connection to the authoritative peer. Inbound frames
// are delivered on Inbox in arrival order; Send never blocks.
type Client struct {
	conn   *websocket.Conn
	log    *log.Logger
	ping   time.Duration
	in     chan []byte
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, resp, err := d.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return newClient(conn, cfg), nil
}

// BasicAuth returns a handshake header for "user:pass" credentials. An empty
// string yields a nil header.
func BasicAuth(userPass string) (http.Header, error) {
	if userPass == "" {
		return nil, nil
	}
	if !strings.Contains(userPass, ":") {
		return nil, fmt.Errorf("auth %q: want user:pass", userPass)
	}
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(userPass)))
	return h, nil
}

func newClient(conn *websocket.Conn, cfg Config) *Client {
	outQ := cfg.OutQueue
	if outQ <= 0 {
		outQ = 64
	}
	inQ := cfg.InQueue
	if inQ <= 0 {
		inQ = 64
	}
	ping := cfg.PingInterval
	if ping == 0 {
		ping = defaultPingInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		log:    cfg.Logger,
		ping:   ping,
		in:     make(chan []byte, inQ),
		out:    make(chan []byte, outQ),
		ctx:    ctx,
		cancel: cancel,
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Inbox is closed when the connection ends; Err then reports why.
func (c *Client) Inbox() <-chan []byte { return c.in }

func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send marshals msg and queues it for the writer.
func (c *Client) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	default:
		c.logf("send queue full, dropped %d bytes", len(b))
		return ErrQueueFull
	}
}

func (c *Client) Close() error {
	c.fail(nil)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	var pings <-chan time.Time
	if c.ping > 0 {
		t := time.NewTicker(c.ping)
		defer t.Stop()
		pings = t.C
	}
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.fail(err)
				return
			}
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.in)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		select {
		case c.in <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) fail(err error) {
	closing := c.ctx.Err() != nil
	c.mu.Lock()
	if c.err == nil && err != nil && !closing {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
	if err != nil && !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logf("connection: %v", err)
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
