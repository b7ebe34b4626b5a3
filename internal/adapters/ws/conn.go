// Package ws is the websocket transport to the game server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/app"
	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

var ErrClosed = errors.New("connection closed")

type Options struct {
	SendBuffer int
	WriteWait  time.Duration
	// PingPeriod > 0 enables websocket pings and a read deadline of two periods.
	PingPeriod time.Duration
	ReadLimit  int64
	Header     http.Header
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

// Conn is a client websocket with a buffered, non-blocking send side.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

// Dial connects to addr. The pumps start with Start.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", addr, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	cctx, cancel := context.WithCancel(context.Background())
	log.Info().Str("module", "signal").Str("addr", addr).Msg("websocket open")
	return &Conn{
		conn:   ws,
		send:   make(chan core.Frame, opts.SendBuffer),
		opts:   opts,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Dialer adapts Dial for app.Session.Run.
func Dialer(opts Options) app.DialFunc {
	return func(ctx context.Context, addr string) (app.Transport, error) {
		return Dial(ctx, addr, opts)
	}
}

// Start launches the read and write pumps. onFrame runs on the read pump.
func (c *Conn) Start(onFrame func(raw []byte)) {
	go c.writePump()
	go c.readPump(onFrame)
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Done is closed when the read pump exits.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err is the failure that ended the connection, nil after a local Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) fail(err error) {
	c.mu.RLock()
	local := c.closed
	c.mu.RUnlock()
	if local {
		return
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

var _ app.Transport = (*Conn)(nil)
