// Package connection implements the handle the gateway hands to the presence
// registry: one live transport session bound to exactly one user.
//
// Pushes go through a bounded FIFO drained by a single writer goroutine, so
// every connection observes pushes in enqueue order. Each push must finish
// within the push timeout measured from enqueue; a push that misses it is a
// delivery failure. Closing a connection fails everything still queued and
// rejects further pushes.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/duochat/internal/domain"
)

const (
	DefaultPushTimeout = 5 * time.Second
	DefaultSendBuffer  = 256
)

// Reason explains why a connection closed. Transports map it to their own
// close codes.
type Reason int

const (
	ReasonNormal Reason = iota
	ReasonProtocolViolation
	ReasonWriteFailed
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonProtocolViolation:
		return "protocol_violation"
	case ReasonWriteFailed:
		return "write_failed"
	case ReasonShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Transport is the raw session underneath a Conn.
type Transport interface {
	// Write sends one frame. It must give up when ctx is done.
	Write(ctx context.Context, data []byte) error
	Close(reason Reason, text string) error
}

// Options configures a Conn.
type Options struct {
	PushTimeout time.Duration
	SendBuffer  int
}

// Conn is a live connection handle.
type Conn struct {
	id          string
	userID      atomic.Pointer[string]
	transport   Transport
	pushTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex // guards closed and sends on queue
	closed bool
	queue  chan *Pending
	done   chan struct{}

	closeReason Reason
}

// New wraps transport and starts its writer goroutine.
func New(transport Transport, opts Options) *Conn {
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	c := &Conn{
		id:          uuid.NewString(),
		transport:   transport,
		pushTimeout: opts.PushTimeout,
		queue:       make(chan *Pending, opts.SendBuffer),
		done:        make(chan struct{}),
	}
	c.logger = slog.Default().With("service", "connection", "conn_id", c.id)
	go c.writeLoop()
	return c
}

// ID returns the connection's unique id.
func (c *Conn) ID() string {
	return c.id
}

// UserID returns the bound user, or "" before Bind.
func (c *Conn) UserID() string {
	if p := c.userID.Load(); p != nil {
		return *p
	}
	return ""
}

// Bind associates the connection with userID. A connection is bound at most
// once for its whole lifetime.
func (c *Conn) Bind(userID string) error {
	if userID == "" {
		return domain.Validationf("connection.bind", "user id must not be empty")
	}
	if !c.userID.CompareAndSwap(nil, &userID) {
		return domain.Validationf("connection.bind", "connection already bound to %q", c.UserID())
	}
	return nil
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Enqueue schedules data for delivery without blocking. It fails with
// ErrConnectionClosed after Close and with ErrDeliveryFailed when the send
// buffer is full.
func (c *Conn) Enqueue(data []byte) (*Pending, error) {
	p := &Pending{
		conn:     c,
		data:     data,
		deadline: time.Now().Add(c.pushTimeout),
		result:   make(chan error, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &domain.Error{Op: "connection.enqueue", Kind: domain.ErrConnectionClosed}
	}
	select {
	case c.queue <- p:
		return p, nil
	default:
		return nil, &domain.Error{Op: "connection.enqueue", Kind: domain.ErrDeliveryFailed, Message: "send buffer full"}
	}
}

// Push enqueues data and waits for the outcome.
func (c *Conn) Push(ctx context.Context, data []byte) error {
	p, err := c.Enqueue(data)
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// Close stops the connection. Queued pushes fail with ErrConnectionClosed.
// Only the first call has an effect.
func (c *Conn) Close(reason Reason, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeReason = reason
	close(c.done)
	c.mu.Unlock()

	c.logger.Debug("Connection closed", "user_id", c.UserID(), "reason", reason.String(), "text", text)
	return c.transport.Close(reason, text)
}

// CloseReason returns the reason passed to the first Close call.
func (c *Conn) CloseReason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			c.drain()
			return
		case p := <-c.queue:
			if err := c.write(p); err != nil {
				p.finish(err)
				if !errors.Is(err, domain.ErrConnectionClosed) {
					c.logger.Warn("Push failed, closing connection", "user_id", c.UserID(), "error", err)
					_ = c.Close(ReasonWriteFailed, "write failed")
				}
				continue
			}
			p.finish(nil)
		}
	}
}

func (c *Conn) write(p *Pending) error {
	if c.Closed() {
		return &domain.Error{Op: "connection.write", Kind: domain.ErrConnectionClosed}
	}
	if !time.Now().Before(p.deadline) {
		return &domain.Error{Op: "connection.write", Kind: domain.ErrDeliveryFailed, Message: "push timed out in queue"}
	}

	ctx, cancel := context.WithDeadline(context.Background(), p.deadline)
	defer cancel()

	// Closing mid-write abandons the push.
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.transport.Write(ctx, p.data); err != nil {
		if c.Closed() {
			return &domain.Error{Op: "connection.write", Kind: domain.ErrConnectionClosed, Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &domain.Error{Op: "connection.write", Kind: domain.ErrDeliveryFailed, Message: "push timed out", Err: err}
		}
		return &domain.Error{Op: "connection.write", Kind: domain.ErrDeliveryFailed, Err: err}
	}
	return nil
}

func (c *Conn) drain() {
	for {
		select {
		case p := <-c.queue:
			p.finish(&domain.Error{Op: "connection.drain", Kind: domain.ErrConnectionClosed})
		default:
			return
		}
	}
}

// Pending is a queued push.
type Pending struct {
	conn     *Conn
	data     []byte
	deadline time.Time
	result   chan error
}

// Conn returns the connection the push was queued on.
func (p *Pending) Conn() *Conn {
	return p.conn
}

func (p *Pending) finish(err error) {
	p.result <- err
}

// Wait blocks until the push completed, failed, or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case err := <-p.result:
		p.result <- err
		return err
	case <-ctx.Done():
		return &domain.Error{Op: "connection.wait", Kind: domain.ErrDeliveryFailed, Message: "gave up waiting", Err: ctx.Err()}
	}
}
